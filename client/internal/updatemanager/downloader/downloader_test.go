package downloader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerdesk/tickerdesk/client/internal/updatemanager/feed"
)

func testArchive() []byte {
	return bytes.Repeat([]byte("tickerdesk update payload "), 2048)
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// serveRelease spins up a server exposing the archive and optionally a hash
// sidecar, and returns the release descriptor pointing at it.
func serveRelease(t *testing.T, archive []byte, sidecar, body string) (*feed.Release, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tickerdesk.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(archive)))
		_, _ = w.Write(archive)
	})
	if sidecar != "" {
		mux.HandleFunc("/sha256.txt", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(sidecar))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	release := &feed.Release{
		TagName: "v2.1.0",
		Body:    body,
		Assets: []feed.Asset{
			{Name: "tickerdesk.zip", BrowserDownloadURL: srv.URL + "/tickerdesk.zip", Size: int64(len(archive))},
		},
	}
	if sidecar != "" {
		release.Assets = append(release.Assets, feed.Asset{Name: "sha256.txt", BrowserDownloadURL: srv.URL + "/sha256.txt"})
	}
	return release, srv
}

func TestDownloadVerifiedBySidecar(t *testing.T) {
	archive := testArchive()
	release, _ := serveRelease(t, archive, digestOf(archive)+"  tickerdesk.zip\n", "")

	var lastPercent int32
	pkg, err := Download(context.Background(), release, Options{
		TempDir:    t.TempDir(),
		OnProgress: func(p int) { atomic.StoreInt32(&lastPercent, int32(p)) },
	})
	require.NoError(t, err)

	assert.True(t, pkg.Verified)
	assert.Equal(t, digestOf(archive), pkg.ActualHash)
	assert.EqualValues(t, 100, atomic.LoadInt32(&lastPercent))

	got, err := os.ReadFile(pkg.Path)
	require.NoError(t, err)
	assert.Equal(t, archive, got)
}

func TestDownloadVerifiedByChangelogBody(t *testing.T) {
	archive := testArchive()
	body := fmt.Sprintf("release notes\n\nSHA256: `%s`\n", strings.ToUpper(digestOf(archive)))
	release, _ := serveRelease(t, archive, "", body)

	pkg, err := Download(context.Background(), release, Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, pkg.Verified)
}

func TestDownloadHashMismatchDeletesFile(t *testing.T) {
	archive := testArchive()
	wrong := digestOf(append(testArchive(), 'x'))
	release, _ := serveRelease(t, archive, wrong, "")

	tempDir := t.TempDir()
	_, err := Download(context.Background(), release, Options{TempDir: tempDir})
	assert.ErrorIs(t, err, ErrHashMismatch)

	entries, readErr := os.ReadDir(tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "a rejected package must not stay on disk")
}

func TestDownloadUnverifiedWithoutHash(t *testing.T) {
	archive := testArchive()
	release, _ := serveRelease(t, archive, "", "notes without digest")

	pkg, err := Download(context.Background(), release, Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	assert.False(t, pkg.Verified)
	assert.Empty(t, pkg.ExpectedHash)
	assert.NotEmpty(t, pkg.ActualHash)
}

func TestDownloadCancelLeavesNoResidue(t *testing.T) {
	archive := testArchive()
	release, _ := serveRelease(t, archive, "", "")

	tempDir := t.TempDir()
	var sawProgress atomic.Bool
	_, err := Download(context.Background(), release, Options{
		TempDir:     tempDir,
		OnProgress:  func(int) { sawProgress.Store(true) },
		IsCancelled: func() bool { return sawProgress.Load() },
	})
	assert.ErrorIs(t, err, ErrCancelled)

	entries, readErr := os.ReadDir(tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "cancellation must remove the partial file and its directory")
}

func TestDownloadStalledTransferTimesOut(t *testing.T) {
	// announces a body and then never sends it
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	release := &feed.Release{
		TagName: "v2.1.0",
		Assets:  []feed.Asset{{Name: "tickerdesk.zip", BrowserDownloadURL: srv.URL + "/tickerdesk.zip"}},
	}

	tempDir := t.TempDir()
	start := time.Now()
	_, err := Download(context.Background(), release, Options{
		TempDir: tempDir,
		Timeout: 300 * time.Millisecond,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(start), 5*time.Second)

	entries, readErr := os.ReadDir(tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "a timed out transfer must not stay on disk")
}

func TestDownloadMirrorFallback(t *testing.T) {
	archive := testArchive()

	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer mirror.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	release := &feed.Release{
		TagName: "v2.1.0",
		Assets:  []feed.Asset{{Name: "tickerdesk.zip", BrowserDownloadURL: dead.URL + "/tickerdesk.zip"}},
	}

	pkg, err := Download(context.Background(), release, Options{
		TempDir:      t.TempDir(),
		MirrorPrefix: mirror.URL + "/",
	})
	require.NoError(t, err)
	assert.Equal(t, digestOf(archive), pkg.ActualHash)
}

func TestFileSHA256FlippedByteChangesDigest(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/pkg.bin"
	data := testArchive()
	require.NoError(t, os.WriteFile(path, data, 0o644))

	before, err := FileSHA256(path)
	require.NoError(t, err)
	assert.True(t, HashEqual(before, strings.ToUpper(digestOf(data))))

	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	after, err := FileSHA256(path)
	require.NoError(t, err)
	assert.False(t, HashEqual(before, after))
}
