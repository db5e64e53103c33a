package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tickerdesk/tickerdesk/client/internal/updatemanager/feed"
)

const (
	userAgent = "tickerdesk agent installer/%s"

	// one progress/cancellation poll per chunk
	chunkSize = 8 * 1024

	// a hash sidecar is one hex digest plus noise at most
	hashSidecarLimit = 4 * 1024

	// defaultTimeout bounds a transfer when the caller sets none; a stalled
	// connection must fail, not hang
	defaultTimeout = 30 * time.Second
)

var (
	// ErrCancelled reports a user cancellation. It is an outcome, not a
	// failure: the partial file and its temp directory are already removed
	// when it is returned.
	ErrCancelled = errors.New("download cancelled")

	// ErrHashMismatch reports that the downloaded bytes do not match the
	// server-announced digest. Always fatal, the file is deleted before it
	// is returned.
	ErrHashMismatch = errors.New("package hash mismatch")
)

// Package is the downloaded update archive. It is owned exclusively by the
// caller until hand-off and deleted after a successful swap.
type Package struct {
	Path         string
	ExpectedHash string
	ActualHash   string
	Verified     bool
}

// Options tunes a single download. OnProgress and IsCancelled are invoked
// from the downloading goroutine; UI implementations must marshal to their
// own thread.
type Options struct {
	// OnProgress receives bytesRead/contentLength in percent. Never called
	// when the server does not announce a content length.
	OnProgress func(percent int)

	// IsCancelled is polled once per chunk.
	IsCancelled func() bool

	// MirrorPrefix is prepended to the asset URL after a primary network
	// failure, exactly as the release feed does.
	MirrorPrefix string

	// TempDir overrides the parent of the per-download temp directory.
	TempDir string

	// ClientVersion goes into the User-Agent header.
	ClientVersion string

	// Timeout bounds the whole transfer. A stuck connection fails the
	// download rather than hanging. Zero selects a 30s default.
	Timeout time.Duration
}

// Download streams the release's archive asset to a temp file in fixed-size
// chunks and then verifies it. The expected hash is resolved in order: the
// sha256.txt sidecar asset, a SHA256 pattern embedded in the changelog body,
// none. A mismatch deletes the file and fails; a missing hash yields an
// unverified package the caller must not install without explicit consent.
func Download(ctx context.Context, release *feed.Release, opts Options) (*Package, error) {
	asset, err := release.ArchiveAsset()
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tempDir, err := os.MkdirTemp(opts.TempDir, "tickerdesk-update-*")
	if err != nil {
		return nil, fmt.Errorf("error creating temporary directory: %w", err)
	}

	var success bool
	defer func() {
		if !success {
			if err := os.RemoveAll(tempDir); err != nil {
				log.Errorf("error cleaning up temporary directory: %v", err)
			}
		}
	}()

	dstFile := filepath.Join(tempDir, asset.Name)
	if err := streamToFile(ctx, asset.BrowserDownloadURL, dstFile, opts); err != nil {
		return nil, err
	}

	pkg := &Package{Path: dstFile}

	pkg.ExpectedHash = resolveExpectedHash(ctx, release, opts)
	pkg.ActualHash, err = FileSHA256(dstFile)
	if err != nil {
		return nil, fmt.Errorf("failed to hash downloaded package: %w", err)
	}

	if pkg.ExpectedHash != "" {
		if !HashEqual(pkg.ExpectedHash, pkg.ActualHash) {
			log.Errorf("hash mismatch for %s: expected %s, got %s", dstFile, pkg.ExpectedHash, pkg.ActualHash)
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, pkg.ExpectedHash, pkg.ActualHash)
		}
		pkg.Verified = true
		log.Infof("package hash verified: %s", pkg.ActualHash)
	} else {
		log.Warnf("release %s announces no package hash, integrity can not be verified", release.TagName)
	}

	success = true
	return pkg, nil
}

func streamToFile(ctx context.Context, url, dstFile string, opts Options) error {
	log.Debugf("starting download from %s", url)

	out, err := os.Create(dstFile)
	if err != nil {
		return fmt.Errorf("failed to create destination file %q: %w", dstFile, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", dstFile, cerr)
		}
	}()

	resp, err := get(ctx, url, opts)
	if err != nil {
		if opts.MirrorPrefix == "" {
			return err
		}
		log.Warnf("download failed, retrying via mirror: %v", err)
		resp, err = get(ctx, opts.MirrorPrefix+url, opts)
		if err != nil {
			return fmt.Errorf("download failed after mirror retry: %w", err)
		}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	contentLength := resp.ContentLength
	var read int64
	buf := make([]byte, chunkSize)

	for {
		if opts.IsCancelled != nil && opts.IsCancelled() {
			log.Infof("download of %s cancelled by the user", url)
			return ErrCancelled
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write response body to file: %w", writeErr)
			}
			read += int64(n)
			if contentLength > 0 && opts.OnProgress != nil {
				opts.OnProgress(int(read * 100 / contentLength))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read response body: %w", readErr)
		}
	}

	log.Infof("successfully downloaded %d bytes to %s", read, dstFile)
	return nil
}

func get(ctx context.Context, url string, opts Options) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, opts.ClientVersion))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}
	return resp, nil
}
