package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/tickerdesk/tickerdesk/client/internal/updatemanager/feed"
)

// changelog bodies may carry the digest as "SHA256: <64 hex>", optionally
// backtick-quoted
var bodyHashRegexp = regexp.MustCompile("SHA256:\\s*`?([a-fA-F0-9]{64})`?")

// FileSHA256 computes the hex digest of a file's contents.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", path, cerr)
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashEqual compares two hex digests case-insensitively.
func HashEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// resolveExpectedHash looks for the server-announced digest: the detached
// sidecar asset wins, then a pattern in the changelog body. File first, then
// text pattern, matching what existing release feeds already publish. An
// empty result means the release is unverifiable.
func resolveExpectedHash(ctx context.Context, release *feed.Release, opts Options) string {
	if sidecar := release.HashAsset(); sidecar != nil {
		digest, err := fetchSidecarHash(ctx, sidecar.BrowserDownloadURL, opts)
		if err != nil {
			log.Warnf("failed to download hash sidecar: %v", err)
		} else if digest != "" {
			return digest
		}
	}

	if m := bodyHashRegexp.FindStringSubmatch(release.Body); m != nil {
		return m[1]
	}

	return ""
}

func fetchSidecarHash(ctx context.Context, url string, opts Options) (string, error) {
	resp, err := get(ctx, url, opts)
	if err != nil {
		if opts.MirrorPrefix == "" {
			return "", err
		}
		resp, err = get(ctx, opts.MirrorPrefix+url, opts)
		if err != nil {
			return "", err
		}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, hashSidecarLimit))
	if err != nil {
		return "", fmt.Errorf("failed to read hash sidecar: %w", err)
	}

	digest := strings.TrimSpace(string(data))
	// tolerate "digest  filename" checksum-file shapes
	if i := strings.IndexAny(digest, " \t\n"); i > 0 {
		digest = digest[:i]
	}
	if len(digest) != 64 {
		return "", fmt.Errorf("hash sidecar holds no sha256 digest")
	}
	return digest, nil
}
