package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultAPIBase = "https://api.github.com"
	userAgent      = "tickerdesk-updater/%s"

	// release payloads are small; anything bigger is not ours
	maxResponseSize = 1 << 20
)

// ErrRateLimited signals that the release feed rejected the request with a
// rate-limit status. Distinct from a plain network failure so the caller can
// hint the user to configure an API token.
var ErrRateLimited = errors.New("release feed rate limited, configure an API token to raise the limit")

// Release mirrors the fields of the releases/latest payload the updater needs.
// It is created per check and discarded after the upgrade decision.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"published_at"`
	Body        string    `json:"body"`
	Assets      []Asset   `json:"assets"`
}

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

const (
	archiveSuffix   = ".zip"
	hashSidecarName = "sha256.txt"
)

// ArchiveAsset returns the single asset that is the update package, matched
// by extension.
func (r *Release) ArchiveAsset() (*Asset, error) {
	for i := range r.Assets {
		if strings.HasSuffix(strings.ToLower(r.Assets[i].Name), archiveSuffix) {
			return &r.Assets[i], nil
		}
	}
	return nil, fmt.Errorf("release %s has no %s asset", r.TagName, archiveSuffix)
}

// HashAsset returns the detached hash sidecar, or nil when the release ships
// without one.
func (r *Release) HashAsset() *Asset {
	for i := range r.Assets {
		if r.Assets[i].Name == hashSidecarName {
			return &r.Assets[i]
		}
	}
	return nil
}

// Client fetches release metadata from a primary endpoint with a single
// mirror retry. No further retries: checks are low-frequency and often
// user-initiated.
type Client struct {
	apiBase      string
	repo         string
	mirrorPrefix string
	token        string
	version      string
	httpClient   *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIBase overrides the feed API base URL.
func WithAPIBase(apiBase string) Option {
	return func(c *Client) { c.apiBase = strings.TrimSuffix(apiBase, "/") }
}

// WithMirrorPrefix sets the mirror base prepended to the primary URL on
// network failure.
func WithMirrorPrefix(prefix string) Option {
	return func(c *Client) { c.mirrorPrefix = prefix }
}

// WithToken sets the API token sent with every feed request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a release feed client for the given "owner/repo".
func NewClient(repo, clientVersion string, opts ...Option) *Client {
	c := &Client{
		apiBase:    defaultAPIBase,
		repo:       repo,
		version:    clientVersion,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchLatest returns the latest published release. A network failure on the
// primary endpoint is retried exactly once through the mirror prefix; a
// rate-limit response is surfaced as ErrRateLimited without touching the
// mirror, since the mirror proxies the same backend.
func (c *Client) FetchLatest(ctx context.Context) (*Release, error) {
	primaryURL := fmt.Sprintf("%s/repos/%s/releases/latest", c.apiBase, c.repo)

	release, err := c.fetchOnce(ctx, primaryURL)
	if err == nil {
		return release, nil
	}
	if errors.Is(err, ErrRateLimited) || c.mirrorPrefix == "" {
		return nil, err
	}

	log.Warnf("release feed request failed, retrying via mirror: %v", err)
	release, mirrorErr := c.fetchOnce(ctx, c.mirrorPrefix+primaryURL)
	if mirrorErr != nil {
		return nil, fmt.Errorf("release feed unreachable (mirror: %v): %w", mirrorErr, err)
	}
	return release, nil
}

func (c *Client) fetchOnce(ctx context.Context, url string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, c.version))
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var release Release
	if err := json.Unmarshal(data, &release); err != nil {
		return nil, fmt.Errorf("failed to decode release payload: %w", err)
	}
	if release.TagName == "" {
		return nil, fmt.Errorf("release payload misses tag_name")
	}

	return &release, nil
}
