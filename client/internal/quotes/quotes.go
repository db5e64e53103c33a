package quotes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

const (
	defaultEndpoint = "https://hq.sinajs.cn/list="
	maxResponseSize = 1 << 20

	cacheTTL        = 3 * time.Second
	cacheCleanupTTL = time.Minute
)

// Quote is a single stock snapshot.
type Quote struct {
	Code       string
	Name       string
	Open       float64
	PrevClose  float64
	Price      float64
	High       float64
	Low        float64
	Date       string
	Time       string
}

// Change is the absolute move against the previous close.
func (q Quote) Change() float64 {
	return q.Price - q.PrevClose
}

// ChangePercent is the relative move against the previous close.
func (q Quote) ChangePercent() float64 {
	if q.PrevClose == 0 {
		return 0
	}
	return (q.Price - q.PrevClose) / q.PrevClose * 100
}

// quoteLineRegexp matches one line of the batch payload:
// var hq_str_sh600000="name,open,prev,price,high,low,...";
var quoteLineRegexp = regexp.MustCompile(`var hq_str_(\w+)="([^"]*)"`)

// Service fetches quotes in batches and caches them briefly so a redraw does
// not hammer the upstream.
type Service struct {
	endpoint   string
	httpClient *http.Client
	cache      *gocache.Cache
}

// NewService creates a quote service. An empty endpoint selects the default
// upstream.
func NewService(endpoint string) *Service {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Service{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      gocache.New(cacheTTL, cacheCleanupTTL),
	}
}

// Fetch returns quotes for the given codes. Codes still fresh in the cache
// are served from it; the rest go upstream in one batch request. Codes the
// upstream does not know are silently absent from the result.
func (s *Service) Fetch(ctx context.Context, codes []string) ([]Quote, error) {
	result := make([]Quote, 0, len(codes))
	var missing []string
	for _, code := range codes {
		if cached, ok := s.cache.Get(code); ok {
			result = append(result, cached.(Quote))
			continue
		}
		missing = append(missing, code)
	}
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := s.fetchBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, q := range fetched {
		s.cache.Set(q.Code, q, gocache.DefaultExpiration)
		result = append(result, q)
	}
	return result, nil
}

func (s *Service) fetchBatch(ctx context.Context, codes []string) ([]Quote, error) {
	url := s.endpoint + strings.Join(codes, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	// the upstream rejects requests without a browser-ish referer
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read quote payload: %w", err)
	}

	return parsePayload(string(data)), nil
}

// parsePayload extracts every well-formed quote line and skips the rest.
func parsePayload(payload string) []Quote {
	matches := quoteLineRegexp.FindAllStringSubmatch(payload, -1)
	quotes := make([]Quote, 0, len(matches))
	for _, match := range matches {
		q, err := parseFields(match[1], match[2])
		if err != nil {
			log.Debugf("skipping quote line for %s: %v", match[1], err)
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes
}

func parseFields(code, body string) (Quote, error) {
	fields := strings.Split(body, ",")
	if len(fields) < 6 {
		return Quote{}, fmt.Errorf("short quote line, %d fields", len(fields))
	}

	nums := make([]float64, 5)
	for i := range nums {
		val, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return Quote{}, fmt.Errorf("bad numeric field %d: %w", i+1, err)
		}
		nums[i] = val
	}

	q := Quote{
		Code:      code,
		Name:      fields[0],
		Open:      nums[0],
		PrevClose: nums[1],
		Price:     nums[2],
		High:      nums[3],
		Low:       nums[4],
	}
	if len(fields) >= 32 {
		q.Date = fields[30]
		q.Time = fields[31]
	}
	return q, nil
}
