package fetch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// maxResponseBodyBytes limits the size of fetched page responses.
const maxResponseBodyBytes = 10 * 1024 * 1024 // 10 MB

// HTTPFetcherConfig configures the raw HTTP fetcher.
type HTTPFetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
	// MaxJSONBytes bounds recorded JSON payloads.
	MaxJSONBytes int
}

// HTTPFetcher fetches pages with a plain HTTP client. JSON responses are
// additionally recorded as classified payloads so the network extractor
// can mine them.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	recorder  *Recorder
	now       func() time.Time
}

// NewHTTPFetcher creates an HTTP fetcher.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		recorder:  NewRecorder(cfg.MaxJSONBytes),
		now:       time.Now,
	}
}

// Mode returns http.
func (f *HTTPFetcher) Mode() domain.FetchMode { return domain.ModeHTTP }

// Start is a no-op; the client needs no warmup.
func (f *HTTPFetcher) Start(ctx context.Context) error { return nil }

// Stop closes idle connections.
func (f *HTTPFetcher) Stop(ctx context.Context) error {
	f.client.CloseIdleConnections()
	return nil
}

// Fetch performs a GET for the source URL. Transport errors are reported
// in the result with status 0.
func (f *HTTPFetcher) Fetch(ctx context.Context, source domain.Source) (*domain.FetchResult, error) {
	start := f.now()

	result := &domain.FetchResult{
		URL:       source.URL,
		FinalURL:  source.URL,
		Mode:      domain.ModeHTTP,
		FetchedAt: start,
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, http.NoBody)
	if reqErr != nil {
		result.Error = reqErr.Error()
		return result, nil
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, doErr := f.client.Do(req)
	if doErr != nil {
		result.Error = doErr.Error()
		result.ElapsedMs = f.now().Sub(start).Milliseconds()
		return result, nil
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	result.ElapsedMs = f.now().Sub(start).Milliseconds()

	result.Status = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")
	if resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}

	if readErr != nil {
		result.Error = readErr.Error()
		return result, nil
	}

	result.Body = body
	result.Bytes = len(body)

	// JSON endpoints double as network payloads for the miner.
	if strings.Contains(result.ContentType, "json") {
		result.Responses = append(result.Responses, f.recorder.Record(
			source.URL, http.MethodGet, resp.StatusCode, result.ContentType, body,
		))
	}

	return result, nil
}
