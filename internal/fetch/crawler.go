package fetch

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	colly "github.com/gocolly/colly/v2"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/logger"
)

// CrawlerFetcherConfig configures the colly-backed crawler fetcher.
type CrawlerFetcherConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	// PostLoadWait pauses after the page response before returning, giving
	// same-page JSON subresources time to land in the recorder.
	PostLoadWait time.Duration
	MaxJSONBytes int
}

// CrawlerFetcher fetches with a colly collector. Unlike the raw HTTP
// fetcher it follows same-host JSON subresources referenced by the page
// and records them as classified payloads.
type CrawlerFetcher struct {
	cfg      CrawlerFetcherConfig
	recorder *Recorder
	log      logger.Interface
	now      func() time.Time

	mu        sync.Mutex
	collector *colly.Collector
	started   bool
}

// maxJSONSubresources bounds how many JSON links a single page fetch follows.
const maxJSONSubresources = 5

// NewCrawlerFetcher creates a crawler fetcher.
func NewCrawlerFetcher(cfg CrawlerFetcherConfig, log logger.Interface) *CrawlerFetcher {
	return &CrawlerFetcher{
		cfg:      cfg,
		recorder: NewRecorder(cfg.MaxJSONBytes),
		log:      log.WithComponent("crawler_fetcher"),
		now:      time.Now,
	}
}

// Mode returns crawler.
func (f *CrawlerFetcher) Mode() domain.FetchMode { return domain.ModeCrawler }

// Start builds the collector.
func (f *CrawlerFetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return nil
	}

	f.collector = colly.NewCollector(
		colly.UserAgent(f.cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(), // robots compliance is enforced upstream by the policy layer
	)
	f.collector.SetRequestTimeout(f.cfg.RequestTimeout)
	f.started = true

	return nil
}

// Stop waits for in-flight collector requests.
func (f *CrawlerFetcher) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.collector != nil {
		f.collector.Wait()
	}
	f.started = false

	return nil
}

// Fetch visits the source URL, capturing the page body and any same-host
// JSON subresources the page links to.
func (f *CrawlerFetcher) Fetch(ctx context.Context, source domain.Source) (*domain.FetchResult, error) {
	f.mu.Lock()
	if !f.started || f.collector == nil {
		f.mu.Unlock()
		return nil, ErrNoResult
	}
	collector := f.collector.Clone()
	f.mu.Unlock()

	start := f.now()
	result := &domain.FetchResult{
		URL:       source.URL,
		FinalURL:  source.URL,
		Mode:      domain.ModeCrawler,
		FetchedAt: start,
	}

	var resultMu sync.Mutex
	jsonLinks := make([]string, 0, maxJSONSubresources)

	collector.OnResponse(func(r *colly.Response) {
		resultMu.Lock()
		defer resultMu.Unlock()

		requested := r.Request.URL.String()
		if requested == source.URL || result.Body == nil && r.Request.ID == 1 {
			result.Status = r.StatusCode
			result.ContentType = r.Headers.Get("Content-Type")
			result.Body = r.Body
			result.Bytes = len(r.Body)
			result.FinalURL = requested
			return
		}

		// Subresource payload.
		result.Responses = append(result.Responses, f.recorder.Record(
			requested, http.MethodGet, r.StatusCode, r.Headers.Get("Content-Type"), r.Body,
		))
	})

	collector.OnError(func(r *colly.Response, visitErr error) {
		resultMu.Lock()
		defer resultMu.Unlock()

		if r.Request.URL.String() != source.URL {
			return
		}
		result.Status = r.StatusCode
		if visitErr != nil {
			result.Error = visitErr.Error()
		}
	})

	// Collect candidate JSON subresource links from the page.
	collector.OnHTML("link[href], script[src]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if href == "" {
			href = e.Attr("src")
		}
		if !strings.Contains(href, ".json") {
			return
		}

		resultMu.Lock()
		defer resultMu.Unlock()
		if len(jsonLinks) < maxJSONSubresources {
			jsonLinks = append(jsonLinks, e.Request.AbsoluteURL(href))
		}
	})

	if visitErr := collector.Visit(source.URL); visitErr != nil {
		result.Error = visitErr.Error()
	}
	collector.Wait()

	// Follow discovered JSON subresources on the same host.
	for _, link := range jsonLinks {
		if sameHost(link, source.URL) {
			if visitErr := collector.Visit(link); visitErr != nil {
				f.log.Debug("json subresource visit failed", "url", link, "error", visitErr.Error())
			}
		}
	}
	collector.Wait()

	if f.cfg.PostLoadWait > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.cfg.PostLoadWait):
		}
	}

	result.ElapsedMs = f.now().Sub(start).Milliseconds()

	if result.Status == 0 && result.Error == "" && result.Body == nil {
		return nil, ErrNoResult
	}

	return result, nil
}

// sameHost reports whether two URLs share a hostname.
func sameHost(a, b string) bool {
	ha := hostOf(a)
	return ha != "" && ha == hostOf(b)
}

func hostOf(rawURL string) string {
	rest, ok := strings.CutPrefix(rawURL, "https://")
	if !ok {
		rest, ok = strings.CutPrefix(rawURL, "http://")
		if !ok {
			return ""
		}
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}
