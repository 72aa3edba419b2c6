package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/frontier"
)

// DryRunFetcher serves fixtures from a directory instead of the network.
// Fixture files are named by the URL hash of the canonical URL, with an
// optional ".html" or ".json" extension. Missing fixtures return 404.
type DryRunFetcher struct {
	fixtureDir string
	now        func() time.Time
}

// NewDryRunFetcher creates a fixture-backed fetcher.
func NewDryRunFetcher(fixtureDir string) *DryRunFetcher {
	return &DryRunFetcher{fixtureDir: fixtureDir, now: time.Now}
}

// Mode returns dryrun.
func (f *DryRunFetcher) Mode() domain.FetchMode { return domain.ModeDryRun }

// Start validates the fixture directory.
func (f *DryRunFetcher) Start(ctx context.Context) error {
	info, err := os.Stat(f.fixtureDir)
	if err != nil {
		return fmt.Errorf("dryrun: fixture dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dryrun: fixture path %q is not a directory", f.fixtureDir)
	}
	return nil
}

// Stop is a no-op.
func (f *DryRunFetcher) Stop(ctx context.Context) error { return nil }

// Fetch serves a fixture for the source URL.
func (f *DryRunFetcher) Fetch(ctx context.Context, source domain.Source) (*domain.FetchResult, error) {
	start := f.now()

	result := &domain.FetchResult{
		URL:       source.URL,
		FinalURL:  source.URL,
		Mode:      domain.ModeDryRun,
		FetchedAt: start,
	}

	hash, err := frontier.URLHash(source.URL)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	body, contentType, found := f.readFixture(hash)
	result.ElapsedMs = f.now().Sub(start).Milliseconds()

	if !found {
		result.Status = domain.StatusNotFound
		return result, nil
	}

	result.Status = 200
	result.ContentType = contentType
	result.Body = body
	result.Bytes = len(body)

	return result, nil
}

// readFixture looks for <hash>, <hash>.html, or <hash>.json under the
// fixture directory.
func (f *DryRunFetcher) readFixture(hash string) (body []byte, contentType string, found bool) {
	candidates := []struct {
		name        string
		contentType string
	}{
		{hash + ".html", "text/html"},
		{hash + ".json", "application/json"},
		{hash, "text/html"},
	}

	for _, c := range candidates {
		data, err := os.ReadFile(filepath.Join(f.fixtureDir, c.name))
		if err != nil {
			continue
		}
		return data, c.contentType, true
	}

	return nil, "", false
}

// FixtureName returns the file name a fixture for rawURL should use.
// Helper for recording fixtures from live runs.
func FixtureName(rawURL, contentType string) (string, error) {
	hash, err := frontier.URLHash(rawURL)
	if err != nil {
		return "", err
	}

	if strings.Contains(contentType, "json") {
		return hash + ".json", nil
	}
	return hash + ".html", nil
}
