package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/fetch"
)

func newHTTPFetcher() *fetch.HTTPFetcher {
	return fetch.NewHTTPFetcher(fetch.HTTPFetcherConfig{
		UserAgent: "spechawk-test/1.0",
		Timeout:   2 * time.Second,
	})
}

func TestHTTPFetcher_FetchesPage(t *testing.T) {
	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>specs</body></html>"))
	}))
	defer server.Close()

	result, err := newHTTPFetcher().Fetch(context.Background(), domain.Source{URL: server.URL + "/p"})
	require.NoError(t, err)

	assert.Equal(t, "spechawk-test/1.0", gotAgent)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Contains(t, string(result.Body), "specs")
	assert.True(t, result.ShouldExtract())
	assert.Empty(t, result.Responses, "html pages are not recorded as network payloads")
}

func TestHTTPFetcher_RecordsJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sku":"RZ01-05120100","weight_g":54}`))
	}))
	defer server.Close()

	result, err := newHTTPFetcher().Fetch(context.Background(), domain.Source{URL: server.URL + "/api/product"})
	require.NoError(t, err)

	require.Len(t, result.Responses, 1)
	recorded := result.Responses[0]
	assert.Equal(t, domain.ClassProductPayload, recorded.Class)
	assert.Contains(t, string(recorded.Body), "RZ01-05120100")
}

func TestHTTPFetcher_FollowsRedirectAndReportsFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("moved here"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	result, err := newHTTPFetcher().Fetch(context.Background(), domain.Source{URL: server.URL + "/old"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, server.URL+"/new", result.FinalURL)
	assert.NotEqual(t, result.URL, result.FinalURL)
}

func TestHTTPFetcher_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	result, err := newHTTPFetcher().Fetch(context.Background(), domain.Source{URL: server.URL + "/gone"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, result.Status)
	assert.True(t, result.Dead())
	assert.False(t, result.ShouldExtract())
}

func TestHTTPFetcher_TransportErrorHasStatusZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	result, err := newHTTPFetcher().Fetch(context.Background(), domain.Source{URL: server.URL})
	require.NoError(t, err)

	assert.Zero(t, result.Status)
	assert.NotEmpty(t, result.Error)
	assert.True(t, result.Transient())
}
