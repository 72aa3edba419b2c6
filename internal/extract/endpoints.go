package extract

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// EndpointStats aggregates observations for one endpoint signature.
type EndpointStats struct {
	Signature  string   `json:"signature"`
	Method     string   `json:"method"`
	RootDomain string   `json:"root_domain"`
	Path       string   `json:"path"`
	Seen       int      `json:"seen"`
	Score      float64  `json:"score"`
	FieldHints []string `json:"field_hints,omitempty"`
	// SampleURL is a concrete URL that matched the signature, reused as
	// the probe target for later rounds.
	SampleURL string `json:"sample_url"`
}

// EndpointMiner learns which captured endpoints carry spec data and
// proposes them as probe targets for later rounds.
type EndpointMiner struct {
	mu        sync.Mutex
	endpoints map[string]*EndpointStats
}

// NewEndpointMiner creates an empty miner.
func NewEndpointMiner() *EndpointMiner {
	return &EndpointMiner{endpoints: make(map[string]*EndpointStats)}
}

// classScores rates how promising each payload class is as a spec source.
var classScores = map[domain.ResponseClass]float64{
	domain.ClassSpecs:          1.0,
	domain.ClassVariantMatrix:  0.9,
	domain.ClassProductPayload: 0.8,
	domain.ClassGraphQLReplay:  0.6,
	domain.ClassFetchJSON:      0.4,
	domain.ClassPricing:        0.3,
	domain.ClassReviews:        0.2,
}

// bodyHintKeys are payload keys whose presence marks an endpoint as
// field-bearing. Their matches become the signature's field hints.
var bodyHintKeys = []string{"dpi", "weight", "sensor", "switch", "polling", "battery", "dimensions", "sku"}

// Observe folds one page's captured responses into the miner.
func (m *EndpointMiner) Observe(rootDomain string, responses []domain.RecordedResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, resp := range responses {
		path := normalizeEndpointPath(resp.URL)
		if path == "" {
			continue
		}

		method := resp.Method
		if method == "" {
			method = "GET"
		}
		signature := method + " " + rootDomain + path

		stats, ok := m.endpoints[signature]
		if !ok {
			stats = &EndpointStats{
				Signature:  signature,
				Method:     method,
				RootDomain: rootDomain,
				Path:       path,
				SampleURL:  resp.URL,
			}
			m.endpoints[signature] = stats
		}

		stats.Seen++
		stats.Score += classScores[resp.Class]

		body := strings.ToLower(string(resp.Body))
		for _, hint := range bodyHintKeys {
			if strings.Contains(body, `"`+hint) && !containsString(stats.FieldHints, hint) {
				stats.FieldHints = append(stats.FieldHints, hint)
				stats.Score += 0.25
			}
		}
	}
}

// Top returns the n best signatures by score.
func (m *EndpointMiner) Top(n int) []EndpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]EndpointStats, 0, len(m.endpoints))
	for _, stats := range m.endpoints {
		all = append(all, *stats)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Signature < all[j].Signature
	})

	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// NextBestURLs proposes probe sources for the next round. Only GET
// endpoints with field hints qualify; probes are discovery-only and their
// candidates still pass the identity gate downstream.
func (m *EndpointMiner) NextBestURLs(n int) []domain.Source {
	var sources []domain.Source
	for _, stats := range m.Top(0) {
		if stats.Method != "GET" || len(stats.FieldHints) == 0 {
			continue
		}
		sources = append(sources, domain.Source{
			URL:           stats.SampleURL,
			DiscoveryOnly: true,
		})
		if n > 0 && len(sources) == n {
			break
		}
	}
	return sources
}

// normalizeEndpointPath collapses volatile path segments into placeholders
// so per-product URLs aggregate under one signature: numbers become :id,
// long hex runs :hex, and long opaque tokens :token.
func normalizeEndpointPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return ""
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, seg := range segments {
		switch {
		case seg == "":
		case isAllDigits(seg):
			segments[i] = ":id"
		case len(seg) >= 8 && isHex(seg):
			segments[i] = ":hex"
		case len(seg) >= 20 && !strings.ContainsAny(seg, "-_."):
			segments[i] = ":token"
		}
	}

	return "/" + strings.Join(segments, "/")
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		case r == '-':
		default:
			return false
		}
	}
	return hasDigit
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
