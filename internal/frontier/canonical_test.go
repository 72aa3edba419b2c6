package frontier_test

import (
	"testing"

	"github.com/jonesrussell/spechawk/internal/frontier"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		// Scheme and host normalization
		{"lowercase scheme", "HTTP://Example.com/Path", "http://example.com/Path", false},
		{"lowercase host", "https://EXAMPLE.COM/path", "https://example.com/path", false},
		{"strip www", "https://www.example.com/path", "https://example.com/path", false},

		// Port handling
		{"remove default https port", "https://example.com:443/path", "https://example.com/path", false},
		{"remove default http port", "http://example.com:80/path", "http://example.com/path", false},
		{"keep non-default port", "https://example.com:8080/path", "https://example.com:8080/path", false},

		// Path normalization
		{"remove trailing slash", "https://example.com/path/", "https://example.com/path", false},
		{"keep root slash", "https://example.com/", "https://example.com/", false},
		{"resolve dot segments", "https://example.com/a/b/../c", "https://example.com/a/c", false},

		// Fragment removal
		{"remove fragment", "https://example.com/path#specs", "https://example.com/path", false},

		// Query parameter handling
		{"sort query params", "https://example.com/p?z=1&a=2", "https://example.com/p?a=2&z=1", false},
		{"strip utm family", "https://example.com/p?utm_source=x&utm_medium=y&id=1", "https://example.com/p?id=1", false},
		{"strip gclid", "https://example.com/p?gclid=xyz&page=2", "https://example.com/p?page=2", false},
		{"strip fbclid", "https://example.com/p?fbclid=abc&id=1", "https://example.com/p?id=1", false},
		{"strip msclkid", "https://example.com/p?msclkid=abc&id=1", "https://example.com/p?id=1", false},
		{"strip mailchimp ids", "https://example.com/p?mc_cid=a&mc_eid=b&id=1", "https://example.com/p?id=1", false},
		{"strip social trackers", "https://example.com/p?igshid=a&yclid=b&ref_src=c&id=1", "https://example.com/p?id=1", false},
		{"empty query after stripping", "https://example.com/p?utm_source=x", "https://example.com/p", false},

		// Error cases
		{"empty string", "", "", true},
		{"invalid url", "://not-a-url", "", true},
		{"missing scheme", "example.com/path", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := frontier.Canonicalize(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Canonicalize(%q) expected error, got nil", tt.input)
				}
				return
			}

			if err != nil {
				t.Errorf("Canonicalize(%q) unexpected error: %v", tt.input, err)
				return
			}

			if got.URL != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.input, got.URL, tt.want)
			}
		})
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	inputs := []string{
		"HTTP://WWW.Example.com:80/a/b/../c/?utm_source=x&z=1&a=2#frag",
		"https://store.razer.com/gaming-mice/viper-v3?gclid=tracked",
		"https://example.com",
		"https://example.com/product/12345/",
		"https://example.com/p?a=1&a=2&b=3",
	}

	for _, input := range inputs {
		first, err := frontier.Canonicalize(input)
		if err != nil {
			t.Fatalf("Canonicalize(%q) unexpected error: %v", input, err)
		}

		second, err := frontier.Canonicalize(first.URL)
		if err != nil {
			t.Fatalf("Canonicalize(canonical %q) unexpected error: %v", first.URL, err)
		}

		if first.URL != second.URL {
			t.Errorf("not idempotent for %q: first %q, second %q", input, first.URL, second.URL)
		}
	}
}

func TestPathSignature(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"root", "/", "/"},
		{"plain path", "/gaming-mice/viper-v3", "/gaming-mice/viper-v3"},
		{"numeric segment", "/product/12345", "/product/:num"},
		{"hex id segment", "/item/a1b2c3d4e5f6", "/item/:id"},
		{"uuid segment", "/p/550e8400-e29b-41d4-a716-446655440000", "/p/:id"},
		{"short word not hex", "/bed/frames", "/bed/frames"},
		{"mixed", "/cat/42/sku/deadbeef01", "/cat/:num/sku/:id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := frontier.PathSignature(tt.path); got != tt.want {
				t.Errorf("PathSignature(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestPathSignature_SharedAcrossProducts(t *testing.T) {
	a, err := frontier.Canonicalize("https://example.com/product/12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, err := frontier.Canonicalize("https://example.com/product/67890")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.PathSig != b.PathSig {
		t.Errorf("expected shared path signature, got %q and %q", a.PathSig, b.PathSig)
	}
}

func TestURLHash_EquivalentURLs(t *testing.T) {
	hash1, err := frontier.URLHash("HTTP://www.Example.com/path?b=2&a=1")
	if err != nil {
		t.Fatalf("URLHash() unexpected error: %v", err)
	}

	hash2, err := frontier.URLHash("http://example.com/path?a=1&b=2")
	if err != nil {
		t.Fatalf("URLHash() unexpected error: %v", err)
	}

	if hash1 != hash2 {
		t.Errorf("expected identical hashes for equivalent URLs, got %q and %q", hash1, hash2)
	}
}
