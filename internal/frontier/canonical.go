// Package frontier provides the durable URL and query bookkeeping for the
// harvester: canonicalization, cooldowns, dead-path learning, and per-domain
// yield statistics. URLs are canonicalized before insertion so the same URL
// expressed differently maps to one record.
package frontier

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// trackingParams lists query parameters stripped during canonicalization.
// These are advertising and analytics trackers that do not affect page content.
var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"yclid":   {},
	"ref_src": {},
}

// utmPrefix marks the whole utm_* family for stripping.
const utmPrefix = "utm_"

// defaultPorts maps schemes to their default port strings.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

var (
	errEmptyInput          = errors.New("canonicalize url: empty input")
	errMissingSchemeOrHost = errors.New("canonicalize url: missing scheme or host")
)

// Canonical is the result of canonicalizing a URL.
type Canonical struct {
	URL     string
	Domain  string
	PathSig string
}

// Canonicalize applies deterministic transformations so equivalent URLs
// produce identical strings: scheme and host lowercased, leading "www."
// stripped, default ports removed, dot-segments resolved, trailing slashes
// removed, fragment removed, query sorted, tracking parameters stripped.
// Canonicalize is idempotent: applying it to its own output is a no-op.
func Canonicalize(rawURL string) (Canonical, error) {
	if rawURL == "" {
		return Canonical{}, errEmptyInput
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Canonical{}, fmt.Errorf("canonicalize url: %w", err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return Canonical{}, errMissingSchemeOrHost
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = canonicalHost(parsed)
	parsed.Fragment = ""
	parsed.RawQuery = buildCleanQuery(parsed.Query())
	parsed.Path = canonicalPath(parsed.Path)

	return Canonical{
		URL:     parsed.String(),
		Domain:  parsed.Hostname(),
		PathSig: PathSignature(parsed.Path),
	}, nil
}

// MustCanonicalURL returns the canonical URL string, falling back to the
// input when canonicalization fails. Useful for comparisons where a parse
// failure should compare the raw strings.
func MustCanonicalURL(rawURL string) string {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return rawURL
	}
	return canonical.URL
}

// URLHash canonicalizes the given URL and returns its SHA-256 hex digest.
func URLHash(rawURL string) (string, error) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return "", fmt.Errorf("url hash: %w", err)
	}

	sum := sha256.Sum256([]byte(canonical.URL))

	return hex.EncodeToString(sum[:]), nil
}

// PathSignature generalizes a URL path by replacing numeric segments with
// ":num" and hex-like identifier segments with ":id", so that
// /product/12345 and /product/67890 share one signature for dead-path learning.
func PathSignature(p string) string {
	if p == "" || p == "/" {
		return "/"
	}

	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, seg := range segments {
		switch {
		case isNumericSegment(seg):
			segments[i] = ":num"
		case isHexSegment(seg):
			segments[i] = ":id"
		}
	}

	return "/" + strings.Join(segments, "/")
}

// isNumericSegment reports whether the segment is all digits.
func isNumericSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// hexSegmentMinLen avoids classifying short words like "bed" as hex IDs.
const hexSegmentMinLen = 8

// isHexSegment reports whether the segment looks like a hex identifier:
// at least hexSegmentMinLen hex characters including at least one digit.
func isHexSegment(seg string) bool {
	if len(seg) < hexSegmentMinLen {
		return false
	}

	hasDigit := false
	for _, r := range strings.ToLower(seg) {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'f':
		case r == '-':
			// uuid separators
		default:
			return false
		}
	}
	return hasDigit
}

// canonicalHost lowercases the hostname, strips a leading "www.", and
// removes the scheme's default port.
func canonicalHost(u *url.URL) string {
	hostname := strings.ToLower(u.Hostname())
	hostname = strings.TrimPrefix(hostname, "www.")

	port := u.Port()
	if port == "" {
		return hostname
	}

	if defaultPort, ok := defaultPorts[strings.ToLower(u.Scheme)]; ok && port == defaultPort {
		return hostname
	}

	return hostname + ":" + port
}

// buildCleanQuery strips tracking parameters, sorts the remaining keys
// alphabetically, and returns the encoded query string.
func buildCleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))

	for key := range values {
		if isTrackingParam(key) {
			continue
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return ""
	}

	sort.Strings(keys)

	var b strings.Builder

	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}

		vals := values[key]
		for j, val := range vals {
			if j > 0 {
				b.WriteByte('&')
			}

			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}

	return b.String()
}

// isTrackingParam reports whether a query key is a known tracker.
func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, utmPrefix) {
		return true
	}
	_, tracking := trackingParams[lower]
	return tracking
}

// canonicalPath resolves dot-segments and removes trailing slashes while
// preserving the root "/".
func canonicalPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}

	cleaned := path.Clean(p)

	trimmed := strings.TrimRight(cleaned, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}
