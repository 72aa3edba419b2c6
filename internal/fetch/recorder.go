// Package fetch implements the fetcher hierarchy: a common fetch contract
// with dryrun, http, and crawler implementations, plus the dynamic service
// that owns retries, one-way fallback, and per-host politeness.
package fetch

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// defaultMaxJSONBytes truncates recorded JSON payloads.
const defaultMaxJSONBytes = 256 * 1024

// sensitiveParams are request/response parameter names whose values are
// always redacted from recorded payloads.
var sensitiveParams = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"password":      {},
	"secret":        {},
	"api_key":       {},
	"apikey":        {},
	"cookie":        {},
	"session":       {},
}

// secretValuePattern catches bearer tokens and long opaque credentials
// embedded in payload values.
var secretValuePattern = regexp.MustCompile(`(?i)(bearer\s+[a-z0-9._\-]+|[a-z0-9]{32,}\.[a-z0-9._\-]{16,})`)

// redactedPlaceholder replaces redacted values.
const redactedPlaceholder = "[REDACTED]"

// Recorder sanitizes and classifies captured network payloads.
type Recorder struct {
	maxJSONBytes int
}

// NewRecorder creates a recorder. A zero maxJSONBytes uses the default.
func NewRecorder(maxJSONBytes int) *Recorder {
	if maxJSONBytes <= 0 {
		maxJSONBytes = defaultMaxJSONBytes
	}
	return &Recorder{maxJSONBytes: maxJSONBytes}
}

// Record sanitizes a captured payload: secrets are redacted, JSON bodies
// over the limit are truncated, and the payload is classified.
func (r *Recorder) Record(url, method string, status int, contentType string, body []byte) domain.RecordedResponse {
	resp := domain.RecordedResponse{
		URL:         url,
		Method:      method,
		Status:      status,
		ContentType: contentType,
		Class:       Classify(url, body),
	}

	sanitized := Redact(body)
	if len(sanitized) > r.maxJSONBytes {
		sanitized = sanitized[:r.maxJSONBytes]
		resp.Truncated = true
	}
	resp.Body = sanitized

	return resp
}

// Redact removes credentials from a payload: values of known-sensitive
// JSON keys and token-shaped strings anywhere in the body.
func Redact(body []byte) []byte {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		redacted := redactValue(parsed)
		if out, marshalErr := json.Marshal(redacted); marshalErr == nil {
			return secretValuePattern.ReplaceAll(out, []byte(redactedPlaceholder))
		}
	}

	return secretValuePattern.ReplaceAll(body, []byte(redactedPlaceholder))
}

// redactValue walks a decoded JSON value and blanks sensitive keys.
func redactValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		for key, child := range value {
			if isSensitiveKey(key) {
				value[key] = redactedPlaceholder
				continue
			}
			value[key] = redactValue(child)
		}
		return value
	case []any:
		for i, child := range value {
			value[i] = redactValue(child)
		}
		return value
	default:
		return v
	}
}

// isSensitiveKey reports whether a JSON key should be redacted. The utm_*
// family is tracked separately by the frontier canonicalizer, not redacted.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if _, sensitive := sensitiveParams[lower]; sensitive {
		return true
	}
	// Compound names like access_token or session_id.
	for param := range sensitiveParams {
		if strings.Contains(lower, param) {
			return true
		}
	}
	return false
}

// classHints maps URL substrings to response classes, checked in order.
var classHints = []struct {
	hint  string
	class domain.ResponseClass
}{
	{"variant", domain.ClassVariantMatrix},
	{"spec", domain.ClassSpecs},
	{"price", domain.ClassPricing},
	{"pricing", domain.ClassPricing},
	{"review", domain.ClassReviews},
	{"graphql", domain.ClassGraphQLReplay},
	{"product", domain.ClassProductPayload},
}

// bodyHints maps payload key substrings to response classes.
var bodyHints = []struct {
	hint  string
	class domain.ResponseClass
}{
	{"\"variants\"", domain.ClassVariantMatrix},
	{"\"specifications\"", domain.ClassSpecs},
	{"\"specs\"", domain.ClassSpecs},
	{"\"price\"", domain.ClassPricing},
	{"\"reviews\"", domain.ClassReviews},
	{"\"sku\"", domain.ClassProductPayload},
	{"\"product\"", domain.ClassProductPayload},
}

// Classify buckets a captured payload into a response class using URL and
// body hints. JSON bodies with no recognizable hints classify as fetch_json.
func Classify(url string, body []byte) domain.ResponseClass {
	lowerURL := strings.ToLower(url)
	for _, h := range classHints {
		if strings.Contains(lowerURL, h.hint) {
			return h.class
		}
	}

	lowerBody := strings.ToLower(string(body))
	for _, h := range bodyHints {
		if strings.Contains(lowerBody, h.hint) {
			return h.class
		}
	}

	if json.Valid(body) && len(body) > 0 {
		return domain.ClassFetchJSON
	}

	return domain.ClassUnknown
}
