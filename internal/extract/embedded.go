package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// EmbeddedStateExtractor harvests framework hydration blobs: __NEXT_DATA__,
// __NUXT__, __APOLLO_STATE__, and window.__INITIAL_STATE__.
type EmbeddedStateExtractor struct{}

// NewEmbeddedStateExtractor creates an embedded state extractor.
func NewEmbeddedStateExtractor() *EmbeddedStateExtractor { return &EmbeddedStateExtractor{} }

// Name identifies the extractor in logs.
func (e *EmbeddedStateExtractor) Name() string { return "embedded_state" }

// assignmentPatterns find "window.X = {...}" style hydration assignments.
// The JSON object is cut from the first brace by balance counting, not by
// the regex, so nested braces survive.
var assignmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`window\.__NUXT__\s*=`),
	regexp.MustCompile(`__APOLLO_STATE__\s*=`),
	regexp.MustCompile(`window\.__INITIAL_STATE__\s*=`),
}

// Extract mines every recognized hydration blob on the page.
func (e *EmbeddedStateExtractor) Extract(page Page, rules *domain.RuleSet) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Result.Body))
	if err != nil {
		return nil, fmt.Errorf("embedded: parse html: %w", err)
	}

	var candidates []domain.Candidate

	mine := func(raw string) {
		var root any
		if json.Unmarshal([]byte(raw), &root) != nil {
			return
		}
		candidates = append(candidates, mineLeaves(page, rules, flattenJSON(root), domain.MethodEmbedded)...)
	}

	// Next.js ships its state as the full content of a typed script tag.
	doc.Find(`script#__NEXT_DATA__`).Each(func(_ int, s *goquery.Selection) {
		mine(s.Text())
	})

	// The rest are inline assignments inside ordinary script tags.
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		for _, pattern := range assignmentPatterns {
			loc := pattern.FindStringIndex(text)
			if loc == nil {
				continue
			}
			if raw := cutJSONObject(text[loc[1]:]); raw != "" {
				mine(raw)
			}
		}
	})

	return candidates, nil
}

// cutJSONObject returns the first balanced {...} object in s, respecting
// string literals and escapes.
func cutJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}
