package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// maxQuoteLen bounds stored evidence quotes.
const maxQuoteLen = 200

// DOMExtractor mines spec tables, definition lists, and inline labeled
// values from HTML documents.
type DOMExtractor struct{}

// NewDOMExtractor creates a DOM extractor.
func NewDOMExtractor() *DOMExtractor { return &DOMExtractor{} }

// Name identifies the extractor in logs.
func (e *DOMExtractor) Name() string { return "dom" }

// inlinePattern matches "Label: value" runs inside prose, one per line.
var inlinePattern = regexp.MustCompile(`(?m)^\s*([A-Za-z][A-Za-z0-9 ./()_-]{1,40}?)\s*[:：]\s*([^\n:：]{1,120})$`)

// Extract parses the page body and emits dom_table and dom_inline candidates.
func (e *DOMExtractor) Extract(page Page, rules *domain.RuleSet) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Result.Body))
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}

	idx := buildLabelIndex(rules)
	var candidates []domain.Candidate

	emit := func(label, value string, method domain.Method) {
		field := idx.match(label)
		if field == "" || strings.TrimSpace(value) == "" {
			return
		}

		quote := trimQuote(label+": "+value, maxQuoteLen)
		ev := quoteEvidence(page, quote, [2]int{0, len(quote)}, page.Result.FetchedAt)
		candidates = append(candidates, newCandidate(page, field, value, method, ev))
	}

	// Two-cell table rows: th/td or td/td pairs.
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() != 2 {
			return
		}
		emit(cellText(cells.First()), cellText(cells.Last()), domain.MethodDOMTable)
	})

	// Definition lists: each dt pairs with the dd that follows it.
	doc.Find("dl").Each(func(_ int, list *goquery.Selection) {
		var label string
		list.Children().Each(func(_ int, child *goquery.Selection) {
			switch goquery.NodeName(child) {
			case "dt":
				label = cellText(child)
			case "dd":
				if label != "" {
					emit(label, cellText(child), domain.MethodDOMTable)
					label = ""
				}
			}
		})
	})

	// Inline "Label: value" lines in list items and short paragraphs.
	doc.Find("li, p").Each(func(_ int, node *goquery.Selection) {
		text := cellText(node)
		if len(text) > 300 {
			return
		}
		for _, m := range inlinePattern.FindAllStringSubmatch(text, -1) {
			emit(m[1], m[2], domain.MethodDOMInline)
		}
	})

	return candidates, nil
}

// cellText returns the node's text with whitespace collapsed.
func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
