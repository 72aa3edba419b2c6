package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// JSONLDExtractor parses application/ld+json blocks and surfaces Product
// and Offer properties as candidates.
type JSONLDExtractor struct{}

// NewJSONLDExtractor creates a JSON-LD extractor.
func NewJSONLDExtractor() *JSONLDExtractor { return &JSONLDExtractor{} }

// Name identifies the extractor in logs.
func (e *JSONLDExtractor) Name() string { return "jsonld" }

// productProps maps schema.org property names to the labels the rule set
// is indexed by. Hard identifiers keep their own names so the identity
// gate can find them.
var productProps = map[string]string{
	"sku":         "sku",
	"mpn":         "mpn",
	"gtin":        "gtin",
	"gtin12":      "gtin",
	"gtin13":      "gtin",
	"gtin14":      "gtin",
	"weight":      "weight",
	"color":       "color",
	"releaseDate": "release_date",
}

// Extract walks every ld+json block for Product and Offer nodes.
func (e *JSONLDExtractor) Extract(page Page, rules *domain.RuleSet) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Result.Body))
	if err != nil {
		return nil, fmt.Errorf("jsonld: parse html: %w", err)
	}

	idx := buildLabelIndex(rules)
	var candidates []domain.Candidate

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var root any
		if decodeErr := json.Unmarshal([]byte(s.Text()), &root); decodeErr != nil {
			return
		}
		for _, node := range flattenLDNodes(root) {
			candidates = append(candidates, e.mineNode(page, idx, node)...)
		}
	})

	return candidates, nil
}

// flattenLDNodes expands top-level arrays and @graph containers into the
// individual typed nodes they hold.
func flattenLDNodes(root any) []map[string]any {
	var nodes []map[string]any

	switch t := root.(type) {
	case []any:
		for _, item := range t {
			nodes = append(nodes, flattenLDNodes(item)...)
		}
	case map[string]any:
		if graph, ok := t["@graph"].([]any); ok {
			for _, item := range graph {
				nodes = append(nodes, flattenLDNodes(item)...)
			}
			return nodes
		}
		nodes = append(nodes, t)
	}

	return nodes
}

// mineNode emits candidates from a single typed node.
func (e *JSONLDExtractor) mineNode(page Page, idx labelIndex, node map[string]any) []domain.Candidate {
	nodeType := ldType(node)
	if nodeType != "Product" && nodeType != "Offer" {
		return nil
	}

	var candidates []domain.Candidate

	emit := func(label, value string) {
		field := idx.match(label)
		if field == "" || value == "" {
			return
		}
		quote := trimQuote(label+": "+value, maxQuoteLen)
		ev := quoteEvidence(page, quote, [2]int{0, len(quote)}, page.Result.FetchedAt)
		candidates = append(candidates, newCandidate(page, field, value, domain.MethodJSONLD, ev))
	}

	for prop, label := range productProps {
		if value := ldString(node[prop]); value != "" {
			emit(label, value)
		}
	}

	// brand may be a string or a nested Brand node.
	if brand := ldString(node["brand"]); brand != "" {
		emit("brand", brand)
	} else if nested, ok := node["brand"].(map[string]any); ok {
		emit("brand", ldString(nested["name"]))
	}

	// additionalProperty carries the open-ended spec sheet.
	if props, ok := node["additionalProperty"].([]any); ok {
		for _, item := range props {
			prop, isMap := item.(map[string]any)
			if !isMap {
				continue
			}
			emit(ldString(prop["name"]), ldString(prop["value"]))
		}
	}

	// Nested offers contribute price and availability.
	for _, offer := range flattenLDNodes(node["offers"]) {
		candidates = append(candidates, e.mineNode(page, idx, offer)...)
	}
	if price := ldString(node["price"]); price != "" && nodeType == "Offer" {
		emit("price", price)
	}

	return candidates
}

// ldType reads a node's @type, taking the first entry of a type array.
func ldType(node map[string]any) string {
	switch t := node["@type"].(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return ldString(t[0])
		}
	}
	return ""
}

// ldString renders scalar JSON-LD values, including QuantitativeValue
// nodes ({"value": 54, "unitCode"/"unitText": "g"}).
func ldString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return stringify(t)
	case bool:
		return stringify(t)
	case map[string]any:
		value := ldString(t["value"])
		if value == "" {
			return ""
		}
		unit := ldString(t["unitText"])
		if unit == "" {
			unit = ldString(t["unitCode"])
		}
		if unit != "" {
			return value + " " + unit
		}
		return value
	}
	return ""
}
