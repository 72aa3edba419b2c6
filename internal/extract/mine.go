package extract

import (
	"sort"
	"strings"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// maxMinedDepth bounds JSON traversal so adversarial payloads cannot
// recurse unboundedly.
const maxMinedDepth = 12

// flatLeaf is one scalar leaf of a flattened JSON document.
type flatLeaf struct {
	// path is the dotted key path, array indexes elided.
	path string
	// key is the leaf's own key name.
	key   string
	value any
}

// flattenJSON walks a decoded JSON value and collects its scalar leaves.
func flattenJSON(root any) []flatLeaf {
	var leaves []flatLeaf
	walkJSON(root, "", "", 0, &leaves)

	// Deterministic order for downstream dedup and tests.
	sort.SliceStable(leaves, func(i, j int) bool { return leaves[i].path < leaves[j].path })
	return leaves
}

func walkJSON(v any, path, key string, depth int, out *[]flatLeaf) {
	if depth > maxMinedDepth {
		return
	}

	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			walkJSON(child, childPath, k, depth+1, out)
		}
	case []any:
		for _, child := range t {
			walkJSON(child, path, key, depth+1, out)
		}
	case string, float64, bool:
		if key != "" {
			*out = append(*out, flatLeaf{path: path, key: key, value: t})
		}
	}
}

// mineLeaves matches flattened leaves against the rule set by key name and
// emits one candidate per (field, value) pair.
func mineLeaves(page Page, rules *domain.RuleSet, leaves []flatLeaf, method domain.Method) []domain.Candidate {
	idx := buildLabelIndex(rules)

	seen := make(map[string]struct{})
	var candidates []domain.Candidate

	for _, leaf := range leaves {
		field := idx.match(leaf.key)
		if field == "" {
			// Fall back to the tail of the path: "specs.sensor.max_dpi"
			// matches a "max dpi" rule even when the leaf key is "value".
			field = idx.match(pathTail(leaf.path))
		}
		if field == "" {
			continue
		}

		value := stringify(leaf.value)
		if value == "" {
			continue
		}

		dedupKey := field + "\x00" + value
		if _, dup := seen[dedupKey]; dup {
			continue
		}
		seen[dedupKey] = struct{}{}

		quote := trimQuote(leaf.path+": "+value, maxQuoteLen)
		ev := quoteEvidence(page, quote, [2]int{0, len(quote)}, page.Result.FetchedAt)
		candidates = append(candidates, newCandidate(page, field, value, method, ev))
	}

	return candidates
}

// pathTail returns the last two path segments joined, matching rules whose
// label spans a parent key ("sensor max dpi").
func pathTail(path string) string {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return path
	}
	return parts[len(parts)-2] + " " + parts[len(parts)-1]
}
