package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// DatePrecision ranks how specific a temporal signal is.
type DatePrecision int

// Precisions, most specific first.
const (
	PrecisionDay DatePrecision = iota
	PrecisionMonth
	PrecisionYear
)

// TemporalSignal is one dated hint mined from a page.
type TemporalSignal struct {
	Date      time.Time
	Precision DatePrecision
	// Weight reflects the signal's source: title and payload dates beat
	// dates buried in body prose.
	Weight float64
	Source string
	Quote  string
}

// Source weights for temporal signals.
const (
	weightPayload = 1.0
	weightTitle   = 0.9
	weightURL     = 0.7
	weightBody    = 0.5
)

// TemporalExtractor mines release-date hints from titles, URLs, body text,
// and captured payloads.
type TemporalExtractor struct {
	// FieldKey is the rule-set field the best signal is emitted under.
	FieldKey string
}

// NewTemporalExtractor creates a temporal extractor emitting under fieldKey.
func NewTemporalExtractor(fieldKey string) *TemporalExtractor {
	return &TemporalExtractor{FieldKey: fieldKey}
}

// Name identifies the extractor in logs.
func (e *TemporalExtractor) Name() string { return "temporal" }

var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	longDatePattern  = regexp.MustCompile(`\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2}),?\s+(\d{4})\b`)
	monthYearPattern = regexp.MustCompile(`\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{4})\b`)
	yearPattern      = regexp.MustCompile(`\b(19[89]\d|20[0-4]\d)\b`)
)

// Signals mines every dated hint from the page, sorted best-first by
// precision then weight.
func (e *TemporalExtractor) Signals(page Page) []TemporalSignal {
	var signals []TemporalSignal

	title, body := titleAndText(page.Result.Body)
	signals = append(signals, mineDates(title, "title", weightTitle)...)
	signals = append(signals, mineDates(page.Result.URL, "url", weightURL)...)
	signals = append(signals, mineDates(body, "body", weightBody)...)

	for _, resp := range page.Result.Responses {
		if resp.Class == domain.ClassUnknown {
			continue
		}
		signals = append(signals, mineDates(string(resp.Body), "payload", weightPayload)...)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Precision != signals[j].Precision {
			return signals[i].Precision < signals[j].Precision
		}
		return signals[i].Weight > signals[j].Weight
	})

	return signals
}

// Extract emits a single candidate for the best-ranked signal, when the
// rule set actually declares the target field.
func (e *TemporalExtractor) Extract(page Page, rules *domain.RuleSet) ([]domain.Candidate, error) {
	if _, ok := rules.Rule(e.FieldKey); !ok {
		return nil, nil
	}

	signals := e.Signals(page)
	if len(signals) == 0 {
		return nil, nil
	}

	best := signals[0]
	ev := quoteEvidence(page, trimQuote(best.Quote, maxQuoteLen), [2]int{0, len(best.Quote)}, page.Result.FetchedAt)
	candidate := newCandidate(page, e.FieldKey, formatSignal(best), domain.MethodTemporal, ev)

	return []domain.Candidate{candidate}, nil
}

// mineDates scans text for dated hints at descending precision. Text
// consumed by a higher-precision match is not re-matched at lower ones.
func mineDates(text, source string, weight float64) []TemporalSignal {
	var signals []TemporalSignal
	remaining := text

	for _, m := range isoDatePattern.FindAllStringSubmatch(remaining, -1) {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if !validDate(year, month, day) {
			continue
		}
		signals = append(signals, TemporalSignal{
			Date:      time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
			Precision: PrecisionDay,
			Weight:    weight,
			Source:    source,
			Quote:     m[0],
		})
	}
	remaining = isoDatePattern.ReplaceAllString(remaining, "")

	for _, m := range longDatePattern.FindAllStringSubmatch(remaining, -1) {
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		month := monthNumber(m[1])
		if !validDate(year, month, day) {
			continue
		}
		signals = append(signals, TemporalSignal{
			Date:      time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
			Precision: PrecisionDay,
			Weight:    weight,
			Source:    source,
			Quote:     m[0],
		})
	}
	remaining = longDatePattern.ReplaceAllString(remaining, "")

	for _, m := range monthYearPattern.FindAllStringSubmatch(remaining, -1) {
		year, _ := strconv.Atoi(m[2])
		signals = append(signals, TemporalSignal{
			Date:      time.Date(year, time.Month(monthNumber(m[1])), 1, 0, 0, 0, 0, time.UTC),
			Precision: PrecisionMonth,
			Weight:    weight,
			Source:    source,
			Quote:     m[0],
		})
	}
	remaining = monthYearPattern.ReplaceAllString(remaining, "")

	for _, m := range yearPattern.FindAllStringSubmatch(remaining, -1) {
		year, _ := strconv.Atoi(m[1])
		signals = append(signals, TemporalSignal{
			Date:      time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
			Precision: PrecisionYear,
			Weight:    weight,
			Source:    source,
			Quote:     m[0],
		})
	}

	return signals
}

// formatSignal renders a signal at its own precision.
func formatSignal(s TemporalSignal) string {
	switch s.Precision {
	case PrecisionDay:
		return s.Date.Format("2006-01-02")
	case PrecisionMonth:
		return s.Date.Format("2006-01")
	default:
		return fmt.Sprintf("%d", s.Date.Year())
	}
}

func monthNumber(name string) int {
	t, err := time.Parse("January", name)
	if err != nil {
		return 1
	}
	return int(t.Month())
}

func validDate(year, month, day int) bool {
	if year < 1980 || year > 2049 || month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	return true
}

// titleAndText splits an HTML document into its title and visible text.
// Non-HTML bodies are treated as plain text.
func titleAndText(body []byte) (title, text string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", string(body)
	}

	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Find("title").Text()), doc.Text()
}
