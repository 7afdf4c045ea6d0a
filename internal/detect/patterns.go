package detect

import (
	"context"
	"regexp"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dlclark/regexp2"

	"piiguard/internal/logging"
)

// Pattern labels, in evaluation order.
const (
	LabelEmail        = "EMAIL"
	LabelURL          = "URL"
	LabelIPv4         = "IPV4"
	LabelPhone        = "PHONE"
	LabelNationalID   = "NATIONAL_ID"
	LabelPassport     = "PASSPORT"
	LabelLicensePlate = "LICENSE_PLATE"
	LabelDate         = "DATE"
	LabelMoney        = "MONEY"
	LabelSocialHandle = "SOCIAL_HANDLE"
	LabelPostalCode   = "POSTAL_CODE"
	LabelCreditCard   = "CREDIT_CARD"
)

// PatternScore is the confidence assigned to every pattern match.
const PatternScore = 1.0

const lookaroundTimeout = 250 * time.Millisecond

var (
	emailRegexp        = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	urlRegexp          = regexp.MustCompile(`https?://[^\s]+`)
	ipv4Regexp         = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	nationalIDRegexp   = regexp.MustCompile(`(?i)\b[STFGM]\d{7}[A-Z]\b`)
	passportRegexp     = regexp.MustCompile(`(?i)\b[EK]\d{7}[A-Z]\b`)
	licensePlateRegexp = regexp.MustCompile(`\bS[A-Z]{1,2} ?\d{1,4} ?[A-Z]\b`)
	dateRegexp         = regexp.MustCompile(`\b(?:` +
		`\d{1,2}[/.\-]\d{1,2}[/.\-]\d{4}` +
		`|\d{4}-\d{1,2}-\d{1,2}` +
		`|(?i:(?:\d{1,2}(?:st|nd|rd|th)?(?:\s+of)?\s+)?` +
		`(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)` +
		`\s+\d{4})` +
		`)\b`)
	moneyRegexp = regexp.MustCompile(
		`(?:S\$|\$|£|€|¥)\s?\d+(?:,\d{3})*(?:\.\d+)?(?:\s+(?i:dollars|bucks|pounds|euros|yen|rupees)\b)?` +
			`|\b(?:USD|SGD|EUR|GBP|JPY)\s?\d+(?:,\d{3})*(?:\.\d+)?` +
			`|\b\d+(?:,\d{3})*(?:\.\d+)?\s+(?i:dollars|bucks|pounds|euros|yen|rupees)\b`)
	postalCodeRegexp = regexp.MustCompile(`\b\d{6}\b`)

	phoneRegexp        = mustLookaround(`(?<![0-9])(?:\+65[\s-]?)?[3689][0-9]{3}[\s-]?[0-9]{4}(?![0-9])`)
	socialHandleRegexp = mustLookaround(`(?<![\w.@])@[A-Za-z0-9_]{2,30}\b`)
	creditCardRegexp   = mustLookaround(`(?<![0-9])[0-9](?:[ -]?[0-9]){12,18}(?![0-9])`)
)

func mustLookaround(expr string) *regexp2.Regexp {
	re := regexp2.MustCompile(expr, regexp2.None)
	re.MatchTimeout = lookaroundTimeout
	return re
}

// Pattern is one entry of the pattern table.
type Pattern struct {
	Label string
	Expr  string
	find  func(text string, offs Offsets) ([][2]int, error)
}

func re2Pattern(label string, re *regexp.Regexp) Pattern {
	return Pattern{Label: label, Expr: re.String(), find: func(text string, _ Offsets) ([][2]int, error) {
		idxs := re.FindAllStringIndex(text, -1)
		out := make([][2]int, 0, len(idxs))
		for _, idx := range idxs {
			out = append(out, [2]int{idx[0], idx[1]})
		}
		return out, nil
	}}
}

func lookaroundPattern(label string, re *regexp2.Regexp) Pattern {
	return Pattern{Label: label, Expr: re.String(), find: func(text string, offs Offsets) ([][2]int, error) {
		return findAllLookaround(re, text, offs)
	}}
}

// findAllLookaround converts regexp2's code-point offsets into byte
// offsets. On a match timeout it returns the matches found so far.
func findAllLookaround(re *regexp2.Regexp, text string, offs Offsets) ([][2]int, error) {
	var out [][2]int
	m, err := re.FindStringMatch(text)
	for ; m != nil && err == nil; m, err = re.FindNextMatch(m) {
		if m.Length == 0 {
			continue
		}
		start, okStart := offs.ByteOffset(m.Index)
		end, okEnd := offs.ByteOffset(m.Index + m.Length)
		if okStart && okEnd {
			out = append(out, [2]int{start, end})
		}
	}
	return out, err
}

// PatternTable is the immutable, ordered set of entity patterns.
type PatternTable struct {
	patterns []Pattern
}

// DefaultPatterns returns the full table in evaluation order.
func DefaultPatterns() PatternTable {
	return PatternTable{patterns: []Pattern{
		re2Pattern(LabelEmail, emailRegexp),
		re2Pattern(LabelURL, urlRegexp),
		re2Pattern(LabelIPv4, ipv4Regexp),
		lookaroundPattern(LabelPhone, phoneRegexp),
		re2Pattern(LabelNationalID, nationalIDRegexp),
		re2Pattern(LabelPassport, passportRegexp),
		re2Pattern(LabelLicensePlate, licensePlateRegexp),
		re2Pattern(LabelDate, dateRegexp),
		re2Pattern(LabelMoney, moneyRegexp),
		lookaroundPattern(LabelSocialHandle, socialHandleRegexp),
		re2Pattern(LabelPostalCode, postalCodeRegexp),
		lookaroundPattern(LabelCreditCard, creditCardRegexp),
	}}
}

// Only returns a table restricted to labels, keeping table order.
// An empty label list keeps every pattern.
func (t PatternTable) Only(labels []string) PatternTable {
	if len(labels) == 0 {
		return t
	}
	enabled := mapset.NewThreadUnsafeSet[string]()
	for _, l := range labels {
		enabled.Add(strings.ToUpper(strings.TrimSpace(l)))
	}
	out := make([]Pattern, 0, len(t.patterns))
	for _, p := range t.patterns {
		if enabled.Contains(p.Label) {
			out = append(out, p)
		}
	}
	return PatternTable{patterns: out}
}

// Patterns returns a copy of the table entries.
func (t PatternTable) Patterns() []Pattern {
	return append([]Pattern(nil), t.patterns...)
}

// Labels returns the table labels in evaluation order.
func (t PatternTable) Labels() []string {
	out := make([]string, 0, len(t.patterns))
	for _, p := range t.patterns {
		out = append(out, p.Label)
	}
	return out
}

// PatternMatcher finds fixed-format entities. It is stateless and safe for
// concurrent use.
type PatternMatcher struct {
	table PatternTable
	log   logging.Logger
}

type MatcherOption func(*PatternMatcher)

// MatcherLogger sets the logger that reports abandoned patterns.
func MatcherLogger(l logging.Logger) MatcherOption {
	return func(m *PatternMatcher) {
		if l != nil {
			m.log = l
		}
	}
}

func NewPatternMatcher(table PatternTable, opts ...MatcherOption) *PatternMatcher {
	m := &PatternMatcher{table: table, log: logging.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *PatternMatcher) Name() string { return SourcePattern }

// Match returns every match of every pattern, pattern by pattern in table
// order and left to right within a pattern. Matches of different patterns
// may overlap.
func (m *PatternMatcher) Match(text string) []Span {
	spans, _ := m.match(text)
	return spans
}

// Detect reports patterns abandoned on a match timeout as skipped; their
// matches found before the timeout are kept.
func (m *PatternMatcher) Detect(_ context.Context, text string) (Detection, error) {
	spans, abandoned := m.match(text)
	return Detection{Spans: spans, Skipped: abandoned}, nil
}

func (m *PatternMatcher) match(text string) ([]Span, int) {
	offs := NewOffsets(text)
	out := make([]Span, 0)
	abandoned := 0
	for _, p := range m.table.patterns {
		idxs, err := p.find(text, offs)
		if err != nil {
			abandoned++
			m.log.Warn("pattern match abandoned",
				logging.String("label", p.Label),
				logging.Int("matches_kept", len(idxs)),
				logging.Int("text_bytes", len(text)),
				logging.Err(err),
			)
		}
		for _, idx := range idxs {
			out = append(out, Span{Start: idx[0], End: idx[1], Label: p.Label, Score: PatternScore, Text: text[idx[0]:idx[1]]})
		}
	}
	return out, abandoned
}
