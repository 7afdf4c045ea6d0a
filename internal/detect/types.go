package detect

import (
	"context"
	"errors"
)

// ErrClassify is returned by Pipeline.Predict when a token-classification
// backend fails during a request.
var ErrClassify = errors.New("classify failed")

// Span is a labelled, scored byte interval of the source text.
// Text always equals source[Start:End].
type Span struct {
	Start int
	End   int
	Label string
	Score float64
	Text  string
}

// Len returns the span width in bytes.
func (s Span) Len() int { return s.End - s.Start }

// TokenRow is one sub-token unit produced by a classification backend.
// Rows with Start == End are special tokens (CLS, SEP, padding).
type TokenRow struct {
	Start       int
	End         int
	LabelID     int
	Probability float64
}

// Vocabulary maps backend label ids to tags such as "B-PER" or "O".
// It is fixed when the backend is initialised.
type Vocabulary map[int]string

// Label returns the tag for id.
func (v Vocabulary) Label(id int) (string, bool) {
	l, ok := v[id]
	return l, ok
}

// Position is a [start, end) byte interval of one entity occurrence.
// Offsets converts positions to code points for API clients.
type Position [2]int

// Entity groups every occurrence of one (label, text) pair.
type Entity struct {
	Label     string     `json:"label"`
	Text      string     `json:"word"`
	Score     float64    `json:"score"`
	Positions []Position `json:"position"`
}

// Classifier is a token-classification backend. Implementations must be
// read-only after construction.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]TokenRow, error)
	Vocabulary() Vocabulary
}

// Detection is the candidate output of one detector for one text.
// Skipped counts ignored units: malformed backend rows, or patterns
// abandoned on a match timeout.
type Detection struct {
	Spans   []Span
	Skipped int
}

// Detector produces candidate spans for one text.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) (Detection, error)
}
