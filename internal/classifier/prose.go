package classifier

import (
	"context"
	"strings"

	"github.com/jdkato/prose/v2"

	"piiguard/internal/detect"
)

// DefaultProseConfidence is reported for every prose token, which has no
// per-token probability.
const DefaultProseConfidence = 0.9

// proseVocabulary holds the tags prose's NER model emits. ORGANIZATION is
// renamed to ORG by the general detector's remap.
var proseVocabulary = detect.Vocabulary{
	0: "O",
	1: "B-PERSON",
	2: "I-PERSON",
	3: "B-GPE",
	4: "I-GPE",
	5: "B-ORGANIZATION",
	6: "I-ORGANIZATION",
}

// unknownLabelID is not in proseVocabulary, so the decoder counts rows
// carrying it as malformed.
const unknownLabelID = -1

// Prose is a pure-Go general recognizer backed by prose's averaged
// perceptron NER model. It needs no model files.
type Prose struct {
	confidence float64
	labelIDs   map[string]int
}

func NewProse(confidence float64) *Prose {
	if confidence <= 0 || confidence > 1 {
		confidence = DefaultProseConfidence
	}
	ids := make(map[string]int, len(proseVocabulary))
	for id, label := range proseVocabulary {
		ids[label] = id
	}
	return &Prose{confidence: confidence, labelIDs: ids}
}

func (p *Prose) Vocabulary() detect.Vocabulary { return proseVocabulary }

func (p *Prose) Classify(ctx context.Context, text string) ([]detect.TokenRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, err
	}
	tokens := doc.Tokens()
	rows := make([]detect.TokenRow, 0, len(tokens))
	cursor := 0
	for _, tok := range tokens {
		if tok.Text == "" {
			continue
		}
		i := strings.Index(text[cursor:], tok.Text)
		if i < 0 {
			// The tokenizer rewrote this token; it has no source offsets.
			continue
		}
		start := cursor + i
		end := start + len(tok.Text)
		cursor = end
		rows = append(rows, detect.TokenRow{
			Start:       start,
			End:         end,
			LabelID:     p.labelID(tok.Label),
			Probability: p.confidence,
		})
	}
	return rows, nil
}

func (p *Prose) labelID(tag string) int {
	if tag == "" {
		return p.labelIDs["O"]
	}
	if id, ok := p.labelIDs[tag]; ok {
		return id
	}
	return unknownLabelID
}
