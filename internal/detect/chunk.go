package detect

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Default decoder thresholds.
const (
	GeneralThreshold = 0.8
	DomainThreshold  = 0.7
)

// GeneralLabelRemap returns the tag remapping applied to the general
// recognizer's entity types. ORGANIZATION is the long form some
// recognizers emit for ORG.
func GeneralLabelRemap() map[string]string {
	return map[string]string{"PER": "PERSON", "LOC": "GPE", "MISC": "ORG", "ORGANIZATION": "ORG"}
}

// ChunkDecoder turns per-token BIO predictions into entity spans.
type ChunkDecoder struct {
	threshold float64
	remap     map[string]string
}

// NewChunkDecoder returns a decoder that drops tokens below threshold and
// renames emitted types through remap (nil keeps types verbatim).
func NewChunkDecoder(threshold float64, remap map[string]string) ChunkDecoder {
	cp := make(map[string]string, len(remap))
	for k, v := range remap {
		cp[k] = v
	}
	return ChunkDecoder{threshold: threshold, remap: cp}
}

func (d ChunkDecoder) Threshold() float64 { return d.threshold }

// chunkState is the decoder FSM: either no chunk is open, or one chunk of
// typ spanning [start, end) with the maximum token score seen so far.
type chunkState struct {
	open  bool
	typ   string
	start int
	end   int
	score float64
}

func (s *chunkState) begin(typ string, row TokenRow, score float64) {
	*s = chunkState{open: true, typ: typ, start: row.Start, end: row.End, score: score}
}

func (s *chunkState) extend(row TokenRow, score float64) {
	if row.End > s.end {
		s.end = row.End
	}
	if score > s.score {
		s.score = score
	}
}

func (s *chunkState) flush(d ChunkDecoder, text string, out []Span) []Span {
	if !s.open {
		return out
	}
	label := s.typ
	if mapped, ok := d.remap[label]; ok {
		label = mapped
	}
	out = append(out, Span{Start: s.start, End: s.end, Label: label, Score: s.score, Text: text[s.start:s.end]})
	*s = chunkState{}
	return out
}

// Decode runs one left-to-right pass over rows. Zero-width rows are
// ignored; malformed rows are skipped and counted. A bare I-X after an
// unrelated or absent chunk opens a new chunk instead of being rejected.
func (d ChunkDecoder) Decode(text string, rows []TokenRow, vocab Vocabulary) (spans []Span, skipped int) {
	spans = make([]Span, 0)
	var st chunkState
	for _, row := range rows {
		if row.Start == row.End {
			continue
		}
		label, ok := vocab.Label(row.LabelID)
		if !ok || !validRow(text, row) {
			skipped++
			continue
		}
		prefix, typ := splitTag(label)
		if row.Probability < d.threshold || typ == "" || typ == "O" {
			spans = st.flush(d, text, spans)
			continue
		}
		score := roundScore(row.Probability)
		if prefix == "B" || !st.open || st.typ != typ {
			spans = st.flush(d, text, spans)
			st.begin(typ, row, score)
			continue
		}
		st.extend(row, score)
	}
	spans = st.flush(d, text, spans)
	return spans, skipped
}

// splitTag splits "B-PER" into ("B", "PER"). Tags without a type, such as
// "O", return an empty type.
func splitTag(label string) (prefix, typ string) {
	prefix, typ, found := strings.Cut(label, "-")
	if !found {
		return label, ""
	}
	return prefix, typ
}

func validRow(text string, row TokenRow) bool {
	if row.Start < 0 || row.End > len(text) || row.Start > row.End {
		return false
	}
	if math.IsNaN(row.Probability) || row.Probability < 0 || row.Probability > 1 {
		return false
	}
	if row.Start < len(text) && !utf8.RuneStart(text[row.Start]) {
		return false
	}
	if row.End < len(text) && !utf8.RuneStart(text[row.End]) {
		return false
	}
	return true
}

func roundScore(p float64) float64 {
	return math.Round(p*1e4) / 1e4
}
