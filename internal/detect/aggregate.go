package detect

type entityKey struct {
	label string
	text  string
}

// Aggregate groups merged spans by exact (label, text). Text comparison is
// case-sensitive. Positions keep span order and the score is the maximum of
// the contributing spans. Groups are returned in first-seen order.
func Aggregate(spans []Span) []Entity {
	index := make(map[entityKey]int, len(spans))
	out := make([]Entity, 0, len(spans))
	for _, s := range spans {
		key := entityKey{label: s.Label, text: s.Text}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, Entity{Label: s.Label, Text: s.Text, Score: s.Score, Positions: []Position{{s.Start, s.End}}})
			continue
		}
		e := &out[i]
		e.Positions = append(e.Positions, Position{s.Start, s.End})
		if s.Score > e.Score {
			e.Score = s.Score
		}
	}
	return out
}
