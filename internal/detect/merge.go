package detect

import "sort"

// MergeSpans resolves overlaps across all candidate spans and returns a
// left-to-right sequence in which no two spans overlap or touch.
//
// Candidates are ordered by start ascending, end descending. Each candidate
// is compared only against the most recently kept span: on conflict the
// longer span wins, and on equal length the higher score wins. Earlier kept
// spans are never revisited, so chains of three or more mutually
// overlapping spans are not resolved optimally.
func MergeSpans(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := append([]Span(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End > sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	chosen := make([]Span, 0, len(sorted))
	for _, s := range sorted {
		if len(chosen) == 0 {
			chosen = append(chosen, s)
			continue
		}
		last := &chosen[len(chosen)-1]
		if s.Start <= last.End {
			if prefer(s, *last) {
				*last = s
			}
			continue
		}
		chosen = append(chosen, s)
	}
	return chosen
}

func prefer(a, b Span) bool {
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	return a.Score > b.Score
}
