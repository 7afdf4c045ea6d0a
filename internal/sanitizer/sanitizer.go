// Package sanitizer replaces detected entities with stable placeholders and
// restores them afterwards.
package sanitizer

import (
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"piiguard/internal/detect"
)

// Item records one placeholder and the value it stands for.
type Item struct {
	Label       string `json:"label"`
	Original    string `json:"original"`
	Placeholder string `json:"placeholder"`
}

type occurrence struct {
	label string
	text  string
	start int
	end   int
}

// Redactor rewrites text given the entities predicted for it.
type Redactor struct {
	labels          mapset.Set[string]
	maxReplacements int
}

type Option func(*Redactor)

// WithLabels restricts redaction to the given labels. No labels means all.
func WithLabels(labels ...string) Option {
	return func(r *Redactor) {
		for _, l := range labels {
			if l = strings.ToUpper(strings.TrimSpace(l)); l != "" {
				r.labels.Add(l)
			}
		}
	}
}

// WithMaxReplacements stops after n replacements. Zero is unlimited.
func WithMaxReplacements(n int) Option {
	return func(r *Redactor) { r.maxReplacements = n }
}

func New(opts ...Option) *Redactor {
	r := &Redactor{labels: mapset.NewThreadUnsafeSet[string]()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Redact replaces every selected entity position with [LABEL_N]. N counts
// distinct texts per label in order of first appearance, so equal values
// share a placeholder. Overlapping positions keep the earlier, wider one.
func (r *Redactor) Redact(text string, entities []detect.Entity) (string, []Item) {
	if text == "" || len(entities) == 0 {
		return text, []Item{}
	}

	all := make([]occurrence, 0, len(entities))
	for _, e := range entities {
		if r.labels.Cardinality() > 0 && !r.labels.Contains(strings.ToUpper(e.Label)) {
			continue
		}
		for _, p := range e.Positions {
			if p[0] < 0 || p[1] > len(text) || p[0] >= p[1] {
				continue
			}
			all = append(all, occurrence{label: e.Label, text: text[p[0]:p[1]], start: p[0], end: p[1]})
		}
	}
	if len(all) == 0 {
		return text, []Item{}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start == all[j].start {
			return all[i].end > all[j].end
		}
		return all[i].start < all[j].start
	})

	counters := map[string]int{}
	placeholders := map[string]string{}
	items := make([]Item, 0)

	var out strings.Builder
	out.Grow(len(text))
	cursor, replaced := 0, 0
	for _, o := range all {
		if o.start < cursor {
			continue
		}
		if r.maxReplacements > 0 && replaced >= r.maxReplacements {
			break
		}
		key := o.label + "|" + o.text
		ph, ok := placeholders[key]
		if !ok {
			counters[o.label]++
			ph = "[" + strings.ToUpper(o.label) + "_" + strconv.Itoa(counters[o.label]) + "]"
			placeholders[key] = ph
			items = append(items, Item{Label: o.label, Original: o.text, Placeholder: ph})
		}
		out.WriteString(text[cursor:o.start])
		out.WriteString(ph)
		cursor = o.end
		replaced++
	}
	out.WriteString(text[cursor:])
	return out.String(), items
}

// Mapping returns placeholder → original for items.
func Mapping(items []Item) map[string]string {
	m := make(map[string]string, len(items))
	for _, it := range items {
		m[it.Placeholder] = it.Original
	}
	return m
}

// Restore puts the original values back. Longer placeholders are replaced
// first so [EMAIL_1] never clobbers the prefix of [EMAIL_10].
func Restore(text string, items []Item) string {
	if len(items) == 0 {
		return text
	}
	return newReplacer(Mapping(items)).Replace(text)
}

func newReplacer(mapping map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, mapping[k])
	}
	return strings.NewReplacer(pairs...)
}
