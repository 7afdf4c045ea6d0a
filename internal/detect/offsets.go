package detect

import (
	"fmt"
	"sort"
)

// Offsets converts between byte offsets, used throughout this package, and
// code-point offsets, used by Python backends and by API clients.
type Offsets struct {
	// starts[i] is the byte offset of code point i; the last entry is the
	// text length. Nil for ASCII text, where both units agree.
	starts []int
	size   int
}

func NewOffsets(text string) Offsets {
	o := Offsets{size: len(text)}
	ascii := true
	for i := 0; i < len(text); i++ {
		if text[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return o
	}
	o.starts = make([]int, 0, len(text)+1)
	for i := range text {
		o.starts = append(o.starts, i)
	}
	o.starts = append(o.starts, len(text))
	return o
}

// Runes returns the text length in code points.
func (o Offsets) Runes() int {
	if o.starts == nil {
		return o.size
	}
	return len(o.starts) - 1
}

// ByteOffset converts code-point offset r. ok is false when r is outside
// [0, Runes()].
func (o Offsets) ByteOffset(r int) (int, bool) {
	if r < 0 || r > o.Runes() {
		return 0, false
	}
	if o.starts == nil {
		return r, true
	}
	return o.starts[r], true
}

// RuneOffset converts byte offset b. ok is false when b is out of range or
// falls inside a multi-byte character.
func (o Offsets) RuneOffset(b int) (int, bool) {
	if b < 0 || b > o.size {
		return 0, false
	}
	if o.starts == nil {
		return b, true
	}
	i := sort.SearchInts(o.starts, b)
	if i == len(o.starts) || o.starts[i] != b {
		return 0, false
	}
	return i, true
}

// CharPositions returns copies of entities with positions in code points.
func (o Offsets) CharPositions(entities []Entity) ([]Entity, error) {
	return o.convert(entities, o.RuneOffset)
}

// BytePositions returns copies of entities with code-point positions
// converted to bytes.
func (o Offsets) BytePositions(entities []Entity) ([]Entity, error) {
	return o.convert(entities, o.ByteOffset)
}

func (o Offsets) convert(entities []Entity, conv func(int) (int, bool)) ([]Entity, error) {
	out := make([]Entity, len(entities))
	for i, e := range entities {
		out[i] = e
		out[i].Positions = make([]Position, len(e.Positions))
		for j, pos := range e.Positions {
			start, ok1 := conv(pos[0])
			end, ok2 := conv(pos[1])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("position [%d,%d] of %s is outside the text", pos[0], pos[1], e.Label)
			}
			out[i].Positions[j] = Position{start, end}
		}
	}
	return out, nil
}
