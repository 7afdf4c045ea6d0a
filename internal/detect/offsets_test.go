package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsets_ASCII(t *testing.T) {
	o := NewOffsets("hello")
	assert.Equal(t, 5, o.Runes())
	b, ok := o.ByteOffset(5)
	assert.True(t, ok)
	assert.Equal(t, 5, b)
	_, ok = o.ByteOffset(6)
	assert.False(t, ok)
	_, ok = o.RuneOffset(-1)
	assert.False(t, ok)
}

func TestOffsets_MultiByte(t *testing.T) {
	text := "José a@b.co"
	o := NewOffsets(text)
	assert.Equal(t, 11, o.Runes())

	b, ok := o.ByteOffset(5)
	require.True(t, ok)
	assert.Equal(t, 6, b)
	b, ok = o.ByteOffset(11)
	require.True(t, ok)
	assert.Equal(t, len(text), b)

	r, ok := o.RuneOffset(6)
	require.True(t, ok)
	assert.Equal(t, 5, r)
	_, ok = o.RuneOffset(4)
	assert.False(t, ok, "inside the two-byte é")
}

func TestOffsets_EntityPositions(t *testing.T) {
	text := "José a@b.co a@b.co"
	entities := Aggregate(MergeSpans(NewPatternMatcher(DefaultPatterns()).Match(text)))
	require.Len(t, entities, 1)
	assert.Equal(t, []Position{{6, 12}, {13, 19}}, entities[0].Positions)

	o := NewOffsets(text)
	chars, err := o.CharPositions(entities)
	require.NoError(t, err)
	assert.Equal(t, []Position{{5, 11}, {12, 18}}, chars[0].Positions)
	assert.Equal(t, []Position{{6, 12}, {13, 19}}, entities[0].Positions, "input is not modified")

	back, err := o.BytePositions(chars)
	require.NoError(t, err)
	assert.Equal(t, entities, back)

	_, err = o.BytePositions([]Entity{{Label: "EMAIL", Positions: []Position{{5, 40}}}})
	assert.ErrorContains(t, err, "outside the text")
}
