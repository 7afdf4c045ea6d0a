package classifier

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piiguard/internal/detect"
)

type fakeSession struct {
	calls  [][]int64
	logits func(ids []int64) [][]float32
	err    error
	closed bool
}

func (f *fakeSession) Run(_ context.Context, ids, mask, types []int64) ([][]float32, error) {
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	return f.logits(ids), nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

// personLogits tags vocabulary ids 7 and 8 (John, Smith) as B-PER / I-PER.
func personLogits(ids []int64) [][]float32 {
	out := make([][]float32, len(ids))
	for i, id := range ids {
		switch id {
		case 7:
			out[i] = []float32{0, 5, 0}
		case 8:
			out[i] = []float32{0, 0, 5}
		default:
			out[i] = []float32{5, 0, 0}
		}
	}
	return out
}

var personVocab = detect.Vocabulary{0: "O", 1: "B-PER", 2: "I-PER"}

func TestONNX_ClassifyRows(t *testing.T) {
	sess := &fakeSession{logits: personLogits}
	o := newONNX(newTestTokenizer(t), sess, personVocab)

	text := "My name is John Smith."
	rows, err := o.Classify(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, rows, 8)

	assert.Equal(t, 0, rows[0].Start)
	assert.Equal(t, 0, rows[0].End)
	assert.Equal(t, 1, rows[4].LabelID)
	assert.Equal(t, "John", text[rows[4].Start:rows[4].End])
	assert.Equal(t, 2, rows[5].LabelID)
	assert.InDelta(t, 0.9867, rows[5].Probability, 1e-4)

	spans, skipped := detect.NewChunkDecoder(detect.GeneralThreshold, detect.GeneralLabelRemap()).Decode(text, rows, o.Vocabulary())
	assert.Zero(t, skipped)
	require.Len(t, spans, 1)
	assert.Equal(t, "John Smith", spans[0].Text)
	assert.Equal(t, "PERSON", spans[0].Label)

	require.NoError(t, o.Close())
	assert.True(t, sess.closed)
}

func TestONNX_ClassifyWindows(t *testing.T) {
	tok := newTestTokenizer(t)
	tok.maxSeqLen = 4
	sess := &fakeSession{logits: personLogits}
	o := newONNX(tok, sess, personVocab)

	rows, err := o.Classify(context.Background(), "My name is John Smith")
	require.NoError(t, err)
	require.Len(t, sess.calls, 3)
	assert.Equal(t, []int64{2, 4, 5, 3}, sess.calls[0])
	assert.Equal(t, []int64{2, 8, 3}, sess.calls[2])
	assert.Len(t, rows, 11)
}

func TestONNX_ClassifyEmpty(t *testing.T) {
	sess := &fakeSession{logits: personLogits}
	o := newONNX(newTestTokenizer(t), sess, personVocab)
	rows, err := o.Classify(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, sess.calls)
}

func TestONNX_ClassifyErrors(t *testing.T) {
	boom := errors.New("boom")
	o := newONNX(newTestTokenizer(t), &fakeSession{err: boom}, personVocab)
	_, err := o.Classify(context.Background(), "John")
	assert.ErrorIs(t, err, boom)

	short := &fakeSession{logits: func(ids []int64) [][]float32 { return [][]float32{{1}} }}
	o = newONNX(newTestTokenizer(t), short, personVocab)
	_, err = o.Classify(context.Background(), "John")
	assert.ErrorContains(t, err, "rows for")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Classify(ctx, "John")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewONNX_LoadErrors(t *testing.T) {
	_, err := NewONNX(filepath.Join(t.TempDir(), "missing"), "", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "model missing")

	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "model.onnx"), "x")
	mustWrite(t, filepath.Join(dir, "labels.json"), "{")
	_, err = NewONNX(dir, "", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "load labels")

	dir = t.TempDir()
	mustWrite(t, filepath.Join(dir, "model.onnx"), "x")
	mustWrite(t, filepath.Join(dir, "labels.json"), `{"0":"O"}`)
	mustWrite(t, filepath.Join(dir, "tokenizer.json"), "{")
	_, err = NewONNX(dir, "", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "load tokenizer")

	mustWrite(t, filepath.Join(dir, "tokenizer.json"), testTokenizerJSON)
	_, err = NewONNX(dir, "gpu", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "unknown onnx runtime")
}

func TestSoftmax(t *testing.T) {
	probs := softmax([]float32{1000, 1001, 1002})
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, 2, argmax(probs))
	assert.Nil(t, softmax(nil))
}
