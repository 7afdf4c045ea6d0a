package classifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"piiguard/internal/detect"
)

// ONNX is a WordPiece + ONNX token-classification backend. Texts longer
// than one model window are classified window by window.
type ONNX struct {
	tokenizer *WordPieceTokenizer
	session   session
	vocab     detect.Vocabulary
}

// NewONNX loads the model directory and opens an inference session.
func NewONNX(modelDir, runtime, sharedLibrary string) (*ONNX, error) {
	modelPath := filepath.Join(modelDir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: model missing: %w", ErrUnavailable, err)
	}
	vocab, err := LoadVocabulary(modelDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	tok, err := NewWordPieceTokenizer(filepath.Join(modelDir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: load tokenizer: %w", ErrUnavailable, err)
	}
	sess, err := openSession(context.Background(), runtime, modelPath, sharedLibrary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return newONNX(tok, sess, vocab), nil
}

func newONNX(tok *WordPieceTokenizer, sess session, vocab detect.Vocabulary) *ONNX {
	return &ONNX{tokenizer: tok, session: sess, vocab: vocab}
}

func (o *ONNX) Vocabulary() detect.Vocabulary { return o.vocab }

func (o *ONNX) Classify(ctx context.Context, text string) ([]detect.TokenRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pieces := o.tokenizer.Pieces(text)
	rows := make([]detect.TokenRow, 0, len(pieces)+2)
	window := o.tokenizer.MaxPieces()
	for start := 0; start < len(pieces); start += window {
		end := start + window
		if end > len(pieces) {
			end = len(pieces)
		}
		enc := o.tokenizer.Encode(pieces[start:end])
		logits, err := o.session.Run(ctx, enc.InputIDs, enc.AttentionMask, enc.TokenTypeIDs)
		if err != nil {
			return nil, err
		}
		if len(logits) != len(enc.InputIDs) {
			return nil, fmt.Errorf("model returned %d rows for %d tokens", len(logits), len(enc.InputIDs))
		}
		for i, l := range logits {
			probs := softmax(l)
			if len(probs) == 0 {
				return nil, fmt.Errorf("model returned empty logits at token %d", i)
			}
			best := argmax(probs)
			rows = append(rows, detect.TokenRow{
				Start:       enc.Offsets[i][0],
				End:         enc.Offsets[i][1],
				LabelID:     best,
				Probability: probs[best],
			})
		}
	}
	return rows, nil
}

func (o *ONNX) Close() error { return o.session.Close() }
