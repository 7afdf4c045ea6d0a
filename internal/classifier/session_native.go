//go:build onnxruntime

package classifier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initEnvironment(sharedLibrary string) error {
	ortInitOnce.Do(func() {
		if sharedLibrary != "" {
			ort.SetSharedLibraryPath(sharedLibrary)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

func openSession(ctx context.Context, runtime, modelPath, sharedLibrary string) (session, error) {
	switch strings.ToLower(strings.TrimSpace(runtime)) {
	case "", RuntimeNative:
		return newNativeSession(modelPath, sharedLibrary)
	case RuntimePython:
		s, err := startPythonSession(ctx, modelPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown onnx runtime %q", runtime)
}

// nativeSession runs the model in-process. onnxruntime sessions accept
// concurrent Run calls.
type nativeSession struct {
	s      *ort.DynamicAdvancedSession
	inputs []string
}

func newNativeSession(modelPath, sharedLibrary string) (*nativeSession, error) {
	if err := initEnvironment(sharedLibrary); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}
	ins, outs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("model has no outputs")
	}
	inputs := make([]string, 0, len(ins))
	for _, in := range ins {
		inputs = append(inputs, in.Name)
	}
	s, err := ort.NewDynamicAdvancedSession(modelPath, inputs, []string{outs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &nativeSession{s: s, inputs: inputs}, nil
}

func (n *nativeSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seqLen := len(inputIDs)
	shape := ort.NewShape(1, int64(seqLen))

	values := make([]ort.Value, 0, len(n.inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()
	for _, name := range n.inputs {
		var data []int64
		switch {
		case strings.Contains(name, "input_ids"):
			data = inputIDs
		case strings.Contains(name, "attention_mask"):
			data = attentionMask
		case strings.Contains(name, "token_type_ids"):
			data = tokenTypeIDs
		default:
			data = make([]int64, seqLen)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		values = append(values, t)
	}

	outputs := []ort.Value{nil}
	if err := n.s.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	dims := logits.GetShape()
	if len(dims) != 3 || dims[0] != 1 || int(dims[1]) != seqLen {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	numLabels := int(dims[2])
	data := logits.GetData()
	out := make([][]float32, seqLen)
	for i := range out {
		row := make([]float32, numLabels)
		copy(row, data[i*numLabels:(i+1)*numLabels])
		out[i] = row
	}
	return out, nil
}

func (n *nativeSession) Close() error {
	return n.s.Destroy()
}
