//go:build !onnxruntime

package classifier

import (
	"context"
	"fmt"
	"strings"
)

func openSession(ctx context.Context, runtime, modelPath, _ string) (session, error) {
	switch strings.ToLower(strings.TrimSpace(runtime)) {
	case "", RuntimePython:
		s, err := startPythonSession(ctx, modelPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case RuntimeNative:
		return nil, fmt.Errorf("native ONNX runtime requires build tag 'onnxruntime'")
	}
	return nil, fmt.Errorf("unknown onnx runtime %q", runtime)
}
