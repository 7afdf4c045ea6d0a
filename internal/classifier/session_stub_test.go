//go:build !onnxruntime

package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenSession_NativeRequestedWithoutTag(t *testing.T) {
	_, err := openSession(context.Background(), RuntimeNative, "/tmp/model.onnx", "")
	assert.ErrorContains(t, err, "build tag")
}

func TestOpenSession_UnknownRuntime(t *testing.T) {
	_, err := openSession(context.Background(), "tpu", "/tmp/model.onnx", "")
	assert.ErrorContains(t, err, "unknown onnx runtime")
}

func TestDecodePythonReply(t *testing.T) {
	reply, err := decodePythonReply([]byte(`{"logits":[[0.1,0.9],[1,0]]}`))
	assert.NoError(t, err)
	assert.Len(t, reply.Logits, 2)

	reply, err = decodePythonReply([]byte(`{"ready":true}`))
	assert.NoError(t, err)
	assert.True(t, reply.Ready)

	_, err = decodePythonReply([]byte(`{"error":"load model (needs onnxruntime, numpy): boom"}`))
	assert.ErrorContains(t, err, "needs onnxruntime")

	_, err = decodePythonReply([]byte(`not json`))
	assert.Error(t, err)
}

func TestPythonSession_CloseIdle(t *testing.T) {
	s := &pythonSession{modelPath: "/tmp/model.onnx"}
	assert.NoError(t, s.Close())
}
