package classifier

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// pythonSession keeps one python3 worker alive for the model. Requests and
// replies are single JSON lines; the worker answers one request at a time.
type pythonSession struct {
	modelPath string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr bytes.Buffer
}

type pythonInferRequest struct {
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`
	TokenTypeIDs  []int64 `json:"token_type_ids"`
}

type pythonReply struct {
	Ready  bool        `json:"ready"`
	Logits [][]float32 `json:"logits"`
	Error  string      `json:"error"`
}

// startPythonSession launches the worker and waits until the model is
// loaded, so a broken install fails at start-up.
func startPythonSession(ctx context.Context, modelPath string) (*pythonSession, error) {
	s := &pythonSession{modelPath: modelPath}
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *pythonSession) start(ctx context.Context) error {
	// Not CommandContext: the worker outlives the start-up context.
	cmd := exec.Command("python3", "-u", "-c", pythonWorkerScript, s.modelPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	s.stderr.Reset()
	cmd.Stderr = &s.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start python3: %w", err)
	}
	s.cmd, s.stdin, s.stdout = cmd, stdin, bufio.NewReader(stdout)

	hello, err := s.exchange(ctx, nil)
	if err == nil && !hello.Ready {
		err = errors.New("worker did not report ready")
	}
	if err != nil {
		s.kill()
		detail := bytes.TrimSpace(s.stderr.Bytes())
		if len(detail) > 0 {
			return fmt.Errorf("python onnx runtime check failed: %w: %s", err, detail)
		}
		return fmt.Errorf("python onnx runtime check failed: %w", err)
	}
	return nil
}

func (s *pythonSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		if err := s.start(ctx); err != nil {
			return nil, err
		}
	}
	reply, err := s.exchange(ctx, &pythonInferRequest{
		InputIDs:      inputIDs,
		AttentionMask: attentionMask,
		TokenTypeIDs:  tokenTypeIDs,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.kill()
		return nil, fmt.Errorf("python onnx inference failed: %w", err)
	}
	return reply.Logits, nil
}

// exchange sends req (nil only reads) and waits for one reply line. A
// cancelled context kills the worker; the next Run starts a new one.
func (s *pythonSession) exchange(ctx context.Context, req *pythonInferRequest) (pythonReply, error) {
	if req != nil {
		line, err := json.Marshal(req)
		if err != nil {
			return pythonReply{}, err
		}
		if _, err := s.stdin.Write(append(line, '\n')); err != nil {
			return pythonReply{}, fmt.Errorf("write request: %w", err)
		}
	}

	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	out := s.stdout
	go func() {
		line, err := out.ReadBytes('\n')
		ch <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		s.kill()
		return pythonReply{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return pythonReply{}, fmt.Errorf("read reply: %w", r.err)
		}
		return decodePythonReply(r.line)
	}
}

func decodePythonReply(raw []byte) (pythonReply, error) {
	var reply pythonReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return pythonReply{}, fmt.Errorf("parse python onnx output: %w", err)
	}
	if reply.Error != "" {
		return reply, fmt.Errorf("python onnx worker: %s", reply.Error)
	}
	return reply, nil
}

func (s *pythonSession) kill() {
	if s.cmd == nil {
		return
	}
	_ = s.stdin.Close()
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	s.cmd, s.stdin, s.stdout = nil, nil, nil
}

// Close ends the worker by closing its stdin.
func (s *pythonSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	_ = s.stdin.Close()
	err := s.cmd.Wait()
	s.cmd, s.stdin, s.stdout = nil, nil, nil
	return err
}

const pythonWorkerScript = `
import json
import sys

def reply(obj):
    sys.stdout.write(json.dumps(obj) + "\n")
    sys.stdout.flush()

try:
    import numpy as np
    import onnxruntime as ort
    sess = ort.InferenceSession(sys.argv[1], providers=["CPUExecutionProvider"])
except Exception as exc:
    reply({"error": f"load model (needs onnxruntime, numpy): {exc}"})
    sys.exit(1)

input_names = [i.name for i in sess.get_inputs()]
reply({"ready": True})

for line in sys.stdin:
    try:
        req = json.loads(line)
        seq_len = len(req["input_ids"])
        arrays = {
            "input_ids": np.array([req["input_ids"]], dtype=np.int64),
            "attention_mask": np.array([req["attention_mask"]], dtype=np.int64),
            "token_type_ids": np.array([req["token_type_ids"]], dtype=np.int64),
        }
        feed = {}
        for name in input_names:
            feed[name] = np.zeros((1, seq_len), dtype=np.int64)
            for key, value in arrays.items():
                if key in name:
                    feed[name] = value
        logits = sess.run(None, feed)[0][0].astype(np.float32).tolist()
        reply({"logits": logits})
    except Exception as exc:
        reply({"error": str(exc)})
`
