package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"piiguard/internal/detect"
)

// remote calls a running piid. The server reports positions in code
// points; Predict returns them in bytes like the local pipeline.
type remote struct {
	base   string
	client *http.Client
}

func newRemote(base string, timeout time.Duration) *remote {
	return &remote{base: strings.TrimRight(base, "/"), client: &http.Client{Timeout: timeout}}
}

func (r *remote) Predict(ctx context.Context, text string) ([]detect.Entity, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", r.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	var out struct {
		PII []detect.Entity `json:"pii"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	entities, err := detect.NewOffsets(text).BytePositions(out.PII)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return entities, nil
}
