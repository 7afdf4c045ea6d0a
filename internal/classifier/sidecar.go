package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"piiguard/internal/detect"
)

// Sidecar calls an HTTP token-classification service, typically a python
// transformers host next to piid. The label map is fetched once from
// GET /labels; POST /classify returns token rows whose offsets count code
// points, as Python string indexing does. They are converted to byte
// offsets here.
type Sidecar struct {
	base  string
	http  *http.Client
	vocab detect.Vocabulary
}

type sidecarRequest struct {
	Text string `json:"text"`
}

type sidecarResponse struct {
	Tokens []sidecarToken `json:"tokens"`
}

type sidecarToken struct {
	Start       int     `json:"start"`
	End         int     `json:"end"`
	LabelID     int     `json:"label_id"`
	Probability float64 `json:"probability"`
}

func NewSidecar(ctx context.Context, baseURL string, timeout time.Duration) (*Sidecar, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("sidecar url is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Sidecar{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
	vocab, err := s.fetchLabels(ctx)
	if err != nil {
		return nil, err
	}
	s.vocab = vocab
	return s, nil
}

func (s *Sidecar) fetchLabels(ctx context.Context) (detect.Vocabulary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/labels", nil)
	if err != nil {
		return nil, fmt.Errorf("sidecar: request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar: labels: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sidecar: labels: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar: labels: unexpected status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("sidecar: labels: invalid json")
	}
	labels := gjson.GetBytes(body, "labels")
	if !labels.Exists() {
		labels = gjson.ParseBytes(body)
	}
	return parseLabels(labels)
}

func (s *Sidecar) Vocabulary() detect.Vocabulary { return s.vocab }

// Classify is safe for concurrent use.
func (s *Sidecar) Classify(ctx context.Context, text string) ([]detect.TokenRow, error) {
	body, err := json.Marshal(sidecarRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("sidecar: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sidecar: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("sidecar: classify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar: classify: unexpected status %d", resp.StatusCode)
	}

	var result sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sidecar: decode: %w", err)
	}
	return tokenRows(text, result.Tokens), nil
}

func tokenRows(text string, tokens []sidecarToken) []detect.TokenRow {
	offs := detect.NewOffsets(text)
	rows := make([]detect.TokenRow, 0, len(tokens))
	for _, t := range tokens {
		start, okStart := offs.ByteOffset(t.Start)
		end, okEnd := offs.ByteOffset(t.End)
		if !okStart || !okEnd {
			// Out of range: keep the row malformed so the decoder counts it.
			start, end = -1, len(text)+1
		}
		rows = append(rows, detect.TokenRow{Start: start, End: end, LabelID: t.LabelID, Probability: t.Probability})
	}
	return rows
}
