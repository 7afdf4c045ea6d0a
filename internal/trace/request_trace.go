package trace

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"piiguard/internal/logging"
)

type requestTraceContextKey string

const traceContextKey requestTraceContextKey = "trace"

// Stage names recorded outside the detectors.
const (
	StageMerge     = "merge"
	StageAggregate = "aggregate"
)

type stageTiming struct {
	name    string
	elapsed time.Duration
}

type RequestTrace struct {
	ID string

	Start time.Time

	TextBytes int
	Entities  int

	Sampled bool

	mu     sync.Mutex
	stages []stageTiming

	logOnce sync.Once
}

// NewRequestTrace starts a trace that is logged with probability sampleRate.
func NewRequestTrace(sampleRate float64) *RequestTrace {
	return &RequestTrace{
		ID:      uuid.NewString(),
		Start:   time.Now(),
		Sampled: sampleRate > 0 && mathrand.Float64() <= sampleRate,
	}
}

// WithID starts a trace reusing an existing request id.
func WithID(id string, sampleRate float64) *RequestTrace {
	tr := NewRequestTrace(sampleRate)
	if id != "" {
		tr.ID = id
	}
	return tr
}

func WithContext(ctx context.Context, tr *RequestTrace) context.Context {
	if tr == nil {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, tr)
}

func FromContext(ctx context.Context) (*RequestTrace, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(traceContextKey).(*RequestTrace)
	return tr, ok
}

// Mark records how long stage took. Safe for concurrent use; nil traces
// ignore the call.
func (t *RequestTrace) Mark(stage string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.stages = append(t.stages, stageTiming{name: stage, elapsed: elapsed})
	t.mu.Unlock()
}

// Stage returns the recorded duration of stage.
func (t *RequestTrace) Stage(stage string) (time.Duration, bool) {
	if t == nil {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.stages {
		if s.name == stage {
			return s.elapsed, true
		}
	}
	return 0, false
}

func (t *RequestTrace) LogAt(end time.Time, log logging.Logger) {
	if t == nil || !t.Sampled || log == nil {
		return
	}
	t.logOnce.Do(func() {
		fields := []logging.Field{
			logging.String("trace", t.ID),
			logging.Duration("total", durationBetween(t.Start, end)),
			logging.Int("text_bytes", t.TextBytes),
			logging.Int("entities", t.Entities),
		}
		t.mu.Lock()
		for _, s := range t.stages {
			fields = append(fields, logging.Duration(s.name, s.elapsed))
		}
		t.mu.Unlock()
		log.Debug("request trace", fields...)
	})
}

func durationBetween(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
