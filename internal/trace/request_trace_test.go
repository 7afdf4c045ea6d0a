package trace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"piiguard/internal/logging"
)

func TestContextRoundTrip(t *testing.T) {
	tr := NewRequestTrace(0)
	ctx := WithContext(context.Background(), tr)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, tr, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
	assert.Equal(t, context.Background(), WithContext(context.Background(), nil))
}

func TestWithID(t *testing.T) {
	assert.Equal(t, "req-1", WithID("req-1", 0).ID)
	assert.NotEmpty(t, WithID("", 0).ID)
}

func TestMarkConcurrent(t *testing.T) {
	tr := NewRequestTrace(0)
	var wg sync.WaitGroup
	for _, name := range []string{"pattern", "general", "domain"} {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			tr.Mark(n, time.Millisecond)
		}(name)
	}
	wg.Wait()

	for _, name := range []string{"pattern", "general", "domain"} {
		d, ok := tr.Stage(name)
		assert.True(t, ok, name)
		assert.Equal(t, time.Millisecond, d)
	}
	_, ok := tr.Stage(StageMerge)
	assert.False(t, ok)

	var nilTrace *RequestTrace
	nilTrace.Mark("x", time.Second)
}

func TestLogAtOnlyWhenSampled(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logging.NewFromCore(core)

	tr := NewRequestTrace(1)
	tr.Mark(StageMerge, time.Microsecond)
	tr.LogAt(time.Now(), log)
	tr.LogAt(time.Now(), log)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, tr.ID, logs.All()[0].ContextMap()["trace"])

	NewRequestTrace(0).LogAt(time.Now(), log)
	assert.Equal(t, 1, logs.Len())
}
