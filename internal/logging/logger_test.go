package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := New(Config{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestFieldsReachCore(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromCore(core).Named("detect").With(String("branch", "general"))

	l.Info("decoded", Int("spans", 3), Duration("elapsed", time.Millisecond), Err(errors.New("boom")))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "detect", entry.LoggerName)
	ctx := entry.ContextMap()
	assert.Equal(t, "general", ctx["branch"])
	assert.Equal(t, int64(3), ctx["spans"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestSetLevel(t *testing.T) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core, logs := observer.New(level)
	l := &zapLogger{z: zap.New(core), level: level}

	l.Debug("hidden")
	require.NoError(t, SetLevel(l, "debug"))
	l.Debug("shown")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown", logs.All()[0].Message)
	assert.Error(t, SetLevel(l, "nope"))
	assert.NoError(t, SetLevel(NewNop(), "debug"))
}

func TestDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	SetDefault(nil)
	assert.Equal(t, prev, Default())

	l := NewNop()
	SetDefault(l)
	assert.Equal(t, l, Default())
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
	assert.Equal(t, l, l.With(String("k", "v")).Named("n"))
}
