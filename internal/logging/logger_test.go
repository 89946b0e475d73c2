package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tests := []struct {
		name  string
		log   func()
		level zapcore.Level
	}{
		{"trace", func() { tl.Trace(ctx, "trace message") }, TraceLevel},
		{"debug", func() { tl.Debug(ctx, "debug message") }, zapcore.DebugLevel},
		{"info", func() { tl.Info(ctx, "info message") }, zapcore.InfoLevel},
		{"warn", func() { tl.Warn(ctx, "warn message") }, zapcore.WarnLevel},
		{"error", func() { tl.Error(ctx, "error message") }, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl.Reset()
			tt.log()
			entries := tl.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			assert.Equal(t, tt.name+" message", entries[0].Message)
		})
	}
}

func TestLogger_ContextCorrelation(t *testing.T) {
	tl := NewTestLogger()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "sess_9")

	tl.Info(ctx, "processed", zap.String("backend", "regex"))

	tl.AssertField(t, "processed", "trace_id", "4bf92f3577b34da6a3ce929d0e0e4736")
	tl.AssertField(t, "processed", "span_id", "00f067aa0ba902b7")
	tl.AssertField(t, "processed", "request.id", "req-1")
	tl.AssertField(t, "processed", "session.id", "sess_9")
	tl.AssertField(t, "processed", "backend", "regex")
}

func TestWithRequestID_RejectsInvalid(t *testing.T) {
	ctx := WithRequestID(context.Background(), "bad id\nwith newline")
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithSessionID(context.Background(), "")
	assert.Empty(t, SessionIDFromContext(ctx))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "via context")
	tl.AssertLogged(t, zapcore.InfoLevel, "via context")
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.With(zap.String("component", "chain")).Named("pipeline")
	child.Warn(context.Background(), "backend failed")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline", entries[0].LoggerName)
	tl.AssertField(t, "backend failed", "component", "chain")
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("TRACE")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}
