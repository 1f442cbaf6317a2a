package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("unit", Options{Dir: dir})
	SetLogLevel("info")
	l.Info("hello")
	_ = l.Sync()

	if _, err := os.Stat(filepath.Join(dir, "unit.log")); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}

func TestSetLogLevel(t *testing.T) {
	SetLogLevel("debug")
	if Level() != zapcore.DebugLevel {
		t.Errorf("level = %s, want debug", Level())
	}
	SetLogLevel("loud")
	if Level() != zapcore.DebugLevel {
		t.Errorf("invalid level changed the level to %s", Level())
	}
	SetLogLevel("info")
}

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithTrace(context.Background(), base).Info("no span")

	shutdown := InitTrace("test", "logger")
	defer func() { _ = shutdown(context.Background()) }()
	ctx, span := StartSpan(context.Background(), "test", "op")
	WithTrace(ctx, base).Info("in span")
	EndSpan(span, nil)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if _, ok := entries[0].ContextMap()["trace_id"]; ok {
		t.Errorf("trace_id attached without a span")
	}
	if got := entries[1].ContextMap()["trace_id"]; got != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want %s", got, span.SpanContext().TraceID())
	}
}
