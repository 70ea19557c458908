package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/beatflow/beatflow"
)

func TestLogLevel_FromEnv(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		os.Setenv("LOG_LEVEL", tt.value)
		if got := LogLevel(); got != tt.want {
			t.Errorf("LOG_LEVEL=%q: got %v, want %v", tt.value, got, tt.want)
		}
	}
	os.Unsetenv("LOG_LEVEL")
}

func TestMetrics_CountsEventsAndRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	f := beatflow.NewFlow("f", beatflow.StrategyContinue,
		beatflow.NewBeat("ok", func(ec *beatflow.Context[map[string]any]) error { return nil }),
		beatflow.NewBeat("bad", func(ec *beatflow.Context[map[string]any]) error { return errors.New("boom") }),
	)
	ec := beatflow.NewContext(map[string]any{}).WithObserver(m)

	out := beatflow.NewSyncRunner[map[string]any]().Run(f, ec)
	if out.Status != beatflow.StatusPartial {
		t.Fatalf("status = %s, want partial", out.Status)
	}

	if got := testutil.ToFloat64(m.events.WithLabelValues("start")); got != 2 {
		t.Errorf("start events counted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("error")); got != 1 {
		t.Errorf("error events counted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("partial")); got != 1 {
		t.Errorf("partial runs counted = %v, want 1", got)
	}
}

func TestTracing_OpensAndClosesSpans(t *testing.T) {
	// The noop global provider is enough to exercise the span bookkeeping.
	tr := NewTracing(context.Background(), nil)

	tr.ObserveEvent(beatflow.Event{Kind: beatflow.EventStart, Node: "a", Attempt: 1, Timestamp: 1})
	if len(tr.spans) != 1 {
		t.Fatalf("open spans = %d, want 1", len(tr.spans))
	}
	tr.ObserveEvent(beatflow.Event{Kind: beatflow.EventEnd, Node: "a", Attempt: 1, Timestamp: 2})
	if len(tr.spans) != 0 {
		t.Fatalf("open spans = %d, want 0 after end", len(tr.spans))
	}

	tr.ObserveEvent(beatflow.Event{Kind: beatflow.EventCompensateStart, Node: "a", Attempt: 1, Timestamp: 3})
	tr.ObserveEvent(beatflow.Event{Kind: beatflow.EventCompensateError, Node: "a", Attempt: 1, Timestamp: 4,
		Err: &beatflow.ErrorSummary{Kind: "user_error", Message: "undo broke"}})
	if len(tr.spans) != 0 {
		t.Fatalf("open spans = %d, want 0 after compensate_error", len(tr.spans))
	}

	// Closing an unknown span is a no-op, not a panic.
	tr.ObserveEvent(beatflow.Event{Kind: beatflow.EventEnd, Node: "ghost", Attempt: 1, Timestamp: 5})
}

func TestMetrics_ObserveOutcomeDirect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveOutcome(beatflow.OutcomeInfo{
		RunID:    "r-1",
		Node:     "f",
		Status:   beatflow.StatusFailed,
		Duration: 120 * time.Millisecond,
	})

	if got := testutil.ToFloat64(m.runs.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed runs counted = %v, want 1", got)
	}
}
