package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/beatflow/beatflow"
)

const tracerName = "github.com/beatflow/beatflow"

// Tracing is an Observer emitting one OpenTelemetry span per beat attempt
// (and per compensation). Runs are single-threaded, so one instance serves
// one run at a time; create a fresh Tracing per run.
type Tracing struct {
	tracer trace.Tracer
	base   context.Context
	spans  map[string]trace.Span
}

// NewTracing creates a tracing observer. base parents all spans; a nil
// provider falls back to the global one.
func NewTracing(base context.Context, tp trace.TracerProvider) *Tracing {
	if base == nil {
		base = context.Background()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{
		tracer: tp.Tracer(tracerName),
		base:   base,
		spans:  make(map[string]trace.Span),
	}
}

// ObserveEvent implements beatflow.Observer.
func (t *Tracing) ObserveEvent(ev beatflow.Event) {
	switch ev.Kind {
	case beatflow.EventStart:
		t.open(spanKey(ev), ev.Node, ev)
	case beatflow.EventCompensateStart:
		t.open(compensateKey(ev), "compensate "+ev.Node, ev)
	case beatflow.EventEnd:
		t.close(spanKey(ev), nil)
	case beatflow.EventCompensateEnd:
		t.close(compensateKey(ev), nil)
	case beatflow.EventError:
		t.close(spanKey(ev), ev.Err)
	case beatflow.EventCompensateError:
		t.close(compensateKey(ev), ev.Err)
	}
}

func (t *Tracing) open(key, name string, ev beatflow.Event) {
	_, span := t.tracer.Start(t.base, name, trace.WithAttributes(
		attribute.String("beatflow.node", ev.Node),
		attribute.Int("beatflow.attempt", ev.Attempt),
	))
	t.spans[key] = span
}

func (t *Tracing) close(key string, summary *beatflow.ErrorSummary) {
	span, ok := t.spans[key]
	if !ok {
		return
	}
	delete(t.spans, key)
	if summary != nil {
		span.SetStatus(codes.Error, summary.Message)
		span.SetAttributes(attribute.String("beatflow.error_kind", summary.Kind))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func spanKey(ev beatflow.Event) string {
	return fmt.Sprintf("%s#%d", ev.Node, ev.Attempt)
}

func compensateKey(ev beatflow.Event) string {
	return fmt.Sprintf("undo:%s#%d", ev.Node, ev.Attempt)
}
