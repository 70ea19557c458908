package beatflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// EventKind tags a trace event.
type EventKind string

const (
	EventStart           EventKind = "start"
	EventEnd             EventKind = "end"
	EventError           EventKind = "error"
	EventRetry           EventKind = "retry"
	EventCompensateStart EventKind = "compensate_start"
	EventCompensateEnd   EventKind = "compensate_end"
	EventCompensateError EventKind = "compensate_error"
)

// Event is one entry in the execution trace. Timestamps are unix milliseconds
// and non-decreasing within a run. Attempt is 1-based. Detail carries a free
// text note; Err carries the structured summary when the event records a
// failure; exactly one of the two is serialized as the "detail" field.
type Event struct {
	Kind      EventKind
	Node      string
	Timestamp int64
	Attempt   int
	Detail    string
	Err       *ErrorSummary
}

type eventJSON struct {
	Kind    EventKind       `json:"kind"`
	Node    string          `json:"node"`
	TS      int64           `json:"ts"`
	Attempt int             `json:"attempt"`
	Detail  json.RawMessage `json:"detail"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	var detail any = e.Detail
	if e.Err != nil {
		detail = e.Err
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventJSON{
		Kind:    e.Kind,
		Node:    e.Node,
		TS:      e.Timestamp,
		Attempt: e.Attempt,
		Detail:  raw,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var ej eventJSON
	if err := json.Unmarshal(data, &ej); err != nil {
		return err
	}
	if ej.Kind == "" || ej.Node == "" {
		return fmt.Errorf("event is missing mandatory kind/node fields")
	}
	e.Kind = ej.Kind
	e.Node = ej.Node
	e.Timestamp = ej.TS
	e.Attempt = ej.Attempt
	e.Detail = ""
	e.Err = nil
	if len(ej.Detail) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(ej.Detail, &s); err == nil {
		e.Detail = s
		return nil
	}
	var summary ErrorSummary
	if err := json.Unmarshal(ej.Detail, &summary); err != nil {
		return fmt.Errorf("event detail is neither a string nor an error summary: %w", err)
	}
	e.Err = &summary
	return nil
}

// StringSet is a set of step names that round-trips through JSON as a tagged
// ordered array ({"__set__": [...]}) so the set type survives serialization.
type StringSet map[string]struct{}

func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		s.Add(v)
	}
	return s
}

func (s StringSet) Add(v string) {
	s[v] = struct{}{}
}

func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Values returns the members in sorted order.
func (s StringSet) Values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]string{"__set__": s.Values()})
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Members []string `json:"__set__"`
	}
	if err := json.Unmarshal(data, &tagged); err == nil && tagged.Members != nil {
		*s = NewStringSet(tagged.Members...)
		return nil
	}
	// Lenient fallback: accept a plain array produced by older payloads.
	var plain []string
	if err := json.Unmarshal(data, &plain); err != nil {
		return fmt.Errorf("completed steps must be a __set__ object or an array: %w", err)
	}
	*s = NewStringSet(plain...)
	return nil
}

// Context is the mutable state carrier for one run. It holds the user payload,
// the append-only event trace, caller metadata and the completed-steps set
// that drives compensation. A context is created per run and must not be
// shared between concurrent runs; the runner guarantees at most one beat
// mutates it at a time.
type Context[T any] struct {
	Data      T
	Trace     []Event
	Metadata  map[string]any
	Completed StringSet

	logger    *slog.Logger
	sanitize  func(error) string
	observers []Observer
	now       func() time.Time
	lastTS    int64
	runDepth  int
}

// NewContext creates a fresh context around the given payload.
func NewContext[T any](data T) *Context[T] {
	return &Context[T]{
		Data:      data,
		Metadata:  make(map[string]any),
		Completed: make(StringSet),
		logger:    slog.Default(),
		sanitize:  func(err error) string { return err.Error() },
		now:       time.Now,
	}
}

// WithLogger sets the structured logger used to narrate the run. Chainable.
func (c *Context[T]) WithLogger(l *slog.Logger) *Context[T] {
	if l != nil {
		c.logger = l
	}
	return c
}

// WithSanitizer sets the formatter applied to errors before they are recorded
// in trace details, so callers can strip secrets or stack noise. Chainable.
func (c *Context[T]) WithSanitizer(fn func(error) string) *Context[T] {
	if fn != nil {
		c.sanitize = fn
	}
	return c
}

// WithObserver attaches an observer notified of every trace event. Chainable.
func (c *Context[T]) WithObserver(o Observer) *Context[T] {
	if o != nil {
		c.observers = append(c.observers, o)
	}
	return c
}

// WithMetadata sets one metadata entry. Chainable.
func (c *Context[T]) WithMetadata(key string, value any) *Context[T] {
	c.Metadata[key] = value
	return c
}

// Logger returns the context's structured logger.
func (c *Context[T]) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// FormatError renders an error through the configured sanitizer.
func (c *Context[T]) FormatError(err error) string {
	if c.sanitize == nil {
		return err.Error()
	}
	return c.sanitize(err)
}

// Emit stamps and appends an event to the trace, logs it, and notifies
// observers. Timestamps are clamped to be non-decreasing even if the wall
// clock steps backwards.
func (c *Context[T]) Emit(ev Event) {
	if ev.Timestamp == 0 {
		nowFn := c.now
		if nowFn == nil {
			nowFn = time.Now
		}
		ev.Timestamp = nowFn().UnixMilli()
	}
	if ev.Timestamp < c.lastTS {
		ev.Timestamp = c.lastTS
	}
	c.lastTS = ev.Timestamp
	if ev.Attempt < 1 {
		ev.Attempt = 1
	}
	c.Trace = append(c.Trace, ev)
	c.logEvent(ev)
	for _, o := range c.observers {
		o.ObserveEvent(ev)
	}
}

func (c *Context[T]) logEvent(ev Event) {
	l := c.Logger()
	switch ev.Kind {
	case EventError, EventCompensateError:
		msg := ev.Detail
		if ev.Err != nil {
			msg = ev.Err.Message
		}
		l.Error("step failed", "node", ev.Node, "kind", ev.Kind, "attempt", ev.Attempt, "error", msg)
	case EventRetry:
		l.Info("step retrying", "node", ev.Node, "attempt", ev.Attempt, "detail", ev.Detail)
	default:
		l.Info("step event", "node", ev.Node, "kind", ev.Kind, "attempt", ev.Attempt)
	}
}

// MarkCompleted records that the named beat finished successfully.
func (c *Context[T]) MarkCompleted(name string) {
	c.Completed.Add(name)
}

// WasCompleted reports whether the named beat finished successfully during
// this run. This is the authoritative test for compensation eligibility.
func (c *Context[T]) WasCompleted(name string) bool {
	return c.Completed.Has(name)
}

// enterRun guards against a compensator (or any beat) re-entering a runner
// with the context that is already mid-run.
func (c *Context[T]) enterRun() {
	if c.runDepth > 0 {
		contractViolation("context is already owned by a running runner; compensators must not re-enter the runner")
	}
	c.runDepth++
}

func (c *Context[T]) exitRun() {
	c.runDepth--
}
