package beatflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Func is a synchronous beat function. It mutates the shared context and
// reports failure through its error.
type Func[T any] func(ec *Context[T]) error

// AsyncFunc is an asynchronous beat function; ctx delivers cooperative
// cancellation.
type AsyncFunc[T any] func(ctx context.Context, ec *Context[T]) error

// Beat is the atomic executable: one user function, an optional undo
// function, and a retry policy. The function reference is owned by the
// caller; the beat never copies or closes over its state.
type Beat[T any] struct {
	name        string
	description string
	fn          Func[T]
	asyncFn     AsyncFunc[T]
	undo        Func[T]
	asyncUndo   AsyncFunc[T]
	retry       RetryPolicy
}

// NewBeat wraps a synchronous function into a beat. Panics with a
// contract_violation on an empty name or nil function.
func NewBeat[T any](name string, fn Func[T]) *Beat[T] {
	if name == "" {
		contractViolation("beat has an empty name")
	}
	if fn == nil {
		contractViolation("beat %q has a nil function", name)
	}
	return &Beat[T]{name: name, fn: fn, retry: NoRetry()}
}

// NewAsyncBeat wraps an asynchronous function into a beat. The beat is
// statically marked async and is rejected by the sync runner.
func NewAsyncBeat[T any](name string, fn AsyncFunc[T]) *Beat[T] {
	if name == "" {
		contractViolation("beat has an empty name")
	}
	if fn == nil {
		contractViolation("beat %q has a nil function", name)
	}
	return &Beat[T]{name: name, asyncFn: fn, retry: NoRetry()}
}

// WithDescription sets the semantic description surfaced in manifests. Chainable.
func (b *Beat[T]) WithDescription(d string) *Beat[T] {
	b.description = d
	return b
}

// WithRetry attaches a retry policy. The policy is normalized (defaults and
// safety caps applied) at attach time. Chainable.
func (b *Beat[T]) WithRetry(p RetryPolicy) *Beat[T] {
	b.retry = p.normalized()
	return b
}

// WithUndo attaches a synchronous compensator. Chainable.
func (b *Beat[T]) WithUndo(fn Func[T]) *Beat[T] {
	b.undo = fn
	return b
}

// WithAsyncUndo attaches an asynchronous compensator. The beat itself stays
// runnable under the sync runner; the mismatch is detected at compensation
// time and recorded as a compensation error.
func (b *Beat[T]) WithAsyncUndo(fn AsyncFunc[T]) *Beat[T] {
	b.asyncUndo = fn
	return b
}

func (b *Beat[T]) Name() string        { return b.name }
func (b *Beat[T]) Description() string { return b.description }

// IsAsync reports whether the beat's function requires the async runner. An
// async undo alone does not mark the beat async: it surfaces as a
// compensation error instead.
func (b *Beat[T]) IsAsync() bool { return b.asyncFn != nil }

// Retry returns the beat's normalized retry policy.
func (b *Beat[T]) Retry() RetryPolicy { return b.retry }

// HasUndo reports whether a compensator is attached.
func (b *Beat[T]) HasUndo() bool { return b.undo != nil || b.asyncUndo != nil }

func (b *Beat[T]) collectBeats(dst []*Beat[T]) []*Beat[T] {
	return append(dst, b)
}

// Execute drives the retry state machine synchronously. Exactly one of a
// success end event or a terminal error event is emitted; the beat's name
// joins completed_steps only on success.
func (b *Beat[T]) Execute(ec *Context[T]) *Outcome[T] {
	started := time.Now()
	if b.asyncFn != nil {
		ec.Emit(Event{Kind: EventStart, Node: b.name, Attempt: 1})
		fe := b.mismatchError("beat function is async", 1)
		ec.Emit(Event{Kind: EventError, Node: b.name, Attempt: 1, Err: fe.Summary()})
		return failedOutcome(ec, started, fe)
	}

	attempt := 1
	for {
		ec.Emit(Event{Kind: EventStart, Node: b.name, Attempt: attempt})
		err := b.fn(ec)
		if err == nil {
			ec.Emit(Event{Kind: EventEnd, Node: b.name, Attempt: attempt})
			ec.MarkCompleted(b.name)
			return successOutcome(ec, started)
		}

		if asSuspended(err) != nil {
			// The thunk is dropped unexecuted so no half-run work leaks.
			fe := b.mismatchError("beat function returned suspended work", attempt)
			ec.Emit(Event{Kind: EventError, Node: b.name, Attempt: attempt, Err: fe.Summary()})
			return failedOutcome(ec, started, fe)
		}

		fe := b.failure(err, attempt)
		ec.Emit(Event{Kind: EventError, Node: b.name, Attempt: attempt, Err: b.summarize(ec, fe)})

		if b.shouldRetry(attempt, err, fe) {
			d := b.retry.NextDelay(attempt)
			ec.Emit(Event{
				Kind:    EventRetry,
				Node:    b.name,
				Attempt: attempt,
				Detail:  fmt.Sprintf("retrying in %s (attempt %d/%d)", d, attempt, b.retry.MaxAttempts),
			})
			time.Sleep(d)
			attempt++
			continue
		}
		return failedOutcome(ec, started, fe)
	}
}

// ExecuteAsync drives the retry state machine cooperatively. Cancellation is
// observed before each attempt and during backoff sleeps; a cancelled beat
// fails with the cancelled kind and is never retried.
func (b *Beat[T]) ExecuteAsync(ctx context.Context, ec *Context[T]) *Outcome[T] {
	started := time.Now()
	attempt := 1
	for {
		ec.Emit(Event{Kind: EventStart, Node: b.name, Attempt: attempt})
		if err := ctx.Err(); err != nil {
			fe := b.cancelledError(err, attempt)
			ec.Emit(Event{Kind: EventError, Node: b.name, Attempt: attempt, Err: fe.Summary()})
			return failedOutcome(ec, started, fe)
		}

		err := b.invoke(ctx, ec)
		if err == nil {
			ec.Emit(Event{Kind: EventEnd, Node: b.name, Attempt: attempt})
			ec.MarkCompleted(b.name)
			return successOutcome(ec, started)
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			fe := b.cancelledError(err, attempt)
			ec.Emit(Event{Kind: EventError, Node: b.name, Attempt: attempt, Err: fe.Summary()})
			return failedOutcome(ec, started, fe)
		}

		fe := b.failure(err, attempt)
		ec.Emit(Event{Kind: EventError, Node: b.name, Attempt: attempt, Err: b.summarize(ec, fe)})

		if b.shouldRetry(attempt, err, fe) {
			d := b.retry.NextDelay(attempt)
			ec.Emit(Event{
				Kind:    EventRetry,
				Node:    b.name,
				Attempt: attempt,
				Detail:  fmt.Sprintf("retrying in %s (attempt %d/%d)", d, attempt, b.retry.MaxAttempts),
			})
			sleepCtx(ctx, d)
			attempt++
			continue
		}
		return failedOutcome(ec, started, fe)
	}
}

// invoke calls the beat function for the async path, driving any suspended
// work it hands back.
func (b *Beat[T]) invoke(ctx context.Context, ec *Context[T]) error {
	var err error
	if b.asyncFn != nil {
		err = b.asyncFn(ctx, ec)
	} else {
		err = b.fn(ec)
	}
	if s := asSuspended(err); s != nil {
		return s.thunk(ctx)
	}
	return err
}

// compensate runs the undo function synchronously, emitting the compensate
// event triple. Returns the recorded error, if any; compensation failures
// never abort the surrounding rollback.
func (b *Beat[T]) compensate(ec *Context[T]) *FlowError {
	if !b.HasUndo() {
		return nil
	}
	ec.Emit(Event{Kind: EventCompensateStart, Node: b.name, Attempt: 1})
	if b.asyncUndo != nil {
		fe := b.mismatchError("compensator is async", 1)
		ec.Emit(Event{Kind: EventCompensateError, Node: b.name, Attempt: 1, Err: fe.Summary()})
		return fe
	}
	err := b.undo(ec)
	if err != nil {
		if asSuspended(err) != nil {
			fe := b.mismatchError("compensator returned suspended work", 1)
			ec.Emit(Event{Kind: EventCompensateError, Node: b.name, Attempt: 1, Err: fe.Summary()})
			return fe
		}
		fe := b.failure(err, 1)
		ec.Emit(Event{Kind: EventCompensateError, Node: b.name, Attempt: 1, Err: b.summarize(ec, fe)})
		return fe
	}
	ec.Emit(Event{Kind: EventCompensateEnd, Node: b.name, Attempt: 1})
	return nil
}

// compensateAsync runs the undo function cooperatively.
func (b *Beat[T]) compensateAsync(ctx context.Context, ec *Context[T]) *FlowError {
	if !b.HasUndo() {
		return nil
	}
	ec.Emit(Event{Kind: EventCompensateStart, Node: b.name, Attempt: 1})
	var err error
	if b.asyncUndo != nil {
		err = b.asyncUndo(ctx, ec)
	} else {
		err = b.undo(ec)
	}
	if s := asSuspended(err); s != nil {
		err = s.thunk(ctx)
	}
	if err != nil {
		var fe *FlowError
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			fe = b.cancelledError(err, 1)
		} else {
			fe = b.failure(err, 1)
		}
		ec.Emit(Event{Kind: EventCompensateError, Node: b.name, Attempt: 1, Err: b.summarize(ec, fe)})
		return fe
	}
	ec.Emit(Event{Kind: EventCompensateEnd, Node: b.name, Attempt: 1})
	return nil
}

// shouldRetry applies the retry policy, hard-excluding kinds a retry can
// never help with.
func (b *Beat[T]) shouldRetry(attempt int, err error, fe *FlowError) bool {
	if fe.Kind == ErrKindCancelled || fe.Kind == ErrKindRunnerMismatch {
		return false
	}
	return b.retry.ShouldRetry(attempt, err)
}

// failure normalizes an arbitrary error into this beat's FlowError. A
// FlowError raised by user code keeps its kind and fields but is copied so
// shared sentinel values are never mutated.
func (b *Beat[T]) failure(err error, attempt int) *FlowError {
	fe := *asFlowError(err)
	if fe.Step == "" {
		fe.Step = b.name
	}
	fe.Attempts = attempt
	return &fe
}

func (b *Beat[T]) mismatchError(msg string, attempt int) *FlowError {
	return Errorf(ErrKindRunnerMismatch, "%s; use AsyncRunner", msg).
		WithStep(b.name).
		WithAttempts(attempt)
}

func (b *Beat[T]) cancelledError(err error, attempt int) *FlowError {
	fe := Errorf(ErrKindCancelled, "run cancelled").WithStep(b.name).WithAttempts(attempt)
	fe.Cause = err
	return fe
}

// summarize builds the event error summary, routing the underlying cause
// through the context's sanitizer.
func (b *Beat[T]) summarize(ec *Context[T], fe *FlowError) *ErrorSummary {
	s := fe.Summary()
	if fe.Cause != nil {
		s.Message = ec.FormatError(fe.Cause)
	}
	return s
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
