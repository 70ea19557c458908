package beatflow

import (
	"context"
	"errors"
)

// Executable is the contract shared by the three node kinds: Beat (leaf),
// Chain (ordered sequence) and Flow (orchestrator). Executables carry no
// per-run state; they are constructed once and run many times against fresh
// contexts. The interface is sealed so the compensation collector can
// enumerate leaves across arbitrary composite depth.
type Executable[T any] interface {
	Name() string
	Description() string
	// IsAsync reports whether this node (or any descendant) requires the
	// async runner.
	IsAsync() bool
	// Execute runs the node on the calling goroutine with no cancellation.
	Execute(ec *Context[T]) *Outcome[T]
	// ExecuteAsync runs the node cooperatively: retry sleeps and async beat
	// functions honor ctx cancellation.
	ExecuteAsync(ctx context.Context, ec *Context[T]) *Outcome[T]

	// collectBeats appends the node's leaves in depth-first pre-order.
	collectBeats(dst []*Beat[T]) []*Beat[T]
}

// Thunk is deferred work a beat function can hand back for the async runner
// to drive.
type Thunk func(ctx context.Context) error

// Suspend wraps deferred work into an error value. A beat function that
// returns Suspend(...) is asynchronous regardless of how the beat was
// declared: the async runner drives the thunk to completion, while the sync
// runner discards it unexecuted and fails the beat with runner_mismatch.
func Suspend(t Thunk) error {
	if t == nil {
		contractViolation("Suspend called with a nil thunk")
	}
	return &suspended{thunk: t}
}

type suspended struct {
	thunk Thunk
}

func (s *suspended) Error() string {
	return "beat suspended: result must be driven by the async runner"
}

// asSuspended detects a hand-rolled suspendable in a beat's return value.
func asSuspended(err error) *suspended {
	var s *suspended
	if errors.As(err, &s) {
		return s
	}
	return nil
}
