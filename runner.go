package beatflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SyncRunner executes a tree strictly sequentially on the calling goroutine.
// It never raises for user-originated failures; those surface through
// Outcome.Errors. It panics only for contract violations (nil arguments,
// runner re-entrance from a compensator).
type SyncRunner[T any] struct {
	logger *slog.Logger
}

// NewSyncRunner creates a synchronous runner logging through slog.Default.
func NewSyncRunner[T any]() *SyncRunner[T] {
	return &SyncRunner[T]{logger: slog.Default()}
}

// WithLogger sets the runner's logger. Chainable.
func (r *SyncRunner[T]) WithLogger(l *slog.Logger) *SyncRunner[T] {
	if l != nil {
		r.logger = l
	}
	return r
}

// Run executes the tree against the context and returns its outcome. Async
// work encountered anywhere in the tree fails the affected beats with
// runner_mismatch and is interpreted by the enclosing flow's strategy.
func (r *SyncRunner[T]) Run(exec Executable[T], ec *Context[T]) *Outcome[T] {
	checkRunArgs(exec, ec)
	ec.enterRun()
	defer ec.exitRun()

	runID := uuid.NewString()
	log := r.logger.With("run_id", runID, "node", exec.Name())
	if ec.logger == nil || ec.logger == slog.Default() {
		ec.logger = log
	}
	log.Info("run started", "mode", "sync")

	started := time.Now()
	out := exec.Execute(ec)
	log.Info("run finished", "status", string(out.Status), "duration_ms", out.DurationMS, "errors", len(out.Errors))

	notifyOutcome(ec, OutcomeInfo{
		RunID:    runID,
		Node:     exec.Name(),
		Status:   out.Status,
		Duration: time.Since(started),
		Errors:   out.Summaries(),
	})
	return out
}

// AsyncRunner executes a tree with single-threaded cooperative scheduling:
// async beats run against ctx, sync beats run inline, and retry backoff
// sleeps abort on cancellation. Cancellation surfaces as a cancelled-kind
// failure that obeys the flow's strategy, including compensation.
type AsyncRunner[T any] struct {
	logger *slog.Logger
}

// NewAsyncRunner creates an asynchronous runner logging through slog.Default.
func NewAsyncRunner[T any]() *AsyncRunner[T] {
	return &AsyncRunner[T]{logger: slog.Default()}
}

// WithLogger sets the runner's logger. Chainable.
func (r *AsyncRunner[T]) WithLogger(l *slog.Logger) *AsyncRunner[T] {
	if l != nil {
		r.logger = l
	}
	return r
}

// Run executes the tree against the context and returns its outcome.
func (r *AsyncRunner[T]) Run(ctx context.Context, exec Executable[T], ec *Context[T]) *Outcome[T] {
	checkRunArgs(exec, ec)
	if ctx == nil {
		ctx = context.Background()
	}
	ec.enterRun()
	defer ec.exitRun()

	runID := uuid.NewString()
	log := r.logger.With("run_id", runID, "node", exec.Name())
	if ec.logger == nil || ec.logger == slog.Default() {
		ec.logger = log
	}
	log.Info("run started", "mode", "async")

	started := time.Now()
	out := exec.ExecuteAsync(ctx, ec)
	log.Info("run finished", "status", string(out.Status), "duration_ms", out.DurationMS, "errors", len(out.Errors))

	notifyOutcome(ec, OutcomeInfo{
		RunID:    runID,
		Node:     exec.Name(),
		Status:   out.Status,
		Duration: time.Since(started),
		Errors:   out.Summaries(),
	})
	return out
}

func checkRunArgs[T any](exec Executable[T], ec *Context[T]) {
	if exec == nil {
		contractViolation("runner invoked with a nil executable")
	}
	if ec == nil {
		contractViolation("runner invoked with a nil context")
	}
}
