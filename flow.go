package beatflow

import (
	"context"
	"time"
)

// FailureStrategy selects how a flow reacts to a failing step.
type FailureStrategy string

const (
	// StrategyAbort stops at the first failure without compensation.
	StrategyAbort FailureStrategy = "abort"
	// StrategyContinue records failures and carries on with the remaining
	// steps; the outcome is partial when anything failed.
	StrategyContinue FailureStrategy = "continue"
	// StrategyCompensate stops at the first failure and unwinds completed
	// beats in reverse order (Saga rollback).
	StrategyCompensate FailureStrategy = "compensate"
)

// ParseStrategy resolves a strategy tag, failing with an invalid_strategy
// FlowError for anything unrecognized.
func ParseStrategy(tag string) (FailureStrategy, error) {
	switch FailureStrategy(tag) {
	case StrategyAbort, StrategyContinue, StrategyCompensate:
		return FailureStrategy(tag), nil
	}
	return "", Errorf(ErrKindInvalidStrategy, "unrecognized failure strategy %q", tag)
}

// Flow is the top-level orchestrator: a sequence held by composition plus a
// failure strategy. The flow owns failure interpretation and drives
// compensation; its inner chain stays policy-free.
type Flow[T any] struct {
	name        string
	description string
	chain       *Chain[T]
	strategy    FailureStrategy
}

// NewFlow builds an orchestrator over the given steps. Panics with a
// contract_violation on an unknown strategy, nil children or duplicate child
// names; use Assemble for declarative input that must fail softly.
func NewFlow[T any](name string, strategy FailureStrategy, steps ...Executable[T]) *Flow[T] {
	if name == "" {
		contractViolation("flow has an empty name")
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		contractViolation("flow %q: %v", name, err)
	}
	validateChildren(name, steps)
	return &Flow[T]{
		name:     name,
		chain:    &Chain[T]{name: name, steps: steps},
		strategy: strategy,
	}
}

// WithDescription sets the semantic description surfaced in the manifest. Chainable.
func (f *Flow[T]) WithDescription(d string) *Flow[T] {
	f.description = d
	return f
}

func (f *Flow[T]) Name() string        { return f.name }
func (f *Flow[T]) Description() string { return f.description }

// Strategy returns the configured failure strategy.
func (f *Flow[T]) Strategy() FailureStrategy { return f.strategy }

// Steps returns the flow's direct children in declared order.
func (f *Flow[T]) Steps() []Executable[T] { return f.chain.steps }

// IsAsync reports whether any step requires the async runner.
func (f *Flow[T]) IsAsync() bool { return f.chain.IsAsync() }

func (f *Flow[T]) collectBeats(dst []*Beat[T]) []*Beat[T] {
	return f.chain.collectBeats(dst)
}

// Execute runs the flow synchronously, interpreting step failures according
// to the strategy. Wall-clock duration is measured on the monotonic clock.
func (f *Flow[T]) Execute(ec *Context[T]) *Outcome[T] {
	started := time.Now()
	log := ec.Logger()
	log.Info("flow started", "flow", f.name, "strategy", string(f.strategy))

	var collected []*FlowError
	for _, step := range f.chain.steps {
		out := step.Execute(ec)
		if out.Status == StatusSuccess {
			continue
		}
		switch f.strategy {
		case StrategyAbort:
			log.Error("flow aborted", "flow", f.name, "step", step.Name())
			return failedOutcome(ec, started, out.Errors...)
		case StrategyContinue:
			log.Error("flow continuing after failure", "flow", f.name, "step", step.Name())
			collected = append(collected, out.Errors...)
		case StrategyCompensate:
			log.Error("flow compensating", "flow", f.name, "step", step.Name())
			errs := append(out.Errors, f.runCompensation(ec, nil)...)
			return failedOutcome(ec, started, errs...)
		}
	}
	return f.finish(ec, started, collected)
}

// ExecuteAsync is the cooperative variant of Execute. A step failing with the
// cancelled kind obeys the strategy like any other failure, so cancellation
// can still trigger compensation.
func (f *Flow[T]) ExecuteAsync(ctx context.Context, ec *Context[T]) *Outcome[T] {
	started := time.Now()
	log := ec.Logger()
	log.Info("flow started", "flow", f.name, "strategy", string(f.strategy))

	var collected []*FlowError
	for _, step := range f.chain.steps {
		out := step.ExecuteAsync(ctx, ec)
		if out.Status == StatusSuccess {
			continue
		}
		switch f.strategy {
		case StrategyAbort:
			log.Error("flow aborted", "flow", f.name, "step", step.Name())
			return failedOutcome(ec, started, out.Errors...)
		case StrategyContinue:
			log.Error("flow continuing after failure", "flow", f.name, "step", step.Name())
			collected = append(collected, out.Errors...)
		case StrategyCompensate:
			log.Error("flow compensating", "flow", f.name, "step", step.Name())
			errs := append(out.Errors, f.runCompensation(ec, ctx)...)
			return failedOutcome(ec, started, errs...)
		}
	}
	return f.finish(ec, started, collected)
}

func (f *Flow[T]) finish(ec *Context[T], started time.Time, collected []*FlowError) *Outcome[T] {
	if len(collected) > 0 {
		ec.Logger().Info("flow completed with failures", "flow", f.name, "errors", len(collected))
		return partialOutcome(ec, started, collected)
	}
	ec.Logger().Info("flow completed", "flow", f.name)
	return successOutcome(ec, started)
}

// runCompensation unwinds completed beats in LIFO order. The eligible set is
// snapshotted from completed_steps at failure detection, so a compensator
// failing (or mutating the context) cannot hide still-undone steps. Rollback
// is best-effort: every compensator runs regardless of earlier compensation
// failures, and all failures are accumulated. A nil ctx selects the sync
// path, where an async compensator degrades to a recorded runner_mismatch.
func (f *Flow[T]) runCompensation(ec *Context[T], ctx context.Context) []*FlowError {
	ec.Logger().Info("compensating flow", "flow", f.name)

	all := f.collectBeats(nil)
	done := make([]*Beat[T], 0, len(all))
	for _, b := range all {
		if ec.WasCompleted(b.Name()) {
			done = append(done, b)
		}
	}

	var errs []*FlowError
	for i := len(done) - 1; i >= 0; i-- {
		b := done[i]
		if !b.HasUndo() {
			continue
		}
		var fe *FlowError
		if ctx == nil {
			fe = b.compensate(ec)
		} else {
			fe = b.compensateAsync(ctx, ec)
		}
		if fe != nil {
			errs = append(errs, fe)
		}
	}
	return errs
}
