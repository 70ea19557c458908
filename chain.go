package beatflow

import (
	"context"
	"time"
)

// Chain is an ordered composite of executables with no failure policy of its
// own: it short-circuits on the first failing child and propagates that
// failure unchanged. It never rolls anything back.
type Chain[T any] struct {
	name        string
	description string
	steps       []Executable[T]
}

// NewChain builds a sequence over the given children. Panics with a
// contract_violation on nil children or duplicate child names.
func NewChain[T any](name string, steps ...Executable[T]) *Chain[T] {
	if name == "" {
		contractViolation("chain has an empty name")
	}
	validateChildren(name, steps)
	return &Chain[T]{name: name, steps: steps}
}

// WithDescription sets the semantic description. Chainable.
func (c *Chain[T]) WithDescription(d string) *Chain[T] {
	c.description = d
	return c
}

func (c *Chain[T]) Name() string        { return c.name }
func (c *Chain[T]) Description() string { return c.description }

// Steps returns the ordered children.
func (c *Chain[T]) Steps() []Executable[T] { return c.steps }

// IsAsync reports whether any child requires the async runner.
func (c *Chain[T]) IsAsync() bool {
	for _, s := range c.steps {
		if s.IsAsync() {
			return true
		}
	}
	return false
}

func (c *Chain[T]) collectBeats(dst []*Beat[T]) []*Beat[T] {
	for _, s := range c.steps {
		dst = s.collectBeats(dst)
	}
	return dst
}

// Execute runs the children in declared order, returning the first failure
// as its own.
func (c *Chain[T]) Execute(ec *Context[T]) *Outcome[T] {
	started := time.Now()
	ec.Logger().Info("chain started", "chain", c.name)
	for _, s := range c.steps {
		out := s.Execute(ec)
		if out.Status != StatusSuccess {
			ec.Logger().Error("chain failed", "chain", c.name, "step", s.Name())
			return failedOutcome(ec, started, out.Errors...)
		}
	}
	ec.Logger().Info("chain completed", "chain", c.name)
	return successOutcome(ec, started)
}

// ExecuteAsync is the cooperative variant of Execute.
func (c *Chain[T]) ExecuteAsync(ctx context.Context, ec *Context[T]) *Outcome[T] {
	started := time.Now()
	ec.Logger().Info("chain started", "chain", c.name)
	for _, s := range c.steps {
		out := s.ExecuteAsync(ctx, ec)
		if out.Status != StatusSuccess {
			ec.Logger().Error("chain failed", "chain", c.name, "step", s.Name())
			return failedOutcome(ec, started, out.Errors...)
		}
	}
	ec.Logger().Info("chain completed", "chain", c.name)
	return successOutcome(ec, started)
}

// validateChildren enforces the tree construction contract: children exist,
// none is nil, and names are unique within the parent.
func validateChildren[T any](parent string, steps []Executable[T]) {
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s == nil {
			contractViolation("%q has a nil child at index %d", parent, i)
		}
		if seen[s.Name()] {
			contractViolation("%q has duplicate child name %q", parent, s.Name())
		}
		seen[s.Name()] = true
	}
}
