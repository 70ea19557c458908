package script

import (
	"context"
	"fmt"

	"github.com/beatflow/beatflow"
)

// Data is the payload type scripted beats operate on.
type Data = map[string]any

// New builds an asynchronous beat whose body is a Risor script. The script
// sees the payload as `data` and the caller metadata as `metadata`; a non-nil
// script result is stored in the payload under the beat's name. Risor values
// are copies: a script communicates through its result, not by mutating
// `data` in place.
func New(name, body string) *beatflow.Beat[Data] {
	interp := &Interpreter{}
	return beatflow.NewAsyncBeat(name, func(ctx context.Context, ec *beatflow.Context[Data]) error {
		result, err := interp.Eval(ctx, body, scriptGlobals(ec))
		if err != nil {
			return fmt.Errorf("script %q: %w", name, err)
		}
		if result != nil {
			if ec.Data == nil {
				ec.Data = Data{}
			}
			ec.Data[name] = result
		}
		return nil
	}).WithDescription("Scripted beat (sandboxed Risor body).")
}

// NewWithUndo builds a scripted beat with a scripted compensator. The undo
// body runs with the same globals; its result is discarded.
func NewWithUndo(name, body, undoBody string) *beatflow.Beat[Data] {
	interp := &Interpreter{}
	return New(name, body).WithAsyncUndo(func(ctx context.Context, ec *beatflow.Context[Data]) error {
		if _, err := interp.Eval(ctx, undoBody, scriptGlobals(ec)); err != nil {
			return fmt.Errorf("script %q undo: %w", name, err)
		}
		return nil
	})
}

func scriptGlobals(ec *beatflow.Context[Data]) map[string]any {
	return map[string]any{
		"data":     map[string]any(ec.Data),
		"metadata": ec.Metadata,
	}
}
