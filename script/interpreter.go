// Package script builds beats whose bodies are sandboxed Risor scripts.
// Scripts run without default globals (no os, exec or file builtins), so a
// script body can compute over the injected payload and nothing else.
package script

import (
	"context"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/object"
)

// Interpreter wraps Risor's Eval with sandboxing. WithoutDefaultGlobals
// removes os/exec/file builtins — only explicitly injected globals are
// available to script code.
type Interpreter struct{}

func (i *Interpreter) Eval(ctx context.Context, code string, globals map[string]any) (any, error) {
	result, err := risor.Eval(ctx, code,
		risor.WithoutDefaultGlobals(),
		risor.WithGlobals(globals),
	)
	if err != nil {
		return nil, err
	}
	return objectToGo(result), nil
}

// objectToGo recursively converts a Risor object.Object to a native Go value.
func objectToGo(obj object.Object) any {
	if obj == nil {
		return nil
	}
	switch o := obj.(type) {
	case *object.Map:
		goMap := make(map[string]any)
		for k, v := range o.Value() {
			goMap[k] = objectToGo(v)
		}
		return goMap
	case *object.List:
		items := o.Value()
		goSlice := make([]any, len(items))
		for i, v := range items {
			goSlice[i] = objectToGo(v)
		}
		return goSlice
	case *object.NilType:
		return nil
	default:
		// String, Int, Float, Bool, etc. — Interface() returns the native Go value.
		return obj.Interface()
	}
}
