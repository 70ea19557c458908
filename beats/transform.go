package beats

import (
	"fmt"

	"github.com/Jeffail/gabs/v2"
	"github.com/expr-lang/expr"

	"github.com/beatflow/beatflow"
)

// Data is the payload type the stock beats operate on.
type Data = map[string]any

// Transform builds a synchronous beat that evaluates an expr expression
// against the context payload and stores the result at a dot-separated path,
// creating intermediate objects as needed. The expression is compiled once at
// construction; an expression that does not compile is a programming error.
func Transform(name, path, expression string) *beatflow.Beat[Data] {
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		panic(beatflow.Errorf(beatflow.ErrKindContractViolation,
			"transform %q: expression %q does not compile: %v", name, expression, err))
	}
	return beatflow.NewBeat(name, func(ec *beatflow.Context[Data]) error {
		out, err := expr.Run(program, map[string]any(ec.Data))
		if err != nil {
			return fmt.Errorf("transform %q: error evaluating %q: %w", name, expression, err)
		}
		container := gabs.Wrap(map[string]any(ec.Data))
		if _, err := container.SetP(out, path); err != nil {
			return fmt.Errorf("transform %q: cannot store result at %q: %w", name, path, err)
		}
		ec.Data = container.Data().(map[string]any)
		return nil
	}).WithDescription(fmt.Sprintf("Evaluates %q and stores the result at %q.", expression, path))
}

// Lookup reads a dot-separated path out of the payload. Convenience for
// beats and undo functions that need nested access.
func Lookup(data Data, path string) (any, bool) {
	container := gabs.Wrap(map[string]any(data))
	v := container.Path(path)
	if v == nil {
		return nil, false
	}
	return v.Data(), true
}
