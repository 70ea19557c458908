package beatflow

import "context"

// Run executes a tree against a fresh context built from data, hiding the
// context and runner plumbing for the common embedded case.
func Run[T any](exec Executable[T], data T) *Outcome[T] {
	return NewSyncRunner[T]().Run(exec, NewContext(data))
}

// RunAsync is the cooperative counterpart of Run.
func RunAsync[T any](ctx context.Context, exec Executable[T], data T) *Outcome[T] {
	return NewAsyncRunner[T]().Run(ctx, exec, NewContext(data))
}
