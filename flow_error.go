package beatflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error semantically. Retry policies and failure
// strategies branch on the kind, never on concrete Go types.
type ErrorKind string

const (
	// ErrKindUser marks errors raised by user code inside a beat or undo function.
	ErrKindUser ErrorKind = "user_error"
	// ErrKindRunnerMismatch marks async work encountered by the sync runner.
	ErrKindRunnerMismatch ErrorKind = "runner_mismatch"
	// ErrKindSerialization marks a malformed payload while reconstructing a context.
	ErrKindSerialization ErrorKind = "serialization_error"
	// ErrKindUnknownStep marks an assembly descriptor referencing an unregistered beat.
	ErrKindUnknownStep ErrorKind = "unknown_step"
	// ErrKindInvalidStrategy marks an assembly descriptor with an unrecognized strategy tag.
	ErrKindInvalidStrategy ErrorKind = "invalid_strategy"
	// ErrKindCancelled marks cooperative cancellation delivered to an async run.
	ErrKindCancelled ErrorKind = "cancelled"
	// ErrKindContractViolation marks a programming error in the executable tree.
	// This is the only kind that is panicked rather than returned in an Outcome.
	ErrKindContractViolation ErrorKind = "contract_violation"
)

// ErrorSummary is the serializable view of an error inside a trace event.
// Stack traces and causes collapse into the message; Fields carries any
// structured annotations attached via WithField.
type ErrorSummary struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// FlowError is the canonical error type propagated through a run.
// All non-contract-violation failures surface through Outcome.Errors as
// FlowError values.
type FlowError struct {
	Kind     ErrorKind      `json:"kind"`
	Message  string         `json:"message"`
	Step     string         `json:"step,omitempty"`
	Attempts int            `json:"attempts,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
	Cause    error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step: %s, attempts: %d)", e.Kind, e.Message, e.Step, e.Attempts)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// WithStep sets the step name. Chainable.
func (e *FlowError) WithStep(step string) *FlowError {
	e.Step = step
	return e
}

// WithAttempts records how many attempts were consumed. Chainable.
func (e *FlowError) WithAttempts(n int) *FlowError {
	e.Attempts = n
	return e
}

// WithField attaches a structured annotation. Chainable.
func (e *FlowError) WithField(key string, value any) *FlowError {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Summary collapses the error into its serializable event form.
func (e *FlowError) Summary() *ErrorSummary {
	return &ErrorSummary{
		Kind:    string(e.Kind),
		Message: e.Message,
		Fields:  e.Fields,
	}
}

// NewFlowError creates a FlowError of the given kind.
func NewFlowError(kind ErrorKind, message string) *FlowError {
	return &FlowError{Kind: kind, Message: message}
}

// Errorf creates a FlowError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify resolves the semantic kind of an arbitrary error by walking its
// unwrap chain for a FlowError. Errors raised by user code without a kind
// default to user_error.
func Classify(err error) ErrorKind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrKindUser
}

// asFlowError normalizes an arbitrary error into a FlowError, preserving an
// existing one and wrapping everything else as user_error.
func asFlowError(err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return &FlowError{Kind: ErrKindUser, Message: err.Error(), Cause: err}
}

// contractViolation panics with a contract_violation FlowError. Used for
// programming errors in tree construction and runner usage, which must not be
// swallowed into an Outcome.
func contractViolation(format string, args ...any) {
	panic(Errorf(ErrKindContractViolation, format, args...))
}
