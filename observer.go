package beatflow

import "time"

// Observer receives every trace event as it is emitted. Implementations must
// be cheap and must not mutate the context; they run inline on the execution
// goroutine.
type Observer interface {
	ObserveEvent(ev Event)
}

// OutcomeInfo is the non-generic view of a finished run handed to outcome
// observers.
type OutcomeInfo struct {
	RunID    string
	Node     string
	Status   Status
	Duration time.Duration
	Errors   []*ErrorSummary
}

// OutcomeObserver is an optional capability of an Observer. Runners detect it
// by type assertion and deliver the terminal report of each run.
type OutcomeObserver interface {
	ObserveOutcome(info OutcomeInfo)
}

func notifyOutcome[T any](ec *Context[T], info OutcomeInfo) {
	for _, o := range ec.observers {
		if oo, ok := o.(OutcomeObserver); ok {
			oo.ObserveOutcome(info)
		}
	}
}
