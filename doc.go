// Package beatflow is an embeddable workflow orchestration engine. Business
// logic composes into a three-level hierarchy of Beat (atomic leaf), Chain
// (ordered sequence) and Flow (orchestrator with a failure strategy) that
// runs against a shared per-run Context carrying the payload, an event trace
// and the completed-steps set used for Saga-style compensation.
//
// Beats retry according to a RetryPolicy (backoff curve, jitter, error-kind
// filters). A Flow interprets step failures with one of three strategies:
// abort, continue, or compensate, which unwinds completed beats in reverse
// order. Trees run under either the strictly sequential SyncRunner or the
// cooperative AsyncRunner; the sync runner rejects asynchronous work with a
// runner_mismatch error instead of mis-scheduling it.
//
// Flows can be introspected into a deterministic Manifest and rebuilt from a
// declarative Descriptor against a Registry of known beats, which keeps
// dynamically supplied (for example LLM-generated) definitions from ever
// executing unregistered code.
package beatflow
