package beatflow

import (
	"errors"
	"testing"
)

func okBeat(name string) *Beat[order] {
	return NewBeat(name, func(ec *Context[order]) error { return nil })
}

func failBeat(name string) *Beat[order] {
	return NewBeat(name, func(ec *Context[order]) error { return errors.New(name + " broke") })
}

func compensateStarts(trace []Event) []string {
	var nodes []string
	for _, ev := range trace {
		if ev.Kind == EventCompensateStart {
			nodes = append(nodes, ev.Node)
		}
	}
	return nodes
}

// Three leaves under abort, everybody succeeds.
func TestFlow_Execute_HappyPath(t *testing.T) {
	f := NewFlow("onboarding", StrategyAbort, okBeat("a"), okBeat("b"), okBeat("c"))
	ec := NewContext(order{})

	out := f.Execute(ec)

	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", out.Status)
	}
	for _, name := range []string{"a", "b", "c"} {
		if !ec.WasCompleted(name) {
			t.Errorf("%s missing from completed_steps", name)
		}
	}
	if !sameKinds(eventKinds(ec.Trace),
		EventStart, EventEnd, EventStart, EventEnd, EventStart, EventEnd) {
		t.Errorf("trace = %v, want three start/end pairs", eventKinds(ec.Trace))
	}
	if out.DurationMS < 0 {
		t.Errorf("duration must be non-negative, got %d", out.DurationMS)
	}
}

func TestFlow_Execute_AbortStopsWithoutCompensation(t *testing.T) {
	undone := false
	f := NewFlow("f", StrategyAbort,
		okBeat("a").WithUndo(func(ec *Context[order]) error {
			undone = true
			return nil
		}),
		failBeat("b"),
		okBeat("c"),
	)
	ec := NewContext(order{})

	out := f.Execute(ec)

	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if undone {
		t.Error("abort must not invoke compensation")
	}
	if ec.WasCompleted("c") {
		t.Error("steps after the failure must not run under abort")
	}
}

// Under continue, b fails, c still runs, and the outcome is partial.
func TestFlow_Execute_ContinueProducesPartial(t *testing.T) {
	f := NewFlow("f", StrategyContinue, okBeat("a"), failBeat("b"), okBeat("c"))
	ec := NewContext(order{})

	out := f.Execute(ec)

	if out.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", out.Status)
	}
	if len(out.Errors) != 1 || out.Errors[0].Step != "b" {
		t.Fatalf("errors = %+v, want one entry for b", out.Errors)
	}
	if !ec.WasCompleted("a") || !ec.WasCompleted("c") {
		t.Error("completed_steps must contain a and c")
	}
	if ec.WasCompleted("b") {
		t.Error("failed step must not be completed")
	}

	starts := 0
	for _, ev := range ec.Trace {
		if ev.Kind == EventStart {
			starts++
		}
	}
	if starts != 3 {
		t.Errorf("all three leaves must have been attempted, saw %d starts", starts)
	}
}

func TestFlow_Execute_ContinueAllSuccessIsSuccess(t *testing.T) {
	f := NewFlow("f", StrategyContinue, okBeat("a"), okBeat("b"))

	out := f.Execute(NewContext(order{}))
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, want success when nothing failed", out.Status)
	}
}

// Saga rollback: completed steps are compensated in LIFO order,
// the failing step is never compensated, and a failing compensator does not
// stop the rollback.
func TestFlow_Execute_Compensation(t *testing.T) {
	var undone []string
	createAccount := okBeat("create_account").WithUndo(func(ec *Context[order]) error {
		undone = append(undone, "create_account")
		return nil
	})
	chargeCard := okBeat("charge_card").WithUndo(func(ec *Context[order]) error {
		undone = append(undone, "charge_card")
		return errors.New("refund endpoint down")
	})
	sendEmail := failBeat("send_email").WithUndo(func(ec *Context[order]) error {
		t.Error("the failing step must never be compensated")
		return nil
	})

	f := NewFlow("signup", StrategyCompensate, createAccount, chargeCard, sendEmail)
	ec := NewContext(order{})

	out := f.Execute(ec)

	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	// LIFO: most recent side effect first.
	if len(undone) != 2 || undone[0] != "charge_card" || undone[1] != "create_account" {
		t.Errorf("compensation order = %v, want [charge_card create_account]", undone)
	}
	if got := compensateStarts(ec.Trace); len(got) != 2 || got[0] != "charge_card" || got[1] != "create_account" {
		t.Errorf("compensate_start order = %v, want [charge_card create_account]", got)
	}
	// Primary failure plus the compensation failure are both recorded; the
	// compensation failure never upgrades the status.
	if len(out.Errors) != 2 {
		t.Fatalf("errors = %+v, want primary + compensation failure", out.Errors)
	}
	if out.Errors[0].Step != "send_email" {
		t.Errorf("primary error step = %s, want send_email", out.Errors[0].Step)
	}
	if out.Errors[1].Step != "charge_card" {
		t.Errorf("compensation error step = %s, want charge_card", out.Errors[1].Step)
	}
}

// Leaves without a compensator are silently skipped during rollback.
func TestFlow_Execute_CompensationSkipsUndolessBeats(t *testing.T) {
	var undone []string
	f := NewFlow("f", StrategyCompensate,
		okBeat("a").WithUndo(func(ec *Context[order]) error {
			undone = append(undone, "a")
			return nil
		}),
		okBeat("b"), // no undo
		failBeat("c"),
	)
	ec := NewContext(order{})

	f.Execute(ec)

	if len(undone) != 1 || undone[0] != "a" {
		t.Errorf("undone = %v, want [a]", undone)
	}
	for _, ev := range ec.Trace {
		if ev.Kind == EventCompensateStart && ev.Node == "b" {
			t.Error("beat without undo must not emit compensate events")
		}
	}
}

// Compensation reaches leaves nested inside chains, still in LIFO order over
// the flattened pre-order collection.
func TestFlow_Execute_CompensationAcrossNestedChains(t *testing.T) {
	var undone []string
	undo := func(name string) Func[order] {
		return func(ec *Context[order]) error {
			undone = append(undone, name)
			return nil
		}
	}
	inner := NewChain("provision",
		okBeat("create_vm").WithUndo(undo("create_vm")),
		okBeat("attach_disk").WithUndo(undo("attach_disk")),
	)
	f := NewFlow("deploy", StrategyCompensate,
		okBeat("reserve_ip").WithUndo(undo("reserve_ip")),
		inner,
		failBeat("register_dns"),
	)
	ec := NewContext(order{})

	out := f.Execute(ec)

	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	want := []string{"attach_disk", "create_vm", "reserve_ip"}
	if len(undone) != len(want) {
		t.Fatalf("undone = %v, want %v", undone, want)
	}
	for i := range want {
		if undone[i] != want[i] {
			t.Fatalf("undone = %v, want %v", undone, want)
		}
	}
}

func TestFlow_Manifest(t *testing.T) {
	f := NewFlow("signup", StrategyCompensate,
		okBeat("create_account").WithDescription("Creates the account record."),
		okBeat("charge_card"),
	).WithDescription("Signs a customer up.")

	m := f.Manifest()

	if m.Name != "signup" || m.Strategy != "compensate" {
		t.Errorf("manifest header = %+v", m)
	}
	if len(m.Steps) != 2 {
		t.Fatalf("steps = %+v, want 2", m.Steps)
	}
	if m.Steps[0].Description != "Creates the account record." {
		t.Errorf("step description = %q", m.Steps[0].Description)
	}
	if m.Steps[1].Description != noDescription {
		t.Errorf("missing description must fall back, got %q", m.Steps[1].Description)
	}

	// Deterministic: same tree, same manifest.
	again := f.Manifest()
	if len(again.Steps) != len(m.Steps) || again.Name != m.Name || again.Strategy != m.Strategy {
		t.Error("manifest must be deterministic for the same tree")
	}
	for i := range m.Steps {
		if again.Steps[i] != m.Steps[i] {
			t.Error("manifest steps must be deterministic for the same tree")
		}
	}
}

func TestNewFlow_ContractViolations(t *testing.T) {
	assertContractViolation(t, func() { NewFlow[order]("f", "explode", okBeat("a")) })
	assertContractViolation(t, func() { NewFlow[order]("", StrategyAbort) })
	assertContractViolation(t, func() { NewFlow("f", StrategyAbort, okBeat("a"), nil) })
}
