package dag

import (
	"reflect"
	"testing"

	"trainpipe/internal/core"
)

func TestStateMachine_Transitions_ValidAndInvalid(t *testing.T) {
	state := ExecutionState{"A": StepPending}

	if err := Transition(state, "A", StepPending, StepRunning); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}
	if err := Transition(state, "A", StepRunning, StepSucceeded); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}

	// Terminal -> RUNNING is forbidden.
	if err := Transition(state, "A", StepSucceeded, StepRunning); err == nil {
		t.Fatalf("expected error")
	}
	// Wrong expected state.
	if err := Transition(state, "A", StepPending, StepRunning); err == nil {
		t.Fatalf("expected error")
	}
	// Unknown step.
	if err := Transition(state, "Z", StepPending, StepRunning); err == nil {
		t.Fatalf("expected error")
	}
	// REUSED is only reachable from PENDING.
	state["A"] = StepRunning
	if err := Transition(state, "A", StepRunning, StepReused); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFailAndPropagate_SkipsTransitiveDependentsOnly(t *testing.T) {
	g, err := NewGraph(
		[]core.Step{step("A"), step("B"), step("C"), step("D")},
		[]Edge{{From: "A", To: "B"}, {From: "B", To: "C"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := ExecutionState{"A": StepRunning, "B": StepPending, "C": StepPending, "D": StepPending}

	skipped, err := FailAndPropagate(g, state, "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"B", "C"}; !reflect.DeepEqual(skipped, want) {
		t.Fatalf("skipped: got %v want %v", skipped, want)
	}
	want := ExecutionState{"A": StepFailed, "B": StepSkipped, "C": StepSkipped, "D": StepPending}
	if !reflect.DeepEqual(state, want) {
		t.Fatalf("state: got %v want %v", state, want)
	}
}

func TestFailAndPropagate_RunningDependentIsInvariantViolation(t *testing.T) {
	g, err := Chain(step("A"), step("B"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := ExecutionState{"A": StepRunning, "B": StepRunning}
	if _, err := FailAndPropagate(g, state, "A"); err == nil {
		t.Fatalf("expected invariant violation")
	}
}

func TestFailAndPropagate_RejectsPendingStep(t *testing.T) {
	g, _ := Chain(step("A"), step("B"))
	state := ExecutionState{"A": StepPending, "B": StepPending}
	if _, err := FailAndPropagate(g, state, "A"); err == nil {
		t.Fatalf("expected error failing a PENDING step")
	}
}

func TestSkipPending(t *testing.T) {
	g, _ := Chain(step("A"), step("B"), step("C"))
	state := ExecutionState{"A": StepSucceeded, "B": StepPending, "C": StepPending}
	if got, want := SkipPending(g, state), []string{"B", "C"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if state["A"] != StepSucceeded || state["B"] != StepSkipped || state["C"] != StepSkipped {
		t.Fatalf("unexpected state: %v", state)
	}
}

func TestReadySteps_RequiresSuccessfulDependencies(t *testing.T) {
	g, err := NewGraph(
		[]core.Step{step("A"), step("B"), step("C"), step("D")},
		[]Edge{{From: "A", To: "C"}, {From: "B", To: "D"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := NewExecutionState(g)
	if got, want := ReadySteps(g, state), []string{"A", "B"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ready: got %v want %v", got, want)
	}

	state["A"] = StepReused
	state["B"] = StepFailed
	if got, want := ReadySteps(g, state), []string{"C"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ready: got %v want %v", got, want)
	}

	if got := ReadySteps(nil, state); got != nil {
		t.Fatalf("expected nil for nil graph, got %v", got)
	}
}

func TestFailAndPropagate_SkipsInDeclarationOrder(t *testing.T) {
	g, err := NewGraph(
		[]core.Step{step("C"), step("A"), step("B")},
		[]Edge{{From: "A", To: "B"}, {From: "B", To: "C"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := ExecutionState{"A": StepRunning, "B": StepPending, "C": StepPending}

	skipped, err := FailAndPropagate(g, state, "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"C", "B"}; !reflect.DeepEqual(skipped, want) {
		t.Fatalf("skipped: got %v want %v", skipped, want)
	}
}

func TestStateMachine_RunningToSkipped(t *testing.T) {
	state := ExecutionState{"A": StepRunning}
	if err := Transition(state, "A", StepRunning, StepSkipped); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}
	if err := Transition(state, "A", StepSkipped, StepRunning); err == nil {
		t.Fatalf("expected error leaving SKIPPED")
	}
}
