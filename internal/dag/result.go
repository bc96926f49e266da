package dag

import "trainpipe/internal/core"

// ExitInterrupted is the run exit code when an interruption stopped the run
// without any step failing (128+SIGINT).
const ExitInterrupted = 130

// Result summarizes one run of a Graph.
type Result struct {
	PlanHash PlanHash

	// FinalState is the terminal state of each step.
	FinalState ExecutionState

	// ExecutionOrder lists the steps that were started, in order.
	ExecutionOrder []string

	// Steps holds the result of every step that ran.
	Steps map[string]*core.StepResult

	// FailedStep is the first step that failed, if any.
	FailedStep string

	// Interrupted is set when the run context ended before the run finished.
	Interrupted bool

	// ExitCode is the failed step's exit code, ExitInterrupted for an
	// interrupted run with no failure, and 0 otherwise.
	ExitCode int
}

// Succeeded reports whether every step succeeded or was reused.
func (r *Result) Succeeded() bool {
	if r == nil {
		return false
	}
	for _, st := range r.FinalState {
		if !IsSuccessful(st) {
			return false
		}
	}
	return true
}
