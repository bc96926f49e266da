package dag

import "trainpipe/internal/core"

// Outcome describes how a step ended.
type Outcome struct {
	State StepState

	// Result is set for steps that ran (SUCCEEDED or FAILED).
	Result *core.StepResult

	// Cause names the failed step that caused a skip. Empty for skips caused
	// by interruption.
	Cause string
}

// Observer is notified of step lifecycle events. Callbacks run on the
// executor goroutine, between steps; they must not block for long.
type Observer interface {
	OnStepStart(step core.Step)
	OnStepTerminal(step core.Step, outcome Outcome)
}

// Observers fans events out to several observers in order.
type Observers []Observer

func (obs Observers) OnStepStart(step core.Step) {
	for _, o := range obs {
		if o != nil {
			o.OnStepStart(step)
		}
	}
}

func (obs Observers) OnStepTerminal(step core.Step, outcome Outcome) {
	for _, o := range obs {
		if o != nil {
			o.OnStepTerminal(step, outcome)
		}
	}
}
