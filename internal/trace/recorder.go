package trace

import (
	"path/filepath"
	"sync"

	"trainpipe/internal/core"
	"trainpipe/internal/dag"
)

// Recorder collects trace events from a running pipeline. It implements
// dag.Observer.
//
// Recording never panics and never fails; ordering is computed afterwards,
// so the order callbacks arrive in does not matter.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ dag.Observer = (*Recorder)(nil)

func NewRecorder() *Recorder { return &Recorder{} }

// Record appends a raw event.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// OnStepStart is a no-op: only outcomes are traced.
func (r *Recorder) OnStepStart(core.Step) {}

// OnStepTerminal converts a step outcome to a trace event.
func (r *Recorder) OnStepTerminal(step core.Step, out dag.Outcome) {
	ev := Event{StepID: step.Name}
	switch out.State {
	case dag.StepReused:
		ev.Kind = EventStepReused
	case dag.StepSucceeded:
		ev.Kind = EventStepExecuted
	case dag.StepFailed:
		ev.Kind = EventStepFailed
		if out.Result != nil {
			ev.ExitCode = out.Result.ExitCode
		}
	case dag.StepSkipped:
		ev.Kind = EventStepSkipped
		ev.Reason = ReasonInterrupted
		if out.Cause != "" {
			ev.Reason = ReasonUpstreamFailed
			ev.CauseStepID = out.Cause
		}
	default:
		return
	}
	if out.Result != nil {
		for _, cp := range out.Result.Checkpoints {
			ev.Checkpoints = append(ev.Checkpoints, filepath.Base(cp.Path))
		}
	}
	r.Record(ev)
}

// Snapshot returns a copy of all recorded events.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a canonical ExecutionTrace from the recorded events.
func (r *Recorder) Trace(planHash string) ExecutionTrace {
	tr := ExecutionTrace{PlanHash: planHash, Events: r.Snapshot()}
	tr.Canonicalize()
	return tr
}
