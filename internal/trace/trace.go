// Package trace records what a pipeline run decided, step by step, as a
// canonical JSON document.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical record of one pipeline run.
//
// Invariants:
//   - It carries the PlanHash and a list of logical step events.
//   - It holds decisions and outcomes only: no timestamps, durations or
//     error strings, so two runs with the same outcome produce the same bytes.
//
// Canonical form:
//   - Events are sorted by Canonicalize using a fully specified order.
//   - JSON field order is fixed by custom marshalers; empty optional fields
//     are omitted.
type ExecutionTrace struct {
	PlanHash string
	Events   []Event
}

// EventKind discriminates Event. The string values are part of the canonical
// bytes; do not rename.
type EventKind string

const (
	EventStepReused   EventKind = "StepReused"
	EventStepExecuted EventKind = "StepExecuted"
	EventStepFailed   EventKind = "StepFailed"
	EventStepSkipped  EventKind = "StepSkipped"
)

// Skip reasons.
const (
	ReasonUpstreamFailed = "UpstreamFailed"
	ReasonInterrupted    = "Interrupted"
)

// Event is a single logical decision or outcome for a step.
type Event struct {
	Kind EventKind

	// StepID names the step. Required.
	StepID string

	// ExitCode is the exit code of a failed step.
	ExitCode int

	// Reason is a stable reason code, e.g. ReasonUpstreamFailed.
	Reason string

	// CauseStepID names the failed step that caused a skip.
	CauseStepID string

	// Checkpoints lists checkpoint file names the step produced.
	Checkpoints []string
}

// Validate checks basic invariants.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.PlanHash == "" {
		return errors.New("planHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.StepID == "" {
			return fmt.Errorf("events[%d].stepId is required for kind %q", i, e.Kind)
		}
		if e.Kind == EventStepFailed && e.ExitCode == 0 {
			return fmt.Errorf("events[%d].exitCode must be non-zero for kind %q", i, e.Kind)
		}
		for j, c := range e.Checkpoints {
			if c == "" {
				return fmt.Errorf("events[%d].checkpoints[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace in place.
//
// Rules:
//   - Checkpoints are copied and sorted; empty lists become nil.
//   - Events are stably sorted by (stepId, kind order, reason, causeStepId,
//     exitCode, checkpoints).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Checkpoints) == 0 {
			t.Events[i].Checkpoints = nil
			continue
		}
		cps := make([]string, len(t.Events[i].Checkpoints))
		copy(cps, t.Events[i].Checkpoints)
		sort.Strings(cps)
		t.Events[i].Checkpoints = cps
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.StepID != b.StepID {
			return a.StepID < b.StepID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseStepID != b.CauseStepID {
			return a.CauseStepID < b.CauseStepID
		}
		if a.ExitCode != b.ExitCode {
			return a.ExitCode < b.ExitCode
		}
		return compareStringSlices(a.Checkpoints, b.Checkpoints)
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventStepReused:
		return 10
	case EventStepExecuted:
		return 20
	case EventStepFailed:
		return 30
	case EventStepSkipped:
		return 40
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical encoding of the trace. The receiver's
// slices are not mutated.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{PlanHash: t.PlanHash}
	cp.Events = make([]Event, len(t.Events))
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex digest of the canonical encoding.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order. It does not sort; use CanonicalJSON.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.PlanHash == "" {
		return nil, errors.New("planHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"planHash":`)
	ph, _ := json.Marshal(t.PlanHash)
	buf.Write(ph)

	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var cps []string
	if len(e.Checkpoints) > 0 {
		cps = make([]string, len(e.Checkpoints))
		copy(cps, e.Checkpoints)
		sort.Strings(cps)
	}

	var buf bytes.Buffer
	writeString := func(key, val string) {
		buf.WriteString(`,"` + key + `":`)
		b, _ := json.Marshal(val)
		buf.Write(b)
	}

	buf.WriteString(`{"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	if e.StepID != "" {
		writeString("stepId", e.StepID)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&buf, `,"exitCode":%d`, e.ExitCode)
	}
	if e.Reason != "" {
		writeString("reason", e.Reason)
	}
	if e.CauseStepID != "" {
		writeString("causeStepId", e.CauseStepID)
	}
	if len(cps) > 0 {
		buf.WriteString(`,"checkpoints":`)
		b, err := json.Marshal(cps)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
