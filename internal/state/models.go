package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ExecutionMode string

const (
	ExecutionModeClean  ExecutionMode = "clean"
	ExecutionModeResume ExecutionMode = "resume"
)

type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusSucceeded   RunStatus = "succeeded"
	RunStatusFailed      RunStatus = "failed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// Run is one recorded pipeline attempt.
type Run struct {
	ID       string        `json:"id" yaml:"id"`
	PlanHash string        `json:"plan_hash" yaml:"plan_hash"`
	Mode     ExecutionMode `json:"mode" yaml:"mode"`
	Status   RunStatus     `json:"status" yaml:"status"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`

	// FailedStep is the first step that failed, empty otherwise.
	FailedStep string `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`

	// PreviousRunID links a resumed run to the run it resumed from.
	PreviousRunID string `json:"previous_run_id,omitempty" yaml:"previous_run_id,omitempty"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`

	// Failure is set for runs that did not succeed.
	Failure *Failure `json:"failure,omitempty" yaml:"failure,omitempty"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(r.PlanHash) == "" {
		errs = append(errs, errors.New("plan_hash is required"))
	}
	if r.StartedAt.IsZero() {
		errs = append(errs, errors.New("started_at is required"))
	}
	switch r.Mode {
	case ExecutionModeClean, ExecutionModeResume:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	switch r.Status {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusInterrupted:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Mode == ExecutionModeResume && strings.TrimSpace(r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id is required for a resumed run"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// StepRecord is the recorded state of one step within a run.
type StepRecord struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Name       string    `json:"name" yaml:"name"`
	Status     string    `json:"status" yaml:"status"`
	ExitCode   int       `json:"exit_code" yaml:"exit_code"`
	StartedAt  time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

func (s StepRecord) Validate() error {
	var errs []error
	if strings.TrimSpace(s.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(s.Status) == "" {
		errs = append(errs, errors.New("status is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// CheckpointRecord is a model checkpoint observed while a step ran.
type CheckpointRecord struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Step       string    `json:"step" yaml:"step"`
	Path       string    `json:"path" yaml:"path"`
	GlobalStep int64     `json:"global_step" yaml:"global_step"`
	SeenAt     time.Time `json:"seen_at" yaml:"seen_at"`
}

func (c CheckpointRecord) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(c.Step) == "" {
		errs = append(errs, errors.New("step is required"))
	}
	if strings.TrimSpace(c.Path) == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if c.GlobalStep < 0 {
		errs = append(errs, errors.New("global_step must be >= 0"))
	}
	if c.SeenAt.IsZero() {
		errs = append(errs, errors.New("seen_at is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	FailureClassConfig    FailureClass = "config"
	FailureClassExecution FailureClass = "execution"
	FailureClassSystem    FailureClass = "system"
)

// Failure is a recorded run termination reason.
type Failure struct {
	Class     FailureClass `json:"class" yaml:"class"`
	Step      string       `json:"step,omitempty" yaml:"step,omitempty"`
	Code      string       `json:"code" yaml:"code"`
	Message   string       `json:"message" yaml:"message"`
	Resumable bool         `json:"resumable" yaml:"resumable"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.Class {
	case FailureClassConfig, FailureClassExecution, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure class %q", f.Class))
	}
	if strings.TrimSpace(f.Code) == "" {
		errs = append(errs, errors.New("code is required"))
	}
	if strings.TrimSpace(f.Message) == "" {
		errs = append(errs, errors.New("message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
