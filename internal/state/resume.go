package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trainpipe/internal/dag"
)

// ResumeEligibilityChecker decides whether a new run may resume from an
// earlier one.
//
// A run is eligible when:
//   - it exists and has the same plan hash
//   - it ended failed or interrupted, not succeeded or still running
//   - its recorded failure is resumable
type ResumeEligibilityChecker struct {
	Store *Store
}

// ResumeSource is an eligible earlier run and the steps it completed.
type ResumeSource struct {
	Run       Run
	Succeeded map[string]bool
}

// Check verifies that run prevID may be resumed by a run of planHash.
func (c *ResumeEligibilityChecker) Check(ctx context.Context, prevID, planHash string) (Run, error) {
	if c == nil || c.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	if strings.TrimSpace(prevID) == "" {
		return Run{}, errors.New("previous run id is required for resume")
	}
	prev, err := c.Store.LoadRun(ctx, prevID)
	if err != nil {
		return Run{}, err
	}
	if prev.PlanHash != planHash {
		return Run{}, fmt.Errorf("plan hash mismatch (prev=%s new=%s)", prev.PlanHash, planHash)
	}
	switch prev.Status {
	case RunStatusFailed, RunStatusInterrupted:
	default:
		return Run{}, fmt.Errorf("run %s is %s, only failed runs can be resumed", prev.ID, prev.Status)
	}
	if prev.Failure == nil {
		return Run{}, fmt.Errorf("run %s has no recorded failure", prev.ID)
	}
	if !prev.Failure.Resumable {
		return Run{}, fmt.Errorf("run %s failure is not resumable (class=%s code=%s)", prev.ID, prev.Failure.Class, prev.Failure.Code)
	}
	return prev, nil
}

// Latest finds the most recent eligible run of planHash together with the
// steps it completed. It returns an error matching ErrRunNotFound when there
// is none.
func (c *ResumeEligibilityChecker) Latest(ctx context.Context, planHash string) (*ResumeSource, error) {
	if c == nil || c.Store == nil {
		return nil, errors.New("Store is required")
	}
	cand, err := c.Store.LatestResumable(ctx, planHash)
	if err != nil {
		return nil, err
	}
	prev, err := c.Check(ctx, cand.ID, planHash)
	if err != nil {
		return nil, err
	}
	steps, err := c.Store.LoadSteps(ctx, prev.ID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(steps))
	for _, s := range steps {
		switch dag.StepState(s.Status) {
		case dag.StepSucceeded, dag.StepReused:
			done[s.Name] = true
		}
	}
	return &ResumeSource{Run: prev, Succeeded: done}, nil
}
