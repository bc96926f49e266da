package state

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trainpipe/internal/core"
	"trainpipe/internal/dag"
	"trainpipe/internal/watch"
)

// Recorder persists the progress of one run. It implements dag.Observer and
// also receives checkpoints from core.Runner.
//
// Recording is best effort: store errors are logged and never reach the
// pipeline.
type Recorder struct {
	Store  *Store
	RunID  string
	Logger *zap.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

var _ dag.Observer = (*Recorder)(nil)

func NewRecorder(store *Store, runID string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{Store: store, RunID: runID, Logger: logger}
}

func (r *Recorder) OnStepStart(step core.Step) {
	if r == nil {
		return
	}
	r.recordStep(StepRecord{
		RunID:     r.RunID,
		Name:      step.Name,
		Status:    string(dag.StepRunning),
		StartedAt: r.now(),
	})
}

func (r *Recorder) OnStepTerminal(step core.Step, out dag.Outcome) {
	if r == nil {
		return
	}
	rec := StepRecord{
		RunID:  r.RunID,
		Name:   step.Name,
		Status: string(out.State),
	}
	if out.Result != nil {
		rec.ExitCode = out.Result.ExitCode
		rec.StartedAt = out.Result.StartedAt
		rec.FinishedAt = out.Result.FinishedAt
	}
	r.recordStep(rec)
}

// OnCheckpoint records a checkpoint seen while step ran. It matches the
// core.Runner OnCheckpoint hook.
func (r *Recorder) OnCheckpoint(step string, cp watch.Checkpoint) {
	if r == nil || r.Store == nil {
		return
	}
	seen := cp.SeenAt
	if seen.IsZero() {
		seen = r.now()
	}
	err := r.Store.RecordCheckpoint(context.Background(), CheckpointRecord{
		RunID:      r.RunID,
		Step:       step,
		Path:       cp.Path,
		GlobalStep: cp.GlobalStep,
		SeenAt:     seen,
	})
	if err != nil {
		r.logger().Warn("checkpoint not recorded",
			zap.String("run_id", r.RunID), zap.String("step", step), zap.Error(err))
	}
}

// Finish records the final outcome of the run. err classifies the failure
// and is nil for a successful run.
func (r *Recorder) Finish(run Run, err error) {
	if r == nil || r.Store == nil {
		return
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = r.now()
	}
	if err != nil {
		f, ferr := FailureFromError(err)
		if ferr == nil {
			run.Failure = &f
		}
	}
	if ferr := r.Store.FinishRun(context.Background(), run); ferr != nil {
		r.logger().Warn("run outcome not recorded", zap.String("run_id", run.ID), zap.Error(ferr))
	}
}

func (r *Recorder) recordStep(rec StepRecord) {
	if r == nil || r.Store == nil {
		return
	}
	// A cancelled run context must not stop the final records from landing.
	if err := r.Store.RecordStep(context.Background(), rec); err != nil {
		r.logger().Warn("step state not recorded",
			zap.String("run_id", rec.RunID), zap.String("step", rec.Name), zap.Error(err))
	}
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Recorder) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
