package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"trainpipe/internal/config"
	"trainpipe/internal/core"
	"trainpipe/internal/dag"
	"trainpipe/internal/state"
	"trainpipe/internal/trace"
)

// GraphExecutor is the minimal engine interface the CLI wires into.
//
// Tests substitute it to check exit-code mapping, including panics, without
// starting processes.
type GraphExecutor interface {
	Run(ctx context.Context, g *dag.Graph, runner dag.StepRunner, plan *dag.Plan, obs dag.Observer) (*dag.Result, error)
}

type defaultGraphExecutor struct {
	logger *zap.Logger
}

func (d defaultGraphExecutor) Run(ctx context.Context, g *dag.Graph, runner dag.StepRunner, plan *dag.Plan, obs dag.Observer) (*dag.Result, error) {
	exec, err := dag.NewExecutor(g, runner)
	if err != nil {
		return nil, err
	}
	exec.Plan = plan
	exec.Observer = obs
	if d.logger != nil {
		exec.Logger = d.logger
	}
	return exec.RunSerial(ctx)
}

// RunRequest describes one pipeline run.
type RunRequest struct {
	Config *config.Config
	Graph  *dag.Graph

	// Resume reuses the steps completed by the latest resumable run.
	Resume bool

	// TracePath, when set, receives the execution trace.
	TracePath string

	// LogDir, when set, receives a copy of each step's output.
	LogDir string

	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger

	// Executor defaults to the serial dag executor.
	Executor GraphExecutor
}

// RunResult is the outcome of Execute.
type RunResult struct {
	RunID       string
	ExitCode    int
	ResumedFrom string
	Result      *dag.Result
}

// Execute runs the pipeline described by req and records it in the run
// history.
//
// Responsibilities:
//   - Open the run store; history is best effort unless resuming.
//   - Build a resume plan when asked.
//   - Write the trace file after the run, even on panic or failure.
//   - Translate the engine outcome to an exit code.
func Execute(ctx context.Context, req RunRequest) (res RunResult, execErr error) {
	res.ExitCode = ExitInternalError
	if req.Config == nil || req.Graph == nil {
		return res, errors.New("config and graph are required")
	}
	logger := req.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	executor := req.Executor
	if executor == nil {
		executor = defaultGraphExecutor{logger: logger}
	}
	g := req.Graph
	planHash := string(g.Hash())

	store, err := state.Open(req.Config.StateDBPath())
	if err != nil {
		if req.Resume {
			res.ExitCode = ExitConfigError
			return res, configError(fmt.Errorf("open run history: %w", err))
		}
		logger.Warn("run history unavailable; this run will not be recorded", zap.Error(err))
	} else {
		defer store.Close()
		logger.Debug("recording run", zap.String("state_db", store.Path()))
	}

	runID := state.NewRunID()
	res.RunID = runID
	run := state.Run{
		ID:        runID,
		PlanHash:  planHash,
		Mode:      state.ExecutionModeClean,
		Status:    state.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	var plan *dag.Plan
	if req.Resume {
		checker := &state.ResumeEligibilityChecker{Store: store}
		src, err := checker.Latest(ctx, planHash)
		switch {
		case errors.Is(err, state.ErrRunNotFound):
			logger.Info("no resumable run for this plan; starting from scratch", zap.String("plan_hash", planHash))
		case err != nil:
			res.ExitCode = ExitConfigError
			return res, configError(fmt.Errorf("resume: %w", err))
		default:
			plan = dag.ResumePlan(g, src.Run.ID, src.Succeeded)
			if plan == nil {
				logger.Info("previous run completed no reusable steps; starting from scratch", zap.String("previous_run_id", src.Run.ID))
			} else {
				run.Mode = state.ExecutionModeResume
				run.PreviousRunID = src.Run.ID
				res.ResumedFrom = src.Run.ID
				logger.Info("resuming run",
					zap.String("previous_run_id", src.Run.ID),
					zap.Strings("reused_steps", plan.Reused(g)))
			}
		}
	}

	recorder := state.NewRecorder(store, runID, logger)
	if store != nil {
		if err := store.StartRun(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn("run not recorded", zap.String("run_id", runID), zap.Error(err))
			recorder.Store = nil
		}
	}

	traceRec := trace.NewRecorder()
	if req.TracePath != "" {
		defer func() {
			tr := traceRec.Trace(planHash)
			if err := trace.WriteFile(req.TracePath, tr); err != nil {
				logger.Error("trace not written", zap.String("path", req.TracePath), zap.Error(err))
				return
			}
			sum, _ := tr.Hash()
			logger.Info("trace written", zap.String("path", req.TracePath), zap.String("trace_hash", sum))
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			res.Result = nil
			execErr = fmt.Errorf("panic: %v", r)
			run.Status = state.RunStatusFailed
			run.ExitCode = ExitInternalError
			recorder.Finish(run, &state.SystemFailureError{Code: "Panic", Message: execErr.Error(), Cause: execErr})
		}
	}()

	if req.LogDir != "" {
		if err := os.MkdirAll(req.LogDir, 0o755); err != nil {
			err = fmt.Errorf("create log dir: %w", err)
			run.Status = state.RunStatusFailed
			run.ExitCode = ExitConfigError
			recorder.Finish(run, &state.ConfigFailureError{Code: "LogDir", Message: err.Error(), Cause: err})
			res.ExitCode = ExitConfigError
			return res, configError(err)
		}
	}

	stepExecutor := core.NewExecutor()
	stepExecutor.InheritEnv = req.Config.InheritEnv
	stepExecutor.GracePeriod = req.Config.GracePeriod

	runner := core.NewRunner(stepExecutor, logger)
	if req.Stdout != nil {
		runner.Stdout = req.Stdout
	}
	if req.Stderr != nil {
		runner.Stderr = req.Stderr
	}
	runner.LogDir = req.LogDir
	runner.OnCheckpoint = recorder.OnCheckpoint

	gr, err := executor.Run(ctx, g, runner, plan, dag.Observers{recorder, traceRec})
	if err != nil {
		run.Status = state.RunStatusFailed
		run.ExitCode = ExitInternalError
		recorder.Finish(run, &state.SystemFailureError{Code: "EngineError", Message: err.Error(), Cause: err})
		res.ExitCode = ExitInternalError
		return res, err
	}
	res.Result = gr
	res.ExitCode = gr.ExitCode

	run.ExitCode = gr.ExitCode
	run.FailedStep = gr.FailedStep
	var failure error
	switch {
	case gr.Succeeded():
		run.Status = state.RunStatusSucceeded
	case gr.Interrupted:
		run.Status = state.RunStatusInterrupted
		failure = &state.SystemFailureError{Code: "Interrupted", Message: "run interrupted"}
	default:
		run.Status = state.RunStatusFailed
		failure = &state.ExecutionFailureError{
			Step:     gr.FailedStep,
			ExitCode: gr.ExitCode,
			Message:  fmt.Sprintf("step %s failed", gr.FailedStep),
		}
	}
	recorder.Finish(run, failure)

	if failure != nil {
		return res, &ExitError{Code: res.ExitCode, Err: failure}
	}
	return res, nil
}
