package dag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"trainpipe/internal/core"
)

// StepRunner runs a single step.
//
// Non-zero exits are reported through the result. A non-nil error means the
// runner itself failed and aborts the whole run.
type StepRunner interface {
	Run(ctx context.Context, step core.Step) (*core.StepResult, error)
}

// Executor runs a Graph one step at a time.
type Executor struct {
	Graph  *Graph
	Runner StepRunner

	// Plan, when set, marks steps to reuse instead of running.
	Plan *Plan

	// Observer, when set, is notified of every step start and end.
	Observer Observer

	Logger *zap.Logger

	state ExecutionState
}

// NewExecutor creates an executor with all steps PENDING.
func NewExecutor(g *Graph, runner StepRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	return &Executor{Graph: g, Runner: runner, Logger: zap.NewNop(), state: NewExecutionState(g)}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// RunSerial runs the graph to completion.
//
// The next step is always the first ready step in topological order. When a
// step fails its dependents are skipped; when ctx ends, every step not yet
// started is skipped and no new step starts. A step whose runner gives up
// because ctx ended before the process started counts as skipped too.
func (e *Executor) RunSerial(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := e.Observer
	if obs == nil {
		obs = Observers(nil)
	}

	res := &Result{
		PlanHash: e.Graph.Hash(),
		Steps:    make(map[string]*core.StepResult, len(e.Graph.nodes)),
	}

	skipInterrupted := func(names []string) {
		res.Interrupted = true
		for _, name := range names {
			logger.Warn("step skipped", zap.String("step", name), zap.String("reason", "interrupted"))
			obs.OnStepTerminal(e.Graph.nodesByName[name].Step, Outcome{State: StepSkipped})
		}
	}

	for {
		ready := ReadySteps(e.Graph, e.state)
		if len(ready) == 0 {
			for _, st := range e.state {
				if !IsTerminal(st) {
					return nil, fmt.Errorf("no ready steps but graph not finished")
				}
			}
			res.FinalState = e.StateSnapshot()
			res.ExitCode = exitCodeFor(res)
			return res, nil
		}

		next := ready[0]
		step := e.Graph.nodesByName[next].Step

		if e.Plan != nil && e.Plan.Reuse[next] {
			if err := Transition(e.state, next, StepPending, StepReused); err != nil {
				return nil, err
			}
			logger.Info("step reused", zap.String("step", next), zap.String("from_run", e.Plan.ResumedFrom))
			obs.OnStepTerminal(step, Outcome{State: StepReused})
			continue
		}

		if ctx.Err() != nil {
			skipInterrupted(SkipPending(e.Graph, e.state))
			continue
		}

		if err := Transition(e.state, next, StepPending, StepRunning); err != nil {
			return nil, err
		}
		logger.Info("step started", zap.String("step", next), zap.Strings("argv", step.CommandLine()))
		obs.OnStepStart(step)

		stepRes, err := e.Runner.Run(ctx, step)
		if err != nil && ctx.Err() != nil {
			logger.Debug("step not started", zap.String("step", next), zap.Error(err))
			if terr := Transition(e.state, next, StepRunning, StepSkipped); terr != nil {
				return nil, terr
			}
			skipInterrupted(append([]string{next}, SkipPending(e.Graph, e.state)...))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("running %q: %w", next, err)
		}
		if stepRes == nil {
			return nil, fmt.Errorf("running %q: nil result", next)
		}

		res.ExecutionOrder = append(res.ExecutionOrder, next)
		res.Steps[next] = stepRes
		if stepRes.Interrupted {
			res.Interrupted = true
		}

		if stepRes.ExitCode == 0 {
			if err := Transition(e.state, next, StepRunning, StepSucceeded); err != nil {
				return nil, err
			}
			logger.Info("step finished",
				zap.String("step", next),
				zap.Int("exit_code", 0),
				zap.Duration("duration", stepRes.Duration()))
			obs.OnStepTerminal(step, Outcome{State: StepSucceeded, Result: stepRes})
			continue
		}

		skipped, err := FailAndPropagate(e.Graph, e.state, next)
		if err != nil {
			return nil, err
		}
		if res.FailedStep == "" {
			res.FailedStep = next
		}

		logger.Error("step failed",
			zap.String("step", next),
			zap.Int("exit_code", stepRes.ExitCode),
			zap.Duration("duration", stepRes.Duration()),
			zap.Bool("interrupted", stepRes.Interrupted))
		obs.OnStepTerminal(step, Outcome{State: StepFailed, Result: stepRes})
		for _, name := range skipped {
			logger.Warn("step skipped", zap.String("step", name), zap.String("cause", next))
			obs.OnStepTerminal(e.Graph.nodesByName[name].Step, Outcome{State: StepSkipped, Cause: next})
		}
	}
}

func exitCodeFor(r *Result) int {
	if r.FailedStep != "" {
		if sr, ok := r.Steps[r.FailedStep]; ok {
			return sr.ExitCode
		}
	}
	if r.Interrupted && !r.Succeeded() {
		return ExitInterrupted
	}
	return 0
}
