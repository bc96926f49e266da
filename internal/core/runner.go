package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trainpipe/internal/watch"
)

// StepResult is the outcome of running one step.
type StepResult struct {
	Step       string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time

	// Interrupted is set when the run context ended while the step ran.
	Interrupted bool

	// StartErr is set when the program could not be started; ExitCode is
	// ExitNotFound in that case.
	StartErr error

	// Checkpoints lists checkpoints observed in the step's WatchDir.
	Checkpoints []watch.Checkpoint
}

// Duration is the wall time the step took.
func (r *StepResult) Duration() time.Duration {
	if r == nil || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Runner runs steps: it starts the process and, for steps with a WatchDir,
// a checkpoint watcher alongside it.
type Runner struct {
	Executor *Executor
	Logger   *zap.Logger

	// Stdout and Stderr receive child output. Default to the parent's streams.
	Stdout io.Writer
	Stderr io.Writer

	// LogDir, when set, receives a copy of each step's output in <step>.log.
	LogDir string

	// OnCheckpoint is called for every checkpoint observed while a step runs.
	OnCheckpoint func(step string, cp watch.Checkpoint)
}

// NewRunner creates a Runner around executor writing to the parent's streams.
func NewRunner(executor *Executor, logger *zap.Logger) *Runner {
	if executor == nil {
		executor = NewExecutor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Executor: executor, Logger: logger, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run runs step until it exits and returns its result.
//
// A step that exits non-zero, or whose program cannot be started, is
// reported through the result. The returned error is reserved for failures
// of the runner itself (for example an unwritable log directory).
func (r *Runner) Run(ctx context.Context, step Step) (*StepResult, error) {
	if r.Executor == nil {
		return nil, fmt.Errorf("runner: nil executor")
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stdout, stderr, closeLog, err := r.outputs(step.Name)
	if err != nil {
		return nil, err
	}
	defer closeLog()

	var (
		mu          sync.Mutex
		checkpoints []watch.Checkpoint
	)
	onCheckpoint := func(cp watch.Checkpoint) {
		mu.Lock()
		checkpoints = append(checkpoints, cp)
		mu.Unlock()
		logger.Info("checkpoint saved",
			zap.String("step", step.Name),
			zap.Int64("global_step", cp.GlobalStep),
			zap.String("path", cp.Path))
		if r.OnCheckpoint != nil {
			r.OnCheckpoint(step.Name, cp)
		}
	}

	// The watcher lives exactly as long as the process; it never cancels it.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()

	var (
		execRes *ExecutionResult
		execErr error
	)
	var g errgroup.Group
	if step.WatchDir != "" {
		w := watch.NewCheckpointWatcher(step.WatchDir, logger)
		g.Go(func() error {
			if err := w.Run(watchCtx, onCheckpoint); err != nil {
				logger.Warn("checkpoint watcher stopped", zap.String("step", step.Name), zap.Error(err))
			}
			return nil
		})
		// Checkpoints the process writes must land after the baseline.
		<-w.Ready()
	}
	g.Go(func() error {
		defer stopWatch()
		execRes, execErr = r.Executor.Execute(ctx, &step, stdout, stderr)
		return nil
	})
	_ = g.Wait()

	var startErr *StartError
	switch {
	case execErr == nil:
	case errors.As(execErr, &startErr) && execRes != nil:
		logger.Error("step could not be started", zap.String("step", step.Name), zap.Error(execErr))
	default:
		return nil, execErr
	}

	mu.Lock()
	defer mu.Unlock()
	res := &StepResult{
		Step:        step.Name,
		ExitCode:    execRes.ExitCode,
		StartedAt:   execRes.StartedAt,
		FinishedAt:  execRes.FinishedAt,
		Interrupted: execRes.Interrupted,
		Checkpoints: checkpoints,
	}
	if startErr != nil {
		res.StartErr = startErr
	}
	return res, nil
}

// outputs returns the writers for a step, teeing into a log file when
// LogDir is set.
func (r *Runner) outputs(name string) (io.Writer, io.Writer, func(), error) {
	stdout, stderr := r.Stdout, r.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if r.LogDir == "" {
		return stdout, stderr, func() {}, nil
	}
	if err := os.MkdirAll(r.LogDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(r.LogDir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open step log: %w", err)
	}
	// Both streams share one file; serialize writes to it.
	lf := &lockedWriter{w: f}
	return io.MultiWriter(stdout, lf), io.MultiWriter(stderr, lf), func() { _ = f.Close() }, nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
