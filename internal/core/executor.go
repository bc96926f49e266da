package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

const (
	// ExitNotFound is reported when a step's program cannot be started,
	// matching what a POSIX shell returns for an unknown command.
	ExitNotFound = 127

	// DefaultGracePeriod is how long an interrupted child may take to exit
	// before its process group is killed.
	DefaultGracePeriod = 10 * time.Second
)

// ExecutionResult is the outcome of one process execution.
type ExecutionResult struct {
	// ExitCode is the process exit code. A child terminated by a signal
	// reports 128+signo.
	ExitCode int

	// Interrupted is set when the context ended while the child was running.
	Interrupted bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// StartError reports a program that could not be started at all.
type StartError struct {
	Step    string
	Program string
	Err     error
}

func (e *StartError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("step %s: cannot start %q: %v", e.Step, e.Program, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Executor starts step processes.
//
// Each child gets its own process group. Cancelling the context forwards
// SIGINT to the group; the group is killed if it is still alive after
// GracePeriod.
type Executor struct {
	// InheritEnv passes the parent environment through. When false the child
	// sees only the step's declared variables.
	InheritEnv bool

	// GracePeriod bounds the wait after forwarding an interrupt.
	GracePeriod time.Duration

	// Environ returns the parent environment. Defaults to os.Environ.
	Environ func() []string
}

// NewExecutor creates an Executor that inherits the parent environment.
func NewExecutor() *Executor {
	return &Executor{InheritEnv: true, GracePeriod: DefaultGracePeriod}
}

// Execute runs the step to completion and reports its exit status.
//
// A non-zero exit is not an error: it is returned in the result. Errors are
// reserved for failures of the executor itself; a program that cannot be
// started yields ExitNotFound together with a *StartError.
func (e *Executor) Execute(ctx context.Context, step *Step, stdout, stderr io.Writer) (*ExecutionResult, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Program == "" {
		return nil, fmt.Errorf("step %s: program is empty", step.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("step %s: %w", step.Name, err)
	}

	// exec.Command rather than CommandContext: cancellation is handled below
	// so the child gets SIGINT first instead of an immediate SIGKILL.
	cmd := exec.Command(step.Program, step.Args...)
	cmd.Dir = step.Dir
	cmd.Env = e.buildEnv(step.Env)
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	res := &ExecutionResult{StartedAt: time.Now()}
	if err := cmd.Start(); err != nil {
		res.ExitCode = ExitNotFound
		res.FinishedAt = time.Now()
		return res, &StartError{Step: step.Name, Program: step.Program, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		res.Interrupted = true
		pid := cmd.Process.Pid
		_ = syscall.Kill(-pid, syscall.SIGINT)
		timer := time.NewTimer(e.gracePeriod())
		select {
		case err = <-done:
		case <-timer.C:
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			err = <-done
		}
		timer.Stop()
	case err = <-done:
	}
	res.FinishedAt = time.Now()

	code, werr := exitStatus(err)
	if werr != nil {
		return nil, fmt.Errorf("step %s: waiting for %q: %w", step.Name, step.Program, werr)
	}
	res.ExitCode = code
	return res, nil
}

func (e *Executor) gracePeriod() time.Duration {
	if e.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return e.GracePeriod
}

// buildEnv returns the child environment. Declared variables are appended
// in key order after the inherited ones; os/exec keeps the last value of a
// duplicated key, so declared values take precedence.
func (e *Executor) buildEnv(declared map[string]string) []string {
	var base []string
	if e.InheritEnv {
		environ := e.Environ
		if environ == nil {
			environ = os.Environ
		}
		base = environ()
	}

	keys := make([]string, 0, len(declared))
	for k := range declared {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, k := range keys {
		out = append(out, k+"="+declared[k])
	}
	return out
}

// exitStatus maps the error returned by Cmd.Wait to an exit code.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, err
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}
