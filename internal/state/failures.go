package state

import (
	"errors"
	"fmt"
)

// ConfigFailureError reports an invalid configuration or step graph.
// Not resumable: the same inputs fail the same way.
type ConfigFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ConfigFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("config failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("config failure: %s", e.Message)
}

func (e *ConfigFailureError) Unwrap() error { return e.Cause }

// ExecutionFailureError reports a step that exited non-zero.
type ExecutionFailureError struct {
	Step     string
	ExitCode int
	Message  string
	Cause    error
}

func (e *ExecutionFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Step != "" {
		return fmt.Sprintf("execution failure step=%s (exit %d): %s", e.Step, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("execution failure (exit %d): %s", e.ExitCode, e.Message)
}

func (e *ExecutionFailureError) Unwrap() error { return e.Cause }

// SystemFailureError reports an interruption, crash or engine error.
type SystemFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SystemFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("system failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("system failure: %s", e.Message)
}

func (e *SystemFailureError) Unwrap() error { return e.Cause }

// FailureFromError classifies err into the failure taxonomy.
// Unknown errors are treated as system failures.
func FailureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var cf *ConfigFailureError
	if errors.As(err, &cf) && cf != nil {
		return Failure{
			Class:     FailureClassConfig,
			Code:      nonEmptyOr(cf.Code, "ConfigFailure"),
			Message:   nonEmptyOr(cf.Message, cf.Error()),
			Resumable: false,
		}, nil
	}

	var ef *ExecutionFailureError
	if errors.As(err, &ef) && ef != nil {
		return Failure{
			Class:     FailureClassExecution,
			Step:      ef.Step,
			Code:      fmt.Sprintf("exit:%d", ef.ExitCode),
			Message:   nonEmptyOr(ef.Message, ef.Error()),
			Resumable: true,
		}, nil
	}

	var sf *SystemFailureError
	if errors.As(err, &sf) && sf != nil {
		return Failure{
			Class:     FailureClassSystem,
			Code:      nonEmptyOr(sf.Code, "SystemFailure"),
			Message:   nonEmptyOr(sf.Message, sf.Error()),
			Resumable: true,
		}, nil
	}

	return Failure{
		Class:     FailureClassSystem,
		Code:      "UnknownError",
		Message:   err.Error(),
		Resumable: true,
	}, nil
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
