package core

import (
	"errors"
	"fmt"
)

// RunnerErrorKind classifies runner failures for user-facing hints.
type RunnerErrorKind string

const (
	// RunnerErrorUnknown is an uncategorized runner failure.
	RunnerErrorUnknown RunnerErrorKind = "unknown"
	// RunnerErrorUnavailable indicates the sandbox is unreachable.
	RunnerErrorUnavailable RunnerErrorKind = "unavailable"
	// RunnerErrorUnauthorized indicates authentication failed.
	RunnerErrorUnauthorized RunnerErrorKind = "unauthorized"
	// RunnerErrorPermissionDenied indicates authorization failed.
	RunnerErrorPermissionDenied RunnerErrorKind = "permission_denied"
	// RunnerErrorTimeout indicates the sandbox timed out.
	RunnerErrorTimeout RunnerErrorKind = "timeout"
	// RunnerErrorCanceled indicates the request was canceled.
	RunnerErrorCanceled RunnerErrorKind = "canceled"
	// RunnerErrorExec indicates the process could not be executed.
	RunnerErrorExec RunnerErrorKind = "exec"
	// RunnerErrorCompile indicates the compile step failed.
	RunnerErrorCompile RunnerErrorKind = "compile"
	// RunnerErrorFiles indicates writing project files failed.
	RunnerErrorFiles RunnerErrorKind = "files"
)

// RunnerError wraps runner failures with a stable classification.
type RunnerError struct {
	Kind    RunnerErrorKind
	Op      string
	Message string
	Err     error
}

// NewRunnerError constructs a classified runner error.
func NewRunnerError(kind RunnerErrorKind, op string, err error) *RunnerError {
	return &RunnerError{Kind: kind, Op: op, Err: err}
}

func (e *RunnerError) Error() string {
	if e == nil {
		return "runner error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("runner %s failed", e.Op)
	}
	return "runner error"
}

func (e *RunnerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// runnerStatusText returns the terminal status line for a failed pipeline.
func runnerStatusText(err error) string {
	var runnerErr *RunnerError
	if !errors.As(err, &runnerErr) {
		return err.Error()
	}
	if runnerErr.Message != "" {
		return runnerErr.Message
	}
	switch runnerErr.Kind {
	case RunnerErrorCompile:
		return "Übersetzen fehlgeschlagen"
	case RunnerErrorExec:
		return "Ausführen fehlgeschlagen"
	case RunnerErrorUnavailable:
		return "Verbindung zum Server fehlgeschlagen."
	case RunnerErrorUnauthorized, RunnerErrorPermissionDenied:
		return "Zugriff auf den Server verweigert."
	case RunnerErrorTimeout:
		return "Zeitüberschreitung beim Server."
	case RunnerErrorCanceled:
		return "Ausführung abgebrochen"
	case RunnerErrorFiles:
		return "Dateien konnten nicht geschrieben werden."
	default:
		return runnerErr.Error()
	}
}
