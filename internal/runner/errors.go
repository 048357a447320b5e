package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// ExecutionErrorKind categorizes spawn failures that prevent an attempt
// from producing any marker at all.
type ExecutionErrorKind string

const (
	ExecutionErrorKindMissingShell  ExecutionErrorKind = "missing_shell"
	ExecutionErrorKindProcessFailed ExecutionErrorKind = "process_failure"
)

// ExecutionError describes a failure to start the launch command, with
// remediation guidance for the operator.
type ExecutionError struct {
	Shell       string
	Kind        ExecutionErrorKind
	Remediation string
	Cause       error
}

func (e *ExecutionError) Error() string {
	var detail string
	switch e.Kind {
	case ExecutionErrorKindMissingShell:
		detail = fmt.Sprintf("shell %q was not found", e.Shell)
	default:
		detail = "process failed to start"
	}

	msg := fmt.Sprintf("execution failed (%s): %s", e.Kind, detail)
	if e.Remediation != "" {
		msg += "; remediation: " + e.Remediation
	}
	if e.Cause != nil {
		msg += "; cause: " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying process error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

func newExecutionError(shell string, err error) *ExecutionError {
	e := &ExecutionError{
		Shell: shell,
		Kind:  ExecutionErrorKindProcessFailed,
		Cause: err,
	}

	if isMissingBinaryError(err) {
		e.Kind = ExecutionErrorKindMissingShell
		e.Remediation = fmt.Sprintf("Install %s or set the shell in .launchsweep/config.yaml.", shell)
	} else {
		e.Remediation = "Check the execution environment and rerun after resolving the underlying process error."
	}

	return e
}

func isMissingBinaryError(err error) bool {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return true
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "executable file not found") ||
		strings.Contains(lower, "no such file or directory")
}
