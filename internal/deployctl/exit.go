package deployctl

import (
	"errors"
	"fmt"

	"github.com/jinzoro/syseng-scripts/internal/deploy"
)

// ExitError carries the process exit code for a finished attempt. Err is nil when
// the outcome has already been printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to the process exit code. Errors without a
// deployment outcome (bad flags, config, lock contention) exit 1.
func ExitCode(err error) int {
	if err == nil {
		return deploy.ExitSucceeded
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return deploy.ExitFailed
}

// Silent reports whether the error was already shown to the user.
func Silent(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Err == nil
}

func outcomeError(state deploy.State) error {
	if code := state.ExitCode(); code != deploy.ExitSucceeded {
		return &ExitError{Code: code}
	}
	return nil
}
