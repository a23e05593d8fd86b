package deploy

import (
	"errors"
	"fmt"

	"github.com/jinzoro/syseng-scripts/internal/backup"
)

var (
	ErrDeploymentInProgress     = errors.New("another deployment of this service is in progress")
	ErrNoSnapshot               = backup.ErrNoSnapshot
	ErrRollbackAlreadyPerformed = errors.New("rollback already performed for this attempt")
	ErrNotRunning               = errors.New("service is not running")
)

// BackupError aborts an attempt before anything live is touched.
type BackupError struct {
	Err error
}

func (e *BackupError) Error() string { return fmt.Sprintf("backup failed: %v", e.Err) }
func (e *BackupError) Unwrap() error { return e.Err }

// StageError aborts an attempt before anything live is touched.
type StageError struct {
	Version string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("staging version %s failed: %v", e.Version, e.Err)
}
func (e *StageError) Unwrap() error { return e.Err }

type ActivationStep string

const (
	StepRegister      ActivationStep = "register"
	StepSwap          ActivationStep = "swap"
	StepStop          ActivationStep = "stop"
	StepStart         ActivationStep = "start"
	StepSettle        ActivationStep = "settle"
	StepVerifyRunning ActivationStep = "verify_running"
)

// ActivationError records which activation step failed. The step is diagnostic only.
type ActivationError struct {
	Step ActivationStep
	Err  error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation failed at %s: %v", e.Step, e.Err)
}
func (e *ActivationError) Unwrap() error { return e.Err }

type HealthCheckExhausted struct {
	Attempts int
	Err      error
}

func (e *HealthCheckExhausted) Error() string {
	return fmt.Sprintf("health check failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *HealthCheckExhausted) Unwrap() error { return e.Err }

// RollbackError is terminal and needs an operator.
type RollbackError struct {
	Step string
	Err  error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed at %s: %v", e.Step, e.Err)
}
func (e *RollbackError) Unwrap() error { return e.Err }

// RetentionError never changes the outcome of an attempt.
type RetentionError struct {
	Kind string
	Err  error
}

func (e *RetentionError) Error() string {
	return fmt.Sprintf("pruning %s failed: %v", e.Kind, e.Err)
}
func (e *RetentionError) Unwrap() error { return e.Err }

// ReportError never changes the outcome of an attempt.
type ReportError struct {
	Sink string
	Err  error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("report to %s failed: %v", e.Sink, e.Err)
}
func (e *ReportError) Unwrap() error { return e.Err }

// ErrorKind names the taxonomy class of err for reports.
func ErrorKind(err error) string {
	var (
		backupErr     *BackupError
		stageErr      *StageError
		activationErr *ActivationError
		healthErr     *HealthCheckExhausted
		rollbackErr   *RollbackError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rollbackErr):
		return "rollback"
	case errors.As(err, &backupErr):
		return "backup"
	case errors.As(err, &stageErr):
		return "stage"
	case errors.As(err, &activationErr):
		return "activation:" + string(activationErr.Step)
	case errors.As(err, &healthErr):
		return "health"
	default:
		return "other"
	}
}
