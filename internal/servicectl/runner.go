package servicectl

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Runner executes external commands such as systemctl.
type Runner interface {
	Run(ctx context.Context, cmd string, args ...string) (string, error)
}

type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// exitCode extracts the exit status of a finished command, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
