// Package invoke runs the external generation tool.
package invoke

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/Paranoid-AF/evocaition/invoke Runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Runner executes an argument vector and returns its standard output.
type Runner interface {
	Run(ctx context.Context, argv []string) (string, error)
}

// ProcessError is returned when the tool cannot be started or exits non-zero.
type ProcessError struct {
	Message  string
	ExitCode int // -1 when the process did not run to completion
	Stderr   string
}

func (e *ProcessError) Error() string {
	return e.Message
}

// ExecRunner runs the tool directly, without a shell.
type ExecRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

// Run starts argv[0] with the remaining arguments and waits for it.
// Stdout is returned verbatim. Cancelling ctx kills the process.
func (r *ExecRunner) Run(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", &ProcessError{Message: "empty command", ExitCode: -1}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	perr := &ProcessError{Message: err.Error(), ExitCode: -1, Stderr: strings.TrimSpace(stderr.String())}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		perr.ExitCode = exitErr.ExitCode()
	}
	if perr.Stderr != "" {
		perr.Message += ": " + perr.Stderr
	}
	return "", perr
}

var _ Runner = (*ExecRunner)(nil)
