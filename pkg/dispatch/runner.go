package dispatch

import (
	"context"
	"os/exec"
)

// CommandRunner executes an external command synchronously with the given
// working directory, returning combined stdout/stderr. Output is captured
// for diagnostics only; success is determined solely by the error (exit
// code).
type CommandRunner interface {
	Run(ctx context.Context, workDir string, argv []string) ([]byte, error)
}

// execRunner runs commands via os/exec.
type execRunner struct{}

var _ CommandRunner = execRunner{}

func (execRunner) Run(ctx context.Context, workDir string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir

	return cmd.CombinedOutput()
}
