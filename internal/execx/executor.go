// Package execx abstracts subprocess execution behind an interface so that
// external tool invocations (the KeePassXC CLI, the user's editor) can be
// mocked in tests.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
)

// CommandExecutor runs external commands.
type CommandExecutor interface {
	// Execute runs a command and returns its stdout, stderr, and any error.
	Execute(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

	// ExecuteInput runs a command with the given bytes piped to stdin.
	// Callers own the stdin slice and should wipe it after the call when it
	// holds sensitive data.
	ExecuteInput(ctx context.Context, stdin []byte, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// RealExecutor executes actual commands via os/exec.
type RealExecutor struct{}

func (r *RealExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return r.ExecuteInput(ctx, nil, name, args...)
}

func (r *RealExecutor) ExecuteInput(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Default returns the production executor.
func Default() CommandExecutor {
	return &RealExecutor{}
}

// Interactive runs a command attached to the caller's terminal, for
// subprocesses that own the screen (the user's editor) or that should
// stream output directly (exec'd child commands).
func Interactive(ctx context.Context, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if env != nil {
		cmd.Env = env
	}
	return cmd.Run()
}

// Require verifies that an external binary is installed, returning
// ErrToolUnavailable with the tool's name when it is not.
func Require(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s", kerrors.ErrToolUnavailable, name)
	}
	return nil
}
