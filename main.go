package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/awnumar/memguard"

	"github.com/Aviksaikat/envault/cmd"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
)

func main() {
	// Purge protected buffers on SIGINT/SIGTERM before the process dies.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	root := cmd.GetRootCmd()
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		// A child started by `load --exec` owns its own exit code.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			memguard.Purge()
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		memguard.Purge()
		os.Exit(kerrors.ExitCode(err))
	}
}
