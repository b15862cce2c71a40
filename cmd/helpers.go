package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/Aviksaikat/envault/internal/config"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/prompt"
	"github.com/Aviksaikat/envault/internal/ui"
	"github.com/Aviksaikat/envault/internal/vault"
)

// startSpinner creates and starts a spinner with the given message when not
// in verbose or debug mode. Returns the spinner and a cleanup function that
// should be deferred.
//
// spinner.FinalMSG values do NOT need trailing newlines; cleanup runs the
// final message through ui.EnsureNewline before printing it.
func startSpinner(message string) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		// If we can't set spinner color, just continue without it.
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	if !verbose && !debug {
		s.Start()
		// Ensure log output is discarded unless in verbose mode.
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	cleanup := func() {
		if !verbose && !debug {
			log.SetOutput(os.Stdout)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			// Clear FinalMSG so s.Stop() doesn't print it.
			s.FinalMSG = ""
		}

		if !verbose && !debug {
			s.Stop()
		}

		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// printError logs an error and prints a red final message without exposing
// the failure to cobra's usage printer.
func printError(message string, err error) {
	Logger.Errorf("%s: %v", message, err)
	fmt.Println(color.RedString("✗") + " " + message + "\n" +
		color.RedString("Error: ") + err.Error())
}

// notInitializedMessage is the shared final message for commands run outside
// an initialized project.
func notInitializedMessage() string {
	return color.RedString("✗") + " Envault has not been initialized\n" +
		color.CyanString("→") + " Run " + color.YellowString("envault init") + " first"
}

// projectContext bundles everything a command needs to operate on the
// current project.
type projectContext struct {
	Root     string
	Config   *config.ProjectConfig
	Settings *config.UserSettings
	Adapter  vault.Adapter
	KeyPath  string
}

// loadProjectContext locates the project root from the working directory and
// loads its configuration. Returns ErrProjectNotInitialized when no marker
// directory is found.
func loadProjectContext() (*projectContext, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		return nil, err
	}
	if root == "" {
		return nil, kerrors.ErrProjectNotInitialized
	}

	cfg, err := config.LoadProjectConfig(root)
	if err != nil {
		return nil, err
	}

	settings, err := config.LoadUserSettings()
	if err != nil {
		return nil, err
	}

	adapter, err := newAdapter(cfg, settings)
	if err != nil {
		return nil, err
	}

	return &projectContext{
		Root:     root,
		Config:   cfg,
		Settings: settings,
		Adapter:  adapter,
		KeyPath:  settings.KeyFilePath(cfg.Project.UUID),
	}, nil
}

// newAdapter builds the vault adapter the project configuration names.
func newAdapter(cfg *config.ProjectConfig, settings *config.UserSettings) (vault.Adapter, error) {
	return adapterFor(cfg.Vault.Backend, cfg.Vault.Database, settings)
}

// adapterFor resolves a backend name and database path into an adapter.
// Passphrase prompts go to the controlling terminal with the default
// timeout.
func adapterFor(backend, database string, settings *config.UserSettings) (vault.Adapter, error) {
	switch backend {
	case "", "keepassxc":
		if database == "" {
			database = settings.DefaultVaultPath()
		}
		return vault.NewKeePassXC(database, prompt.NewTerminal()), nil
	case "keyring":
		return vault.NewKeyring(), nil
	default:
		return nil, fmt.Errorf("%w: unknown vault backend %q", kerrors.ErrInvalidProjectConfig, backend)
	}
}

// defaultDocumentPath resolves the document argument: an explicit path wins,
// otherwise the conventional .env.envault under the project root.
func defaultDocumentPath(ctx *projectContext, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return filepath.Join(ctx.Root, ".env"+config.DocumentSuffix)
}
