package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aviksaikat/envault/internal/audit"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/execx"
	logger "github.com/Aviksaikat/envault/internal/logging"
	"github.com/Aviksaikat/envault/internal/session"
)

var loadExec bool

func init() {
	loadCmd.Flags().BoolVar(&loadExec, "exec", false, "run the command after -- with the session injected into its environment")
}

var loadCmd = &cobra.Command{
	Use:   "load [doc] [--exec -- command...]",
	Short: "Materializes session bindings from a sealed document",
	Long: `Loads the document through the configured custody mode and either prints
the bindings as NAME=value lines or, with --exec, injects them into a child
process's environment. Nothing is exported into the calling shell and
nothing is cached: every load re-authenticates and re-decrypts.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting load command")

		ctx, err := loadProjectContext()
		if err != nil {
			if errors.Is(err, kerrors.ErrProjectNotInitialized) {
				printError("Envault has not been initialized", err)
				return err
			}
			return Logger.ErrorfAndReturn("failed to load project: %v", err)
		}

		// Split the doc argument from the command after --.
		var docArgs, execArgs []string
		if dash := cmd.ArgsLenAtDash(); dash >= 0 {
			docArgs, execArgs = args[:dash], args[dash:]
		} else {
			docArgs = args
		}
		if loadExec && len(execArgs) == 0 {
			return Logger.ErrorfAndReturn("--exec requires a command after --")
		}

		docPath := defaultDocumentPath(ctx, docArgs)

		loader := &session.Loader{
			Config:  ctx.Config,
			KeyPath: ctx.KeyPath,
			Vault:   ctx.Adapter,
		}
		sess, err := loader.Load(cmd.Context(), docPath)
		if err != nil {
			var loadErr *session.LoadError
			if errors.As(err, &loadErr) {
				printError("Failed while "+loadErr.Step, loadErr.Err)
			} else {
				printError("Failed to load session", err)
			}
			return err
		}

		audit.Log(ctx.Root, audit.Entry{
			Operation: "load",
			Documents: []string{docPath},
			VarCount:  sess.Len(),
		})

		if loadExec {
			Logger.Debugf("Executing child with %d session bindings", sess.Len())
			env := sess.Environ(os.Environ())
			if debug {
				values := make([]string, 0, sess.Len())
				for _, name := range sess.Names() {
					v, _ := sess.Get(name)
					values = append(values, v)
				}
				Logger.Debugf("Child environment: %s", logger.Redact(strings.Join(env, " "), values))
			}
			return execx.Interactive(cmd.Context(), env, execArgs[0], execArgs[1:]...)
		}

		for _, name := range sess.Names() {
			value, _ := sess.Get(name)
			fmt.Printf("%s=%s\n", name, value)
		}
		return nil
	},
}
