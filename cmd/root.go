package cmd

import (
	logger "github.com/Aviksaikat/envault/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	debug   bool
	Logger  logger.Logger

	RootCmd = &cobra.Command{
		Use:   "envault",
		Short: "Local-first encrypted secret store for project environment files",
		Long: `Envault keeps a project's environment variables in sealed documents that
are safe to commit. The private key lives in a permission-checked key file
or exclusively in an external vault (KeePassXC or the OS keychain), and
secrets are materialized per invocation, never exported into a shell.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
			}
			Logger.Debugf("Initializing envault with verbose=%t, debug=%t", verbose, debug)
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")

	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(generateKeyCmd)
	RootCmd.AddCommand(backupKeyCmd)
	RootCmd.AddCommand(restoreKeyCmd)
	RootCmd.AddCommand(encryptCmd)
	RootCmd.AddCommand(decryptCmd)
	RootCmd.AddCommand(editCmd)
	RootCmd.AddCommand(setCmd)
	RootCmd.AddCommand(loadCmd)
	RootCmd.AddCommand(rotateCmd)
	RootCmd.AddCommand(statusCmd)
}

// GetRootCmd returns the root command for testing.
func GetRootCmd() *cobra.Command {
	return RootCmd
}

// SetLogger sets the logger for testing.
func SetLogger(l logger.Logger) {
	Logger = l
}
