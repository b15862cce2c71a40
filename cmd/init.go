package cmd

import (
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Aviksaikat/envault/internal/config"
	"github.com/Aviksaikat/envault/internal/setup"
	"github.com/Aviksaikat/envault/internal/ui"
)

var (
	initRestore     bool
	initName        string
	initCustody     string
	initBackend     string
	initDatabase    string
	initCreateVault bool
	initSeedFrom    string
)

func init() {
	initCmd.Flags().BoolVar(&initRestore, "restore", false, "restore an existing project from its vault backup instead of creating new keys")
	initCmd.Flags().StringVar(&initName, "name", "", "project name (defaults to the directory name)")
	initCmd.Flags().StringVar(&initCustody, "custody", "disk", "key custody mode: disk or vault")
	initCmd.Flags().StringVar(&initBackend, "vault-backend", "keepassxc", "vault backend: keepassxc or keyring")
	initCmd.Flags().StringVar(&initDatabase, "vault-database", "", "KeePassXC database path (defaults to the user data directory)")
	initCmd.Flags().BoolVar(&initCreateVault, "create-vault", false, "create the vault database if it does not exist")
	initCmd.Flags().StringVar(&initSeedFrom, "from", "", "seed the initial document from an existing plaintext .env file")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes the secret store in the current directory",
	Long: `Sets up envault for this project: verifies external tools, creates or
restores the keypair, backs it up to the vault, seals the initial document,
and proves the whole chain with a decryption round trip before writing any
configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		figure.NewFigure("envault", "", true).Print()
		fmt.Println()

		if initRestore {
			return runInitRestore(cmd)
		}

		spinner, cleanup := startSpinner("Initializing envault...")
		defer cleanup()

		cwd, err := os.Getwd()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to get working directory: %v", err)
		}

		settings, err := config.LoadUserSettings()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to load user settings: %v", err)
		}

		adapter, err := adapterFor(initBackend, initDatabase, settings)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to configure vault backend: %v", err)
		}

		orch := setup.New(cwd, settings, adapter)
		result, err := orch.RunNew(cmd.Context(), setup.Options{
			ProjectName:   initName,
			CustodyMode:   initCustody,
			VaultBackend:  initBackend,
			VaultDatabase: initDatabase,
			CreateVault:   initCreateVault,
			SeedFrom:      initSeedFrom,
		})
		if err != nil {
			spinner.FinalMSG = setupFailureMessage(err)
			return err
		}

		finalMessage := color.GreenString("✓") + " Envault initialized successfully!\n" +
			color.CyanString("→") + " Your public identifier is " + ui.Highlight.Sprint(result.Identifier) + "\n" +
			color.CyanString("→") + " Sealed document created at " + ui.Path.Sprint(result.DocumentPath) + "\n" +
			color.CyanString("→") + " Run " + ui.Code.Sprint("envault set NAME value") + " to add your first secret"
		spinner.FinalMSG = finalMessage
		return nil
	},
}

// runInitRestore re-materializes a project on a fresh machine. The checkout
// already carries the config and sealed documents; the key comes back from
// the vault backup.
func runInitRestore(cmd *cobra.Command) error {
	spinner, cleanup := startSpinner("Restoring envault from vault backup...")
	defer cleanup()

	ctx, err := loadProjectContext()
	if err != nil {
		spinner.FinalMSG = color.RedString("✗") + " No envault project found here\n" +
			color.CyanString("→") + " Restoring needs the checkout's " + ui.Path.Sprint(config.MarkerDir+"/") + " directory; clone the repository first"
		return err
	}

	orch := setup.New(ctx.Root, ctx.Settings, ctx.Adapter)
	result, err := orch.RunRestore(cmd.Context(), ctx.Config, "")
	if err != nil {
		spinner.FinalMSG = setupFailureMessage(err)
		return err
	}

	finalMessage := color.GreenString("✓") + " Envault restored successfully!\n" +
		color.CyanString("→") + " Active identifier: " + ui.Highlight.Sprint(result.Identifier) + "\n" +
		color.CyanString("→") + " Run " + ui.Code.Sprint("envault load") + " to verify your secrets"
	spinner.FinalMSG = finalMessage
	return nil
}

// setupFailureMessage renders a halted setup flow, naming the step that
// failed and the last state reached so the user can resume intelligently.
func setupFailureMessage(err error) string {
	if step, ok := err.(*setup.StepError); ok {
		return color.RedString("✗") + " Setup halted at: " + step.Step + "\n" +
			color.CyanString("→") + " Last completed stage: " + ui.Highlight.Sprint(string(step.LastState)) + "\n" +
			color.RedString("Error: ") + step.Err.Error()
	}
	return color.RedString("✗") + " Setup failed\n" +
		color.RedString("Error: ") + err.Error()
}
