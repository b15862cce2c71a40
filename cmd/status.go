package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/setup"
	"github.com/Aviksaikat/envault/internal/ui"
	"github.com/Aviksaikat/envault/internal/vault"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the project's custody setup and document inventory",
	Long: `Reports the project configuration, whether the key is reachable through
the configured custody mode, and which sealed documents exist. Never
touches secret values; vault-backed keys are only checked for presence
when that requires no authentication.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting status command")

		ctx, err := loadProjectContext()
		if err != nil {
			if errors.Is(err, kerrors.ErrProjectNotInitialized) {
				fmt.Println(notInitializedMessage())
				return err
			}
			return Logger.ErrorfAndReturn("failed to load project: %v", err)
		}

		fmt.Println(ui.Info.Sprint("Project"))
		fmt.Printf("  name:      %s\n", ctx.Config.Project.Name)
		fmt.Printf("  root:      %s\n", ui.Path.Sprint(ctx.Root))
		fmt.Printf("  custody:   %s\n", ctx.Config.Custody.Mode)
		fmt.Printf("  backend:   %s\n", ctx.Adapter.Name())

		if active, err := ctx.Config.ActiveRecipient(); err == nil {
			fmt.Printf("  active:    %s\n", ui.Highlight.Sprint(active))
		} else {
			fmt.Printf("  active:    %s\n", color.RedString("none"))
		}

		fmt.Println(ui.Info.Sprint("Key"))
		mode, err := keystore.ParseCustodyMode(ctx.Config.Custody.Mode)
		if err != nil {
			fmt.Printf("  %s invalid custody mode: %v\n", color.RedString("✗"), err)
		} else if mode == keystore.CustodyOnDisk {
			reportDiskKey(ctx.KeyPath)
		} else {
			reportVaultKey(ctx.Adapter)
		}

		fmt.Println(ui.Info.Sprint("Documents"))
		docs, err := setup.FindDocuments(ctx.Root)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to scan for documents: %v", err)
		}
		if len(docs) == 0 {
			fmt.Printf("  %s no sealed documents found\n", color.YellowString("!"))
		}
		for _, doc := range docs {
			fmt.Printf("  %s %s\n", color.GreenString("•"), ui.Path.Sprint(doc))
		}
		return nil
	},
}

func reportDiskKey(keyPath string) {
	info, err := os.Stat(keyPath)
	switch {
	case os.IsNotExist(err):
		fmt.Printf("  %s no key file at %s\n", color.RedString("✗"), ui.Path.Sprint(keyPath))
		fmt.Printf("  %s run %s to pull it from the vault\n", color.CyanString("→"), ui.Code.Sprint("envault restore-key"))
	case err != nil:
		fmt.Printf("  %s cannot check key file: %v\n", color.RedString("✗"), err)
	case info.Mode().Perm()&0o077 != 0:
		fmt.Printf("  %s key file at %s has mode %04o, want 0600\n", color.RedString("✗"), ui.Path.Sprint(keyPath), info.Mode().Perm())
	default:
		fmt.Printf("  %s key file at %s (0600)\n", color.GreenString("✓"), ui.Path.Sprint(keyPath))
	}
}

func reportVaultKey(adapter vault.Adapter) {
	exists, err := adapter.DatabaseExists()
	switch {
	case err != nil:
		fmt.Printf("  %s cannot check vault database: %v\n", color.RedString("✗"), err)
	case !exists:
		fmt.Printf("  %s vault database does not exist\n", color.RedString("✗"))
	default:
		fmt.Printf("  %s vault-only custody via %s; presence of the key requires authentication to verify\n",
			color.GreenString("✓"), adapter.Name())
	}
}
