package cmd

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Aviksaikat/envault/internal/audit"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/secure"
	"github.com/Aviksaikat/envault/internal/session"
	"github.com/Aviksaikat/envault/internal/ui"
)

var backupCreateVault bool

func init() {
	backupKeyCmd.Flags().BoolVar(&backupCreateVault, "create-vault", false, "create the vault database if it does not exist")
}

var backupKeyCmd = &cobra.Command{
	Use:   "backup-key",
	Short: "Pushes the private key to the vault as a backup",
	Long: `Stores the project's private key as an attachment in the configured
vault. A missing vault database is an error unless --create-vault
explicitly authorizes creating one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting backup-key command")
		spinner, cleanup := startSpinner("Backing up key to vault...")
		defer cleanup()

		ctx, err := loadProjectContext()
		if err != nil {
			if errors.Is(err, kerrors.ErrProjectNotInitialized) {
				spinner.FinalMSG = notInitializedMessage()
				return err
			}
			return Logger.ErrorfAndReturn("failed to load project: %v", err)
		}

		secret, err := keystore.LoadKeyFile(ctx.KeyPath)
		if err != nil {
			if errors.Is(err, kerrors.ErrKeyNotFound) {
				spinner.FinalMSG = color.RedString("✗") + " No key file found at " + ui.Path.Sprint(ctx.KeyPath) + "\n" +
					color.CyanString("→") + " Run " + ui.Code.Sprint("envault generate-key") + " first"
				return err
			}
			return Logger.ErrorfAndReturn("failed to load key file: %v", err)
		}
		defer secret.Close()

		kp, err := keystore.FromSecret(secret)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to parse key material: %v", err)
		}

		exists, err := ctx.Adapter.DatabaseExists()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to check vault database: %v", err)
		}
		if !exists {
			if !backupCreateVault {
				spinner.FinalMSG = vaultFailureMessage("back up the key", kerrors.ErrVaultMissing)
				return kerrors.ErrVaultMissing
			}
			if err := ctx.Adapter.CreateDatabase(cmd.Context()); err != nil {
				spinner.FinalMSG = vaultFailureMessage("create the vault database", err)
				return err
			}
		}

		payload := keystore.EncodePrivatePEM(kp)
		defer secure.Wipe(payload)
		if err := ctx.Adapter.ImportAttachment(cmd.Context(), ctx.Config.Vault.Entry, session.KeyAttachmentName(ctx.Config), payload); err != nil {
			spinner.FinalMSG = vaultFailureMessage("back up the key", err)
			return err
		}

		audit.Log(ctx.Root, audit.Entry{
			Operation:  "backup-key",
			Identifier: kp.Identifier,
			Backend:    ctx.Adapter.Name(),
		})

		spinner.FinalMSG = color.GreenString("✓") + " Key backed up to " + ctx.Adapter.Name() + "\n" +
			color.CyanString("→") + " Entry: " + ui.Highlight.Sprint(ctx.Config.Vault.Entry)
		return nil
	},
}
