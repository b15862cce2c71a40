package cmd

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Aviksaikat/envault/internal/audit"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/session"
	"github.com/Aviksaikat/envault/internal/ui"
)

var restoreKeyCmd = &cobra.Command{
	Use:   "restore-key",
	Short: "Pulls the private key back from the vault",
	Long: `Fetches the project's key attachment from the configured vault and
writes it to the local key file. Use this on a fresh machine, or after
losing the key file, when the project itself is already checked out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting restore-key command")
		spinner, cleanup := startSpinner("Restoring key from vault...")
		defer cleanup()

		ctx, err := loadProjectContext()
		if err != nil {
			if errors.Is(err, kerrors.ErrProjectNotInitialized) {
				spinner.FinalMSG = notInitializedMessage()
				return err
			}
			return Logger.ErrorfAndReturn("failed to load project: %v", err)
		}

		payload, err := ctx.Adapter.ExportAttachment(cmd.Context(), ctx.Config.Vault.Entry, session.KeyAttachmentName(ctx.Config))
		if err != nil {
			if errors.Is(err, kerrors.ErrEntryNotFound) {
				spinner.FinalMSG = color.RedString("✗") + " The vault holds no key for this project\n" +
					color.CyanString("→") + " Run " + ui.Code.Sprint("envault backup-key") + " on a machine that still has the key"
				return err
			}
			spinner.FinalMSG = vaultFailureMessage("restore the key", err)
			return err
		}

		secret, err := keystore.DecodePrivatePEM(payload)
		if err != nil {
			return Logger.ErrorfAndReturn("vault returned malformed key material: %v", err)
		}
		defer secret.Close()

		kp, err := keystore.FromSecret(secret)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to parse key material: %v", err)
		}

		if err := keystore.SaveKeyFile(ctx.KeyPath, kp); err != nil {
			return Logger.ErrorfAndReturn("failed to save key file: %v", err)
		}

		audit.Log(ctx.Root, audit.Entry{
			Operation:  "restore-key",
			Identifier: kp.Identifier,
			Backend:    ctx.Adapter.Name(),
		})

		spinner.FinalMSG = color.GreenString("✓") + " Key restored\n" +
			color.CyanString("→") + " Identifier: " + ui.Highlight.Sprint(kp.Identifier) + "\n" +
			color.CyanString("→") + " Saved to " + ui.Path.Sprint(ctx.KeyPath)
		return nil
	},
}
