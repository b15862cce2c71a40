package cmd

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Aviksaikat/envault/internal/audit"
	"github.com/Aviksaikat/envault/internal/config"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/secure"
	"github.com/Aviksaikat/envault/internal/session"
	"github.com/Aviksaikat/envault/internal/ui"
)

var generateKeyCmd = &cobra.Command{
	Use:   "generate-key",
	Short: "Creates a fresh keypair for this project",
	Long: `Generates a new X25519 keypair and stores it per the project's custody
mode. Refuses to overwrite an existing key: replacing a key that still
guards documents is what rotate is for.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting generate-key command")
		spinner, cleanup := startSpinner("Generating keypair...")
		defer cleanup()

		ctx, err := loadProjectContext()
		if err != nil {
			if errors.Is(err, kerrors.ErrProjectNotInitialized) {
				spinner.FinalMSG = notInitializedMessage()
				return err
			}
			return Logger.ErrorfAndReturn("failed to load project: %v", err)
		}

		mode, err := keystore.ParseCustodyMode(ctx.Config.Custody.Mode)
		if err != nil {
			return Logger.ErrorfAndReturn("invalid custody mode: %v", err)
		}

		// An existing key means the user wants rotate, not a silent replacement.
		store := &keystore.Store{
			KeyPath:    ctx.KeyPath,
			Vault:      ctx.Adapter,
			Entry:      ctx.Config.Vault.Entry,
			Attachment: session.KeyAttachmentName(ctx.Config),
		}
		if existing, err := store.Resolve(cmd.Context(), mode); err == nil {
			existing.Close()
			spinner.FinalMSG = color.RedString("✗") + " A key already exists for this project\n" +
				color.CyanString("→") + " Run " + ui.Code.Sprint("envault rotate") + " to replace it safely"
			return kerrors.ErrProjectAlreadyInitialized
		}

		kp, err := keystore.Generate()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to generate keypair: %v", err)
		}
		defer kp.Close()

		switch mode {
		case keystore.CustodyOnDisk:
			if err := keystore.SaveKeyFile(ctx.KeyPath, kp); err != nil {
				return Logger.ErrorfAndReturn("failed to save key file: %v", err)
			}
		case keystore.CustodyVaultOnly:
			payload := keystore.EncodePrivatePEM(kp)
			defer secure.Wipe(payload)
			if err := ctx.Adapter.ImportAttachment(cmd.Context(), ctx.Config.Vault.Entry, session.KeyAttachmentName(ctx.Config), payload); err != nil {
				spinner.FinalMSG = vaultFailureMessage("store the new key", err)
				return err
			}
		}

		ctx.Config.SetActiveRecipient(kp.Identifier)
		if err := config.SaveProjectConfig(ctx.Root, ctx.Config); err != nil {
			return Logger.ErrorfAndReturn("failed to update project config: %v", err)
		}

		audit.Log(ctx.Root, audit.Entry{
			Operation:  "generate-key",
			Identifier: kp.Identifier,
			Custody:    ctx.Config.Custody.Mode,
		})

		location := ui.Path.Sprint(ctx.KeyPath)
		if mode == keystore.CustodyVaultOnly {
			location = "the vault (" + ctx.Adapter.Name() + ")"
		}
		spinner.FinalMSG = color.GreenString("✓") + " Keypair generated\n" +
			color.CyanString("→") + " Identifier: " + ui.Highlight.Sprint(kp.Identifier) + "\n" +
			color.CyanString("→") + " Private key stored in " + location
		return nil
	},
}

// vaultFailureMessage renders a vault error without leaking whether the
// entry exists on authentication failures.
func vaultFailureMessage(action string, err error) string {
	if errors.Is(err, kerrors.ErrVaultAuth) {
		return color.RedString("✗") + " Vault authentication failed\n" +
			color.CyanString("→") + " Check your master passphrase and try again"
	}
	if errors.Is(err, kerrors.ErrVaultMissing) {
		return color.RedString("✗") + " The vault database does not exist\n" +
			color.CyanString("→") + " Run " + ui.Code.Sprint("envault backup-key --create-vault") + " to create it"
	}
	return color.RedString("✗") + " Failed to " + action + "\n" +
		color.RedString("Error: ") + err.Error()
}
