package cmd

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Aviksaikat/envault/internal/audit"
	"github.com/Aviksaikat/envault/internal/codec"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	logger "github.com/Aviksaikat/envault/internal/logging"
	"github.com/Aviksaikat/envault/internal/session"
	"github.com/Aviksaikat/envault/internal/ui"
)

var setCmd = &cobra.Command{
	Use:   "set <doc> <name> <value>",
	Short: "Upserts one variable in a sealed document",
	Long: `Decrypts the document, sets or overwrites one variable, and reseals it.
The name must be a valid dotenv identifier. The document on disk only
changes once the updated plaintext reseals cleanly.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting set command")
		spinner, cleanup := startSpinner("Updating sealed document...")
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

		store := &keystore.Store{
			KeyPath:    ctx.KeyPath,
			Vault:      ctx.Adapter,
			Entry:      ctx.Config.Vault.Entry,
			Attachment: session.KeyAttachmentName(ctx.Config),
		}
		secret, err := store.Resolve(cmd.Context(), mode)
		if err != nil {
			spinner.FinalMSG = keyFailureMessage(err)
			return err
		}
		defer secret.Close()

		docPath, name, value := args[0], args[1], args[2]
		Logger.Debugf("Setting %s to %v in %s", name, logger.Secret(value), docPath)
		if err := codec.SetField(docPath, secret, name, value); err != nil {
			if errors.Is(err, kerrors.ErrInvalidFieldName) {
				spinner.FinalMSG = color.RedString("✗") + " " + ui.Code.Sprint(name) + " is not a valid variable name\n" +
					color.CyanString("→") + " Names match " + ui.Code.Sprint("[A-Za-z_][A-Za-z0-9_]*")
				return err
			}
			spinner.FinalMSG = documentFailureMessage(docPath, err)
			return err
		}

		audit.Log(ctx.Root, audit.Entry{
			Operation: "set",
			Documents: []string{docPath},
			VarCount:  1,
		})

		// The value itself never appears in output or logs.
		spinner.FinalMSG = color.GreenString("✓") + " Set " + ui.Highlight.Sprint(name) + " in " + ui.Path.Sprint(docPath)
		return nil
	},
}
