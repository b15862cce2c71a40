package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Aviksaikat/envault/internal/audit"
	"github.com/Aviksaikat/envault/internal/codec"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/secure"
	"github.com/Aviksaikat/envault/internal/session"
	"github.com/Aviksaikat/envault/internal/ui"
)

var decryptOutput string

func init() {
	decryptCmd.Flags().StringVarP(&decryptOutput, "output", "o", "", "write plaintext to this file instead of stdout")
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <doc>",
	Short: "Opens a sealed document",
	Long: `Resolves the key through the configured custody mode and decrypts the
document. Plaintext goes to stdout by default; -o writes an owner-only
file instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting decrypt command")
		spinner, cleanup := startSpinner("Opening sealed document...")
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

		docPath := args[0]
		doc, err := codec.ReadFile(docPath)
		if err != nil {
			spinner.FinalMSG = documentFailureMessage(docPath, err)
			return err
		}

		plaintext, err := codec.Decrypt(doc, secret)
		if err != nil {
			spinner.FinalMSG = documentFailureMessage(docPath, err)
			return err
		}
		defer secure.Wipe(plaintext)

		audit.Log(ctx.Root, audit.Entry{
			Operation: "decrypt",
			Documents: []string{docPath},
		})

		if decryptOutput == "" {
			// Stop the spinner before plaintext hits stdout so the two never
			// interleave.
			spinner.Stop()
			fmt.Print(string(plaintext))
			return nil
		}

		if err := os.WriteFile(decryptOutput, plaintext, 0600); err != nil {
			return Logger.ErrorfAndReturn("failed to write %s: %v", decryptOutput, err)
		}
		spinner.FinalMSG = color.GreenString("✓") + " Decrypted " + ui.Path.Sprint(docPath) + " to " + ui.Path.Sprint(decryptOutput) + "\n" +
			color.YellowString("!") + " The output file is plaintext; do not commit it"
		return nil
	},
}

// keyFailureMessage renders key resolution failures per custody mode.
func keyFailureMessage(err error) string {
	switch {
	case errors.Is(err, kerrors.ErrKeyNotFound):
		return color.RedString("✗") + " No private key found for this project\n" +
			color.CyanString("→") + " Run " + ui.Code.Sprint("envault restore-key") + " to pull it from the vault"
	case errors.Is(err, kerrors.ErrKeyPermissions):
		return color.RedString("✗") + " The key file permissions are too permissive\n" +
			color.CyanString("→") + " Run " + ui.Code.Sprint("chmod 600 <keyfile>") + " and try again\n" +
			color.RedString("Error: ") + err.Error()
	case errors.Is(err, kerrors.ErrVaultAuth):
		return color.RedString("✗") + " Vault authentication failed\n" +
			color.CyanString("→") + " Check your master passphrase and try again"
	case errors.Is(err, kerrors.ErrVaultMissing):
		return color.RedString("✗") + " The vault database does not exist\n" +
			color.CyanString("→") + " Check the configured database path"
	default:
		return color.RedString("✗") + " Failed to resolve the private key\n" +
			color.RedString("Error: ") + err.Error()
	}
}

// documentFailureMessage renders document read and decryption failures,
// keeping wrong-key and integrity failures visibly distinct.
func documentFailureMessage(docPath string, err error) string {
	switch {
	case errors.Is(err, kerrors.ErrFileNotFound):
		return color.RedString("✗") + " No document found at " + ui.Path.Sprint(docPath)
	case errors.Is(err, kerrors.ErrWrongKey):
		return color.RedString("✗") + " Your key does not match this document's recipient\n" +
			color.CyanString("→") + " The document was sealed for a different identifier\n" +
			color.RedString("Error: ") + err.Error()
	case errors.Is(err, kerrors.ErrIntegrity):
		return color.RedString("✗") + " The document failed integrity verification\n" +
			color.CyanString("→") + " It may be corrupted or tampered with; restore it from version control\n" +
			color.RedString("Error: ") + err.Error()
	case errors.Is(err, kerrors.ErrInvalidDocument):
		return color.RedString("✗") + " " + ui.Path.Sprint(docPath) + " is not a sealed envault document\n" +
			color.RedString("Error: ") + err.Error()
	default:
		return color.RedString("✗") + " Failed to open " + ui.Path.Sprint(docPath) + "\n" +
			color.RedString("Error: ") + err.Error()
	}
}
