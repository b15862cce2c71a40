package cmd

import (
	"errors"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Aviksaikat/envault/internal/audit"
	"github.com/Aviksaikat/envault/internal/codec"
	"github.com/Aviksaikat/envault/internal/config"
	"github.com/Aviksaikat/envault/internal/envfile"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/secure"
	"github.com/Aviksaikat/envault/internal/ui"
)

var encryptRemovePlaintext bool

func init() {
	encryptCmd.Flags().BoolVar(&encryptRemovePlaintext, "rm", false, "remove the plaintext file after sealing")
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt <plainfile>",
	Short: "Seals a plaintext dotenv file into a committed-safe document",
	Long: `Parses a plaintext dotenv file and seals it to the project's active
identifier. Sealing needs only the public identifier, so any checkout can
encrypt; only the key holder can decrypt.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting encrypt command")
		spinner, cleanup := startSpinner("Sealing environment file...")
		defer cleanup()

		ctx, err := loadProjectContext()
		if err != nil {
			if errors.Is(err, kerrors.ErrProjectNotInitialized) {
				spinner.FinalMSG = notInitializedMessage()
				return err
			}
			return Logger.ErrorfAndReturn("failed to load project: %v", err)
		}

		recipient, err := ctx.Config.ActiveRecipient()
		if err != nil {
			return Logger.ErrorfAndReturn("no active identifier in project config: %v", err)
		}

		plainPath := args[0]
		data, err := os.ReadFile(plainPath)
		if err != nil {
			if os.IsNotExist(err) {
				spinner.FinalMSG = color.RedString("✗") + " No file found at " + ui.Path.Sprint(plainPath)
				return kerrors.ErrFileNotFound
			}
			return Logger.ErrorfAndReturn("failed to read %s: %v", plainPath, err)
		}

		vars, order, err := envfile.Parse(data)
		secure.Wipe(data)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to parse %s: %v", plainPath, err)
		}

		doc, err := codec.EncryptMapping(vars, order, recipient)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to seal %s: %v", plainPath, err)
		}

		docPath := plainPath + config.DocumentSuffix
		if err := codec.WriteFile(docPath, doc); err != nil {
			return Logger.ErrorfAndReturn("failed to write %s: %v", docPath, err)
		}

		removed := false
		if encryptRemovePlaintext {
			if err := os.Remove(plainPath); err != nil {
				Logger.WarnfAlways("Sealed document written but could not remove plaintext %s: %v", plainPath, err)
			} else {
				removed = true
			}
		}

		audit.Log(ctx.Root, audit.Entry{
			Operation:  "encrypt",
			Documents:  []string{docPath},
			Identifier: recipient,
			VarCount:   len(vars),
		})

		finalMessage := color.GreenString("✓") + " Sealed " + ui.Path.Sprint(plainPath) + " into " + ui.Path.Sprint(docPath)
		if removed {
			finalMessage += "\n" + color.CyanString("→") + " Plaintext file removed"
		} else {
			finalMessage += "\n" + color.YellowString("!") + " Plaintext file kept; do not commit it"
		}
		spinner.FinalMSG = finalMessage
		return nil
	},
}
