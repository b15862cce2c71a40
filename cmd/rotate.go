package cmd

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/setup"
	"github.com/Aviksaikat/envault/internal/ui"
)

var rotateAdd string

func init() {
	rotateCmd.Flags().StringVar(&rotateAdd, "add", "", "register an additional identifier without re-encrypting")
}

var rotateCmd = &cobra.Command{
	Use:   "rotate [doc...]",
	Short: "Rotates the project key and re-encrypts every document",
	Long: `Generates a fresh keypair, re-encrypts the named documents (all of them
by default) from the old key to the new one, and promotes the new key only
after every document provably opens with it. A failure partway leaves the
old key fully authoritative.

With --add, no rotation happens: the identifier is registered in the
project config as an inactive recipient for a future rotation.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting rotate command")
		spinner, cleanup := startSpinner("Rotating project key...")
		defer cleanup()

		ctx, err := loadProjectContext()
		if err != nil {
			if errors.Is(err, kerrors.ErrProjectNotInitialized) {
				spinner.FinalMSG = notInitializedMessage()
				return err
			}
			return Logger.ErrorfAndReturn("failed to load project: %v", err)
		}

		orch := setup.New(ctx.Root, ctx.Settings, ctx.Adapter)

		if rotateAdd != "" {
			if err := orch.AddRecipient(ctx.Config, rotateAdd); err != nil {
				spinner.FinalMSG = color.RedString("✗") + " Could not register " + ui.Highlight.Sprint(rotateAdd) + "\n" +
					color.RedString("Error: ") + err.Error()
				return err
			}
			spinner.FinalMSG = color.GreenString("✓") + " Registered " + ui.Highlight.Sprint(rotateAdd) + "\n" +
				color.CyanString("→") + " It stays inactive until a key holder rotates documents to it"
			return nil
		}

		result, err := orch.Rotate(cmd.Context(), ctx.Config, setup.RotateOptions{Documents: args})
		if err != nil {
			if errors.Is(err, kerrors.ErrRotationIncomplete) {
				spinner.FinalMSG = color.RedString("✗") + " Rotation did not complete\n" +
					color.GreenString("✓") + " Your old key is retained and still opens every document\n" +
					color.RedString("Error: ") + err.Error()
				return err
			}
			spinner.FinalMSG = keyFailureMessage(err)
			return err
		}

		spinner.FinalMSG = color.GreenString("✓") + " Rotated " + fmt.Sprintf("%d", len(result.Documents)) + " document(s)\n" +
			color.CyanString("→") + " New identifier: " + ui.Highlight.Sprint(result.NewIdentifier) + "\n" +
			color.CyanString("→") + " Old identifier " + ui.Muted.Sprint(result.OldIdentifier) + " no longer opens anything"
		return nil
	},
}
