package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Aviksaikat/envault/internal/audit"
	"github.com/Aviksaikat/envault/internal/codec"
	"github.com/Aviksaikat/envault/internal/envfile"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/execx"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/secure"
	"github.com/Aviksaikat/envault/internal/session"
)

var editCmd = &cobra.Command{
	Use:   "edit <doc>",
	Short: "Edits a sealed document through $EDITOR",
	Long: `Decrypts the document into an owner-only scratch file, opens $EDITOR on
it, and reseals the result. The scratch directory is removed whether the
edit succeeds or not, and the document on disk only changes once the
edited plaintext parses and reseals cleanly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting edit command")

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		if err := execx.Require(editor); err != nil {
			printError("Editor not found; set $EDITOR", err)
			return err
		}

		ctx, err := loadProjectContext()
		if err != nil {
			if errors.Is(err, kerrors.ErrProjectNotInitialized) {
				printError("Envault has not been initialized", err)
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
			printError("Failed to resolve the private key", err)
			return err
		}
		defer secret.Close()

		docPath := args[0]
		var edited bool
		err = codec.EditInPlace(docPath, secret, func(vars map[string]string, order []string) (map[string]string, []string, error) {
			// Scratch space for the plaintext, owner-only, always removed.
			scratch, err := os.MkdirTemp("", "envault-edit-*")
			if err != nil {
				return nil, nil, err
			}
			defer os.RemoveAll(scratch)
			if err := os.Chmod(scratch, 0700); err != nil {
				return nil, nil, err
			}

			plainPath := filepath.Join(scratch, filepath.Base(docPath)+".env")
			plaintext := envfile.Marshal(vars, order)
			writeErr := os.WriteFile(plainPath, plaintext, 0600)
			secure.Wipe(plaintext)
			if writeErr != nil {
				return nil, nil, writeErr
			}

			if err := execx.Interactive(cmd.Context(), nil, editor, plainPath); err != nil {
				return nil, nil, err
			}

			editedData, err := os.ReadFile(plainPath)
			if err != nil {
				return nil, nil, err
			}
			newVars, newOrder, parseErr := envfile.Parse(editedData)
			secure.Wipe(editedData)
			if parseErr != nil {
				return nil, nil, parseErr
			}

			edited = true
			return newVars, newOrder, nil
		})
		if err != nil {
			printError("Failed to edit "+docPath, err)
			return err
		}

		audit.Log(ctx.Root, audit.Entry{
			Operation: "edit",
			Documents: []string{docPath},
		})

		if edited {
			Logger.Infof("Document resealed after edit")
			color.Green("✓ %s resealed", docPath)
			color.Cyan("→ Changes are encrypted; the plaintext scratch file is gone")
		}
		return nil
	},
}
