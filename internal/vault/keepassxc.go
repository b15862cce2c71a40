package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/execx"
	"github.com/Aviksaikat/envault/internal/prompt"
	"github.com/Aviksaikat/envault/internal/secure"
)

// keepassBinary is the external CLI the adapter drives.
const keepassBinary = "keepassxc-cli"

// KeePassXC stores attachments in a KeePassXC database by shelling out to
// keepassxc-cli. The master passphrase is obtained through the injected
// prompter for each call and fed to the CLI over stdin; it is wiped as soon
// as the subprocess returns.
type KeePassXC struct {
	Database string
	Prompter prompt.PassphrasePrompter
	executor execx.CommandExecutor
}

// NewKeePassXC builds the adapter for the given database path.
func NewKeePassXC(database string, prompter prompt.PassphrasePrompter) *KeePassXC {
	return &KeePassXC{
		Database: database,
		Prompter: prompter,
		executor: execx.Default(),
	}
}

// NewKeePassXCWithExecutor injects a custom executor. Used by tests to mock
// the CLI.
func NewKeePassXCWithExecutor(database string, prompter prompt.PassphrasePrompter, executor execx.CommandExecutor) *KeePassXC {
	return &KeePassXC{
		Database: database,
		Prompter: prompter,
		executor: executor,
	}
}

func (k *KeePassXC) Name() string { return "keepassxc" }

// Available verifies the CLI is installed.
func (k *KeePassXC) Available() error {
	return execx.Require(keepassBinary)
}

func (k *KeePassXC) DatabaseExists() (bool, error) {
	info, err := os.Stat(k.Database)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking vault database: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("vault database path %s is a directory", k.Database)
	}
	return true, nil
}

// CreateDatabase runs db-create, supplying the chosen passphrase twice on
// stdin (keepassxc-cli asks for it and a confirmation).
func (k *KeePassXC) CreateDatabase(ctx context.Context) error {
	exists, err := k.DatabaseExists()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: database already exists at %s", kerrors.ErrVaultWrite, k.Database)
	}
	if err := os.MkdirAll(filepath.Dir(k.Database), 0700); err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrVaultWrite, err)
	}

	pass, err := k.Prompter.Prompt(ctx, "Choose a master passphrase for the new vault")
	if err != nil {
		return err
	}
	defer pass.Close()

	stdin := passphraseLines(pass, 2)
	defer secure.Wipe(stdin)

	_, stderr, err := k.executor.ExecuteInput(ctx, stdin, keepassBinary, "db-create", "--set-password", "--quiet", k.Database)
	if err != nil {
		return fmt.Errorf("%w: %s", kerrors.ErrVaultWrite, firstLine(stderr))
	}
	return nil
}

// ExportAttachment round-trips the attachment through a private scratch
// directory because keepassxc-cli only exports to a file. The directory is
// owner-only and removed before the call returns, on success and failure
// alike.
func (k *KeePassXC) ExportAttachment(ctx context.Context, entry, attachment string) ([]byte, error) {
	if err := k.requireDatabase(); err != nil {
		return nil, err
	}

	pass, err := k.Prompter.Prompt(ctx, "Vault master passphrase")
	if err != nil {
		return nil, err
	}
	defer pass.Close()

	scratch, err := os.MkdirTemp("", "envault-export-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)
	if err := os.Chmod(scratch, 0700); err != nil {
		return nil, fmt.Errorf("restricting scratch directory: %w", err)
	}

	exportPath := filepath.Join(scratch, "attachment")
	stdin := passphraseLines(pass, 1)
	defer secure.Wipe(stdin)

	_, stderr, err := k.executor.ExecuteInput(ctx, stdin, keepassBinary,
		"attachment-export", "--quiet", k.Database, entry, attachment, exportPath)
	if err != nil {
		return nil, classifyKeepassError(stderr, err)
	}

	payload, err := os.ReadFile(exportPath)
	if err != nil {
		return nil, fmt.Errorf("reading exported attachment: %w", err)
	}
	// Shred the on-disk copy immediately; RemoveAll above is the backstop.
	if err := os.Remove(exportPath); err != nil && !os.IsNotExist(err) {
		secure.Wipe(payload)
		return nil, fmt.Errorf("removing exported attachment: %w", err)
	}

	return payload, nil
}

// ImportAttachment stages the payload in a private scratch file, ensures the
// target entry exists, then overwrites the attachment under it.
func (k *KeePassXC) ImportAttachment(ctx context.Context, entry, attachment string, payload []byte) error {
	if err := k.requireDatabase(); err != nil {
		return err
	}

	pass, err := k.Prompter.Prompt(ctx, "Vault master passphrase")
	if err != nil {
		return err
	}
	defer pass.Close()

	scratch, err := os.MkdirTemp("", "envault-import-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)
	if err := os.Chmod(scratch, 0700); err != nil {
		return fmt.Errorf("restricting scratch directory: %w", err)
	}

	importPath := filepath.Join(scratch, "attachment")
	if err := os.WriteFile(importPath, payload, 0600); err != nil {
		return fmt.Errorf("%w: staging attachment: %v", kerrors.ErrVaultWrite, err)
	}
	defer os.Remove(importPath)

	if err := k.ensureEntry(ctx, pass, entry); err != nil {
		return err
	}

	stdin := passphraseLines(pass, 1)
	defer secure.Wipe(stdin)

	_, stderr, err := k.executor.ExecuteInput(ctx, stdin, keepassBinary,
		"attachment-import", "--force", "--quiet", k.Database, entry, attachment, importPath)
	if err != nil {
		if classified := classifyKeepassError(stderr, err); classified != nil {
			return classified
		}
		return fmt.Errorf("%w: %s", kerrors.ErrVaultWrite, firstLine(stderr))
	}
	return nil
}

// ensureEntry creates the entry if the database does not have it yet.
func (k *KeePassXC) ensureEntry(ctx context.Context, pass *secure.Secret, entry string) error {
	stdin := passphraseLines(pass, 1)
	defer secure.Wipe(stdin)

	_, stderr, err := k.executor.ExecuteInput(ctx, stdin, keepassBinary,
		"show", "--quiet", k.Database, entry)
	if err == nil {
		return nil
	}
	classified := classifyKeepassError(stderr, err)
	if !errors.Is(classified, kerrors.ErrEntryNotFound) {
		return classified
	}

	addStdin := passphraseLines(pass, 1)
	defer secure.Wipe(addStdin)

	_, stderr, err = k.executor.ExecuteInput(ctx, addStdin, keepassBinary,
		"add", "--quiet", k.Database, entry)
	if err != nil {
		return fmt.Errorf("%w: creating entry: %s", kerrors.ErrVaultWrite, firstLine(stderr))
	}
	return nil
}

func (k *KeePassXC) requireDatabase() error {
	exists, err := k.DatabaseExists()
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", kerrors.ErrVaultMissing, k.Database)
	}
	return nil
}

// classifyKeepassError maps keepassxc-cli stderr output onto the vault
// error taxonomy. The authentication message deliberately carries no entry
// name so a wrong passphrase reveals nothing about what the vault holds.
func classifyKeepassError(stderr []byte, err error) error {
	msg := strings.ToLower(string(stderr))
	switch {
	case strings.Contains(msg, "invalid credentials"),
		strings.Contains(msg, "wrong key"):
		return kerrors.ErrVaultAuth
	case strings.Contains(msg, "could not find entry"),
		strings.Contains(msg, "could not find attachment"),
		strings.Contains(msg, "no such attachment"):
		return kerrors.ErrEntryNotFound
	default:
		return fmt.Errorf("%s: %w (%s)", keepassBinary, err, firstLine(stderr))
	}
}

// passphraseLines renders the passphrase as n newline-terminated stdin
// lines. The caller wipes the returned buffer.
func passphraseLines(pass *secure.Secret, n int) []byte {
	raw := pass.Bytes()
	buf := make([]byte, 0, (len(raw)+1)*n)
	for i := 0; i < n; i++ {
		buf = append(buf, raw...)
		buf = append(buf, '\n')
	}
	return buf
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "no output"
	}
	return s
}
