// Package setup drives the first-time and restore-from-backup flows as an
// explicit state machine.
//
// Each transition is guarded by the step it names; a failed guard halts the
// flow and reports the last state reached together with the failing step.
// There is no silent fallback between the new and restore paths: restoring
// is an explicit request, and a missing vault database is an error, never
// an invitation to create a second one.
package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aviksaikat/envault/internal/audit"
	"github.com/Aviksaikat/envault/internal/codec"
	"github.com/Aviksaikat/envault/internal/config"
	"github.com/Aviksaikat/envault/internal/envfile"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/secure"
	"github.com/Aviksaikat/envault/internal/session"
	"github.com/Aviksaikat/envault/internal/vault"
)

// State names a position in the setup flow.
type State string

const (
	StateInit            State = "Init"
	StateToolsVerified   State = "ToolsVerified"
	StateKeyReady        State = "KeyReady"
	StateKeyRestored     State = "KeyRestored"
	StateVaultBacked     State = "VaultBacked"
	StateDocumentPresent State = "DocumentPresentCheck"
	StateDocumentReady   State = "DocumentReady"
	StateTested          State = "Tested"
	StateComplete        State = "Complete"
)

// StepError reports a halted flow: the last state successfully reached and
// the step whose guard failed.
type StepError struct {
	LastState State
	Step      string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("setup halted after %s at step %q: %v", e.LastState, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Options configures a setup run.
type Options struct {
	// ProjectName labels the project; defaults to the root directory name.
	ProjectName string

	// CustodyMode is "disk" or "vault".
	CustodyMode string

	// VaultBackend is "keepassxc" or "keyring".
	VaultBackend string

	// VaultDatabase is the database path for the keepassxc backend.
	VaultDatabase string

	// CreateVault explicitly authorizes creating the vault database when it
	// does not exist. Without it a missing database halts the flow.
	CreateVault bool

	// DocumentPath is the initial sealed document, relative to the root.
	// Defaults to ".env" + config.DocumentSuffix.
	DocumentPath string

	// SeedFrom optionally names an existing plaintext dotenv file whose
	// variables seed the initial document.
	SeedFrom string
}

// Result reports a completed setup run.
type Result struct {
	Config       *config.ProjectConfig
	Identifier   string
	DocumentPath string
	FinalState   State
	VarCount     int
}

// Orchestrator coordinates KeyStore, Vault Adapter, and the codec across a
// setup flow.
type Orchestrator struct {
	Root     string
	Settings *config.UserSettings
	Vault    vault.Adapter

	state State
}

// New builds an orchestrator rooted at root.
func New(root string, settings *config.UserSettings, adapter vault.Adapter) *Orchestrator {
	return &Orchestrator{
		Root:     root,
		Settings: settings,
		Vault:    adapter,
		state:    StateInit,
	}
}

// State reports the last state the flow reached.
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) fail(step string, err error) error {
	return &StepError{LastState: o.state, Step: step, Err: err}
}

func (o *Orchestrator) advance(s State) {
	o.state = s
}

// RunNew executes the first-time flow:
//
//	Init -> ToolsVerified -> KeyReady -> VaultBacked -> DocumentReady -> Tested -> Complete
func (o *Orchestrator) RunNew(ctx context.Context, opts Options) (*Result, error) {
	o.state = StateInit

	if _, err := os.Stat(config.ConfigPath(o.Root)); err == nil {
		return nil, o.fail("checking project state", kerrors.ErrProjectAlreadyInitialized)
	}

	if err := o.verifyTools(); err != nil {
		return nil, o.fail("verifying external tools", err)
	}
	o.advance(StateToolsVerified)

	mode, err := keystore.ParseCustodyMode(opts.CustodyMode)
	if err != nil {
		return nil, o.fail("parsing custody mode", err)
	}

	name := opts.ProjectName
	if name == "" {
		name = filepath.Base(o.Root)
	}
	cfg := config.NewProjectConfig(name, opts.CustodyMode, opts.VaultBackend, opts.VaultDatabase)

	// KeyReady: a fresh keypair exists, durably placed per the custody mode.
	kp, err := keystore.Generate()
	if err != nil {
		return nil, o.fail("generating keypair", err)
	}
	defer kp.Close()

	keyPath := o.Settings.KeyFilePath(cfg.Project.UUID)
	if mode == keystore.CustodyOnDisk {
		if err := keystore.SaveKeyFile(keyPath, kp); err != nil {
			return nil, o.fail("saving key file", err)
		}
	}
	cfg.SetActiveRecipient(kp.Identifier)
	o.advance(StateKeyReady)

	// VaultBacked: the key attachment is stored in the vault. For vault-only
	// custody this is the key's sole durable home; for disk custody it is
	// the backup.
	if err := o.backupKey(ctx, cfg, kp, opts.CreateVault); err != nil {
		return nil, o.fail("backing up key to vault", err)
	}
	o.advance(StateVaultBacked)

	// DocumentReady: the initial sealed document exists.
	docPath := opts.DocumentPath
	if docPath == "" {
		docPath = ".env" + config.DocumentSuffix
	}
	docPath = filepath.Join(o.Root, docPath)

	varCount, err := o.createDocument(docPath, kp.Identifier, opts.SeedFrom)
	if err != nil {
		return nil, o.fail("creating initial document", err)
	}
	o.advance(StateDocumentReady)

	// Tested: a full round trip through the configured custody mode.
	if err := o.testRoundTrip(ctx, cfg, keyPath, docPath); err != nil {
		return nil, o.fail("round-trip test", err)
	}
	o.advance(StateTested)

	if err := config.SaveProjectConfig(o.Root, cfg); err != nil {
		return nil, o.fail("writing project config", err)
	}
	if err := writeIgnoreGuard(o.Root); err != nil {
		return nil, o.fail("writing ignore guard", err)
	}
	o.advance(StateComplete)

	audit.Log(o.Root, audit.Entry{
		Operation:  "init",
		Identifier: kp.Identifier,
		Custody:    opts.CustodyMode,
		Backend:    o.Vault.Name(),
		Documents:  []string{docPath},
		VarCount:   varCount,
	})

	return &Result{
		Config:       cfg,
		Identifier:   kp.Identifier,
		DocumentPath: docPath,
		FinalState:   o.state,
		VarCount:     varCount,
	}, nil
}

// RunRestore executes the restore-from-backup flow against an existing
// project configuration:
//
//	Init -> ToolsVerified -> KeyRestored -> DocumentPresentCheck -> Tested -> Complete
func (o *Orchestrator) RunRestore(ctx context.Context, cfg *config.ProjectConfig, docPath string) (*Result, error) {
	o.state = StateInit

	if err := o.verifyTools(); err != nil {
		return nil, o.fail("verifying external tools", err)
	}
	o.advance(StateToolsVerified)

	mode, err := keystore.ParseCustodyMode(cfg.Custody.Mode)
	if err != nil {
		return nil, o.fail("parsing custody mode", err)
	}

	// KeyRestored: the key attachment is readable from the vault and, for
	// disk custody, re-materialized at the key path.
	payload, err := o.Vault.ExportAttachment(ctx, cfg.Vault.Entry, session.KeyAttachmentName(cfg))
	if err != nil {
		return nil, o.fail("restoring key from vault", err)
	}

	restored, err := keystore.DecodePrivatePEM(payload)
	if err != nil {
		return nil, o.fail("decoding restored key", err)
	}
	defer restored.Close()

	kp, err := keystore.FromSecret(restored)
	if err != nil {
		return nil, o.fail("deriving identifier from restored key", err)
	}

	keyPath := o.Settings.KeyFilePath(cfg.Project.UUID)
	if mode == keystore.CustodyOnDisk {
		if err := keystore.SaveKeyFile(keyPath, kp); err != nil {
			return nil, o.fail("saving restored key file", err)
		}
	}
	o.advance(StateKeyRestored)

	// DocumentPresentCheck: restoring expects the sealed document to already
	// exist (it travels with the repository, not the vault).
	if docPath == "" {
		docPath = ".env" + config.DocumentSuffix
	}
	docPath = filepath.Join(o.Root, docPath)
	if _, err := os.Stat(docPath); err != nil {
		if os.IsNotExist(err) {
			return nil, o.fail("checking document presence", fmt.Errorf("%w: %s", kerrors.ErrFileNotFound, docPath))
		}
		return nil, o.fail("checking document presence", err)
	}
	o.advance(StateDocumentPresent)

	// Tested: the restored key opens the document.
	if err := o.testRoundTrip(ctx, cfg, keyPath, docPath); err != nil {
		return nil, o.fail("round-trip test", err)
	}
	o.advance(StateTested)
	o.advance(StateComplete)

	audit.Log(o.Root, audit.Entry{
		Operation:  "restore",
		Identifier: kp.Identifier,
		Custody:    cfg.Custody.Mode,
		Backend:    o.Vault.Name(),
		Documents:  []string{docPath},
	})

	return &Result{
		Config:       cfg,
		Identifier:   kp.Identifier,
		DocumentPath: docPath,
		FinalState:   o.state,
	}, nil
}

// verifyTools checks that the configured vault backend's external
// collaborator is installed. In-process backends have nothing to verify.
func (o *Orchestrator) verifyTools() error {
	if kdb, ok := o.Vault.(*vault.KeePassXC); ok {
		return kdb.Available()
	}
	return nil
}

// backupKey stores the key attachment in the vault, creating the database
// only when explicitly authorized.
func (o *Orchestrator) backupKey(ctx context.Context, cfg *config.ProjectConfig, kp *keystore.Keypair, createVault bool) error {
	exists, err := o.Vault.DatabaseExists()
	if err != nil {
		return err
	}
	if !exists {
		if !createVault {
			return fmt.Errorf("%w: pass --create-vault to create it", kerrors.ErrVaultMissing)
		}
		if err := o.Vault.CreateDatabase(ctx); err != nil {
			return err
		}
	}

	payload := keystore.EncodePrivatePEM(kp)
	defer secure.Wipe(payload)

	return o.Vault.ImportAttachment(ctx, cfg.Vault.Entry, session.KeyAttachmentName(cfg), payload)
}

// createDocument seals the initial document, optionally seeded from an
// existing plaintext dotenv file.
func (o *Orchestrator) createDocument(docPath, recipient, seedFrom string) (int, error) {
	vars := map[string]string{}
	var order []string

	if seedFrom != "" {
		data, err := os.ReadFile(seedFrom)
		if err != nil {
			return 0, fmt.Errorf("reading seed file: %w", err)
		}
		vars, order, err = envfile.Parse(data)
		secure.Wipe(data)
		if err != nil {
			return 0, fmt.Errorf("parsing seed file: %w", err)
		}
	}

	doc, err := codec.EncryptMapping(vars, order, recipient)
	if err != nil {
		return 0, err
	}
	if err := codec.WriteFile(docPath, doc); err != nil {
		return 0, err
	}
	return len(vars), nil
}

// testRoundTrip loads a session through the real custody path and discards
// it, proving key resolution and decryption work end to end.
func (o *Orchestrator) testRoundTrip(ctx context.Context, cfg *config.ProjectConfig, keyPath, docPath string) error {
	loader := &session.Loader{
		Config:  cfg,
		KeyPath: keyPath,
		Vault:   o.Vault,
	}
	_, err := loader.Load(ctx, docPath)
	return err
}

// writeIgnoreGuard drops a .gitignore inside the marker directory for the
// audit log and lock files, and ensures the project root .gitignore keeps
// plaintext .env files out of version control. Existing root entries are
// preserved; missing guards are appended.
func writeIgnoreGuard(root string) error {
	markerPath := filepath.Join(root, config.MarkerDir, ".gitignore")
	// #nosec G306 -- the ignore guard holds no secret material.
	if err := os.WriteFile(markerPath, []byte("audit.jsonl\n*.lock\n"), 0644); err != nil {
		return err
	}

	rootPath := filepath.Join(root, ".gitignore")
	existing, err := os.ReadFile(rootPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	lines := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		lines[strings.TrimSpace(line)] = true
	}

	var missing []byte
	for _, guard := range []string{".env", ".env.*", "!*" + config.DocumentSuffix, "*" + config.DocumentSuffix + ".lock"} {
		if !lines[guard] {
			missing = append(missing, guard...)
			missing = append(missing, '\n')
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		missing = append([]byte{'\n'}, missing...)
	}

	// #nosec G306 -- the ignore guard holds no secret material.
	return os.WriteFile(rootPath, append(existing, missing...), 0644)
}
