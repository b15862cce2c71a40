package setup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aviksaikat/envault/internal/codec"
	"github.com/Aviksaikat/envault/internal/config"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/session"
	"github.com/Aviksaikat/envault/internal/vault"
)

func testSettings(t *testing.T) *config.UserSettings {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvKeyFile, "")
	return &config.UserSettings{
		KeysPath:    filepath.Join(dir, "keys"),
		ConfigsPath: filepath.Join(dir, "configs"),
		DataPath:    filepath.Join(dir, "data"),
	}
}

func newOrchestrator(t *testing.T) (*Orchestrator, *vault.Memory) {
	t.Helper()
	mem := vault.NewMemory()
	return New(t.TempDir(), testSettings(t), mem), mem
}

func TestRunNewDiskCustody(t *testing.T) {
	orch, mem := newOrchestrator(t)

	result, err := orch.RunNew(context.Background(), Options{
		ProjectName: "demo",
		CustodyMode: "disk",
		CreateVault: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.FinalState)
	assert.Equal(t, StateComplete, orch.State())
	assert.NotEmpty(t, result.Identifier)

	// Config written with the identifier active.
	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)
	active, err := cfg.ActiveRecipient()
	require.NoError(t, err)
	assert.Equal(t, result.Identifier, active)

	// Key durable on disk and backed up in the vault.
	keyPath := orch.Settings.KeyFilePath(cfg.Project.UUID)
	_, err = os.Stat(keyPath)
	assert.NoError(t, err)
	_, err = mem.ExportAttachment(context.Background(), cfg.Vault.Entry, session.KeyAttachmentName(cfg))
	assert.NoError(t, err)

	// The initial document loads through the real custody path.
	loader := &session.Loader{Config: cfg, KeyPath: keyPath, Vault: mem}
	sess, err := loader.Load(context.Background(), result.DocumentPath)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Len())
}

func TestRunNewWritesIgnoreGuards(t *testing.T) {
	orch, _ := newOrchestrator(t)

	// Pre-existing root .gitignore entries must survive.
	require.NoError(t, os.WriteFile(filepath.Join(orch.Root, ".gitignore"), []byte("dist/\n.env\n"), 0644))

	_, err := orch.RunNew(context.Background(), Options{CustodyMode: "disk", CreateVault: true})
	require.NoError(t, err)

	rootIgnore, err := os.ReadFile(filepath.Join(orch.Root, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(rootIgnore), "dist/")
	assert.Contains(t, string(rootIgnore), ".env.*")
	assert.Contains(t, string(rootIgnore), "*"+config.DocumentSuffix+".lock")
	assert.Equal(t, 1, strings.Count(string(rootIgnore), ".env\n"), "existing guards are not duplicated")

	markerIgnore, err := os.ReadFile(filepath.Join(orch.Root, config.MarkerDir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(markerIgnore), "audit.jsonl")
}

func TestRunNewVaultCustodyLeavesNoKeyFile(t *testing.T) {
	orch, _ := newOrchestrator(t)

	result, err := orch.RunNew(context.Background(), Options{
		CustodyMode: "vault",
		CreateVault: true,
	})
	require.NoError(t, err)

	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)

	_, statErr := os.Stat(orch.Settings.KeyFilePath(cfg.Project.UUID))
	assert.True(t, os.IsNotExist(statErr), "vault-only custody must not write a key file")

	// And the document still loads, via the vault alone.
	loader := &session.Loader{Config: cfg, Vault: orch.Vault}
	_, err = loader.Load(context.Background(), result.DocumentPath)
	assert.NoError(t, err)
}

func TestRunNewSeedsFromPlaintext(t *testing.T) {
	orch, _ := newOrchestrator(t)

	seed := filepath.Join(orch.Root, ".env")
	require.NoError(t, os.WriteFile(seed, []byte("A=1\nB=2\n"), 0600))

	result, err := orch.RunNew(context.Background(), Options{
		CustodyMode: "disk",
		CreateVault: true,
		SeedFrom:    seed,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.VarCount)

	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)
	loader := &session.Loader{Config: cfg, KeyPath: orch.Settings.KeyFilePath(cfg.Project.UUID), Vault: orch.Vault}
	sess, err := loader.Load(context.Background(), result.DocumentPath)
	require.NoError(t, err)
	v, _ := sess.Get("A")
	assert.Equal(t, "1", v)
}

func TestRunNewHaltsWithoutVaultConsent(t *testing.T) {
	orch, _ := newOrchestrator(t)

	_, err := orch.RunNew(context.Background(), Options{CustodyMode: "disk"})
	require.Error(t, err)

	var step *StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, StateKeyReady, step.LastState)
	assert.Equal(t, "backing up key to vault", step.Step)
	assert.ErrorIs(t, err, kerrors.ErrVaultMissing, "a missing vault is never license to create one silently")

	// The halt left no project config behind.
	_, err = config.LoadProjectConfig(orch.Root)
	assert.ErrorIs(t, err, kerrors.ErrProjectNotInitialized)
}

func TestRunNewRefusesSecondInit(t *testing.T) {
	orch, _ := newOrchestrator(t)

	_, err := orch.RunNew(context.Background(), Options{CustodyMode: "disk", CreateVault: true})
	require.NoError(t, err)

	_, err = orch.RunNew(context.Background(), Options{CustodyMode: "disk", CreateVault: true})
	assert.ErrorIs(t, err, kerrors.ErrProjectAlreadyInitialized)
}

func TestRunRestoreDiskCustody(t *testing.T) {
	orch, mem := newOrchestrator(t)

	result, err := orch.RunNew(context.Background(), Options{CustodyMode: "disk", CreateVault: true})
	require.NoError(t, err)

	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)

	// Simulate a fresh machine: key file gone, vault and checkout intact.
	keyPath := orch.Settings.KeyFilePath(cfg.Project.UUID)
	require.NoError(t, os.Remove(keyPath))
	require.NoError(t, os.Remove(keyPath+".pub"))

	restored, err := orch.RunRestore(context.Background(), cfg, "")
	require.NoError(t, err)
	assert.Equal(t, StateComplete, restored.FinalState)
	assert.Equal(t, result.Identifier, restored.Identifier)

	// The key file is back and opens the document.
	loader := &session.Loader{Config: cfg, KeyPath: keyPath, Vault: mem}
	_, err = loader.Load(context.Background(), result.DocumentPath)
	assert.NoError(t, err)
}

func TestRunRestoreHaltsWithoutDocument(t *testing.T) {
	orch, _ := newOrchestrator(t)

	result, err := orch.RunNew(context.Background(), Options{CustodyMode: "disk", CreateVault: true})
	require.NoError(t, err)

	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)
	require.NoError(t, os.Remove(result.DocumentPath))

	_, err = orch.RunRestore(context.Background(), cfg, "")
	require.Error(t, err)

	var step *StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, StateKeyRestored, step.LastState)
	assert.ErrorIs(t, err, kerrors.ErrFileNotFound)
}

func TestRotateReencryptsEverything(t *testing.T) {
	orch, _ := newOrchestrator(t)

	result, err := orch.RunNew(context.Background(), Options{CustodyMode: "disk", CreateVault: true})
	require.NoError(t, err)
	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)

	// A second document, also sealed to the active identifier.
	secondPath := filepath.Join(orch.Root, "staging.envault")
	doc, err := codec.EncryptMapping(map[string]string{"X": "1"}, []string{"X"}, result.Identifier)
	require.NoError(t, err)
	require.NoError(t, codec.WriteFile(secondPath, doc))

	rotated, err := orch.Rotate(context.Background(), cfg, RotateOptions{})
	require.NoError(t, err)
	assert.Equal(t, result.Identifier, rotated.OldIdentifier)
	assert.NotEqual(t, rotated.OldIdentifier, rotated.NewIdentifier)
	assert.Len(t, rotated.Documents, 2)

	// Config now names the new identifier.
	cfg, err = config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)
	active, err := cfg.ActiveRecipient()
	require.NoError(t, err)
	assert.Equal(t, rotated.NewIdentifier, active)

	// Both documents open through the promoted key.
	keyPath := orch.Settings.KeyFilePath(cfg.Project.UUID)
	loader := &session.Loader{Config: cfg, KeyPath: keyPath, Vault: orch.Vault}
	for _, docPath := range []string{result.DocumentPath, secondPath} {
		_, err := loader.Load(context.Background(), docPath)
		assert.NoError(t, err)
	}

	// No staging leftovers.
	_, err = os.Stat(keyPath + ".new")
	assert.True(t, os.IsNotExist(err))
}

func TestRotateResumesWithStagedKey(t *testing.T) {
	orch, _ := newOrchestrator(t)

	result, err := orch.RunNew(context.Background(), Options{CustodyMode: "disk", CreateVault: true})
	require.NoError(t, err)
	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)

	secondPath := filepath.Join(orch.Root, "staging.envault")
	doc, err := codec.EncryptMapping(map[string]string{"X": "1"}, []string{"X"}, result.Identifier)
	require.NoError(t, err)
	require.NoError(t, codec.WriteFile(secondPath, doc))

	// Break the second document so the reseal loop dies after the first.
	original, err := os.ReadFile(secondPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(secondPath, []byte("garbage"), 0600))

	rotateDocs := RotateOptions{Documents: []string{result.DocumentPath, secondPath}}
	_, err = orch.Rotate(context.Background(), cfg, rotateDocs)
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrRotationIncomplete)
	assert.ErrorIs(t, err, kerrors.ErrInvalidDocument, "the cause must stay reachable through the wrap")

	// The first document is now sealed to the staged key, which survived.
	keyPath := orch.Settings.KeyFilePath(cfg.Project.UUID)
	resealed, err := codec.ReadFile(result.DocumentPath)
	require.NoError(t, err)
	stagedIdentifier := resealed.Recipient
	assert.NotEqual(t, result.Identifier, stagedIdentifier)
	_, err = os.Stat(keyPath + ".new")
	require.NoError(t, err, "the staged key must survive a mid-rotation failure")

	// Repair the second document and retry: the rotation must pick the
	// staged key back up, skip the already-resealed document, and finish.
	require.NoError(t, os.WriteFile(secondPath, original, 0600))
	rotated, err := orch.Rotate(context.Background(), cfg, rotateDocs)
	require.NoError(t, err)
	assert.Equal(t, stagedIdentifier, rotated.NewIdentifier, "the retry must reuse the staged key, not mint another")
	assert.Equal(t, result.Identifier, rotated.OldIdentifier)

	cfg, err = config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)
	active, err := cfg.ActiveRecipient()
	require.NoError(t, err)
	assert.Equal(t, stagedIdentifier, active)

	loader := &session.Loader{Config: cfg, KeyPath: keyPath, Vault: orch.Vault}
	for _, docPath := range []string{result.DocumentPath, secondPath} {
		_, err := loader.Load(context.Background(), docPath)
		assert.NoError(t, err)
	}

	_, err = os.Stat(keyPath + ".new")
	assert.True(t, os.IsNotExist(err), "promotion must consume the staged key")
}

func TestRotateFailureRetainsOldKey(t *testing.T) {
	orch, mem := newOrchestrator(t)

	result, err := orch.RunNew(context.Background(), Options{CustodyMode: "vault", CreateVault: true})
	require.NoError(t, err)
	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)

	// Staging the new key fails before any document is touched.
	mem.FailWrite = true
	_, err = orch.Rotate(context.Background(), cfg, RotateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrRotationIncomplete)
	assert.ErrorIs(t, err, kerrors.ErrVaultWrite, "the cause must stay reachable through the wrap")
	mem.FailWrite = false

	// The old key still opens the document and is still the active recipient.
	cfg, err = config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)
	active, err := cfg.ActiveRecipient()
	require.NoError(t, err)
	assert.Equal(t, result.Identifier, active)

	loader := &session.Loader{Config: cfg, Vault: mem}
	_, err = loader.Load(context.Background(), result.DocumentPath)
	assert.NoError(t, err)
}

func TestAddRecipientStaysInactive(t *testing.T) {
	orch, _ := newOrchestrator(t)

	result, err := orch.RunNew(context.Background(), Options{CustodyMode: "disk", CreateVault: true})
	require.NoError(t, err)
	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)

	other, err := keystore.Generate()
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, orch.AddRecipient(cfg, other.Identifier))

	cfg, err = config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)
	active, err := cfg.ActiveRecipient()
	require.NoError(t, err)
	assert.Equal(t, result.Identifier, active, "registering must not change who documents are sealed for")
	assert.Contains(t, cfg.Recipients, other.Identifier)
	assert.False(t, cfg.Recipients[other.Identifier])
}

func TestAddRecipientRejectsMalformedIdentifier(t *testing.T) {
	orch, _ := newOrchestrator(t)

	_, err := orch.RunNew(context.Background(), Options{CustodyMode: "disk", CreateVault: true})
	require.NoError(t, err)
	cfg, err := config.LoadProjectConfig(orch.Root)
	require.NoError(t, err)

	err = orch.AddRecipient(cfg, "not-an-identifier")
	assert.ErrorIs(t, err, kerrors.ErrInvalidKey)
}

func TestFindDocumentsSkipsMarkerAndGit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, config.MarkerDir), 0700))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0700))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0700))

	for _, p := range []string{
		filepath.Join(root, ".env.envault"),
		filepath.Join(root, "sub", "staging.envault"),
		filepath.Join(root, config.MarkerDir, "hidden.envault"),
		filepath.Join(root, ".git", "objects.envault"),
		filepath.Join(root, "README.md"),
	} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0600))
	}

	docs, err := FindDocuments(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, ".env.envault"),
		filepath.Join(root, "sub", "staging.envault"),
	}, docs)
}
