package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aviksaikat/envault/internal/codec"
	"github.com/Aviksaikat/envault/internal/config"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/vault"
)

type fixture struct {
	kp      *keystore.Keypair
	docPath string
	loader  *Loader
	mem     *vault.Memory
	cfg     *config.ProjectConfig
}

// newDiskFixture seals a document and places the key in a file, wired for
// disk custody.
func newDiskFixture(t *testing.T, vars map[string]string, order []string) *fixture {
	t.Helper()
	dir := t.TempDir()

	kp, err := keystore.Generate()
	require.NoError(t, err)
	t.Cleanup(kp.Close)

	keyPath := filepath.Join(dir, "project.key")
	require.NoError(t, keystore.SaveKeyFile(keyPath, kp))

	docPath := filepath.Join(dir, ".env.envault")
	doc, err := codec.EncryptMapping(vars, order, kp.Identifier)
	require.NoError(t, err)
	require.NoError(t, codec.WriteFile(docPath, doc))

	cfg := config.NewProjectConfig("test", "disk", "keepassxc", "")
	cfg.SetActiveRecipient(kp.Identifier)

	return &fixture{
		kp:      kp,
		docPath: docPath,
		cfg:     cfg,
		loader:  &Loader{Config: cfg, KeyPath: keyPath},
	}
}

// newVaultFixture seals a document and places the key in an in-memory
// vault, wired for vault-only custody.
func newVaultFixture(t *testing.T, vars map[string]string, order []string) *fixture {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	kp, err := keystore.Generate()
	require.NoError(t, err)
	t.Cleanup(kp.Close)

	mem := vault.NewMemory()
	require.NoError(t, mem.CreateDatabase(ctx))

	cfg := config.NewProjectConfig("test", "vault", "memory", "")
	cfg.SetActiveRecipient(kp.Identifier)
	require.NoError(t, mem.ImportAttachment(ctx, cfg.Vault.Entry, KeyAttachmentName(cfg), keystore.EncodePrivatePEM(kp)))

	docPath := filepath.Join(dir, ".env.envault")
	doc, err := codec.EncryptMapping(vars, order, kp.Identifier)
	require.NoError(t, err)
	require.NoError(t, codec.WriteFile(docPath, doc))

	return &fixture{
		kp:      kp,
		docPath: docPath,
		cfg:     cfg,
		mem:     mem,
		loader:  &Loader{Config: cfg, Vault: mem},
	}
}

func TestLoadDiskCustody(t *testing.T) {
	f := newDiskFixture(t, map[string]string{"A": "1", "B": "2"}, []string{"A", "B"})

	sess, err := f.loader.Load(context.Background(), f.docPath)
	require.NoError(t, err)

	assert.Equal(t, 2, sess.Len())
	assert.Equal(t, []string{"A", "B"}, sess.Names())
	v, ok := sess.Get("A")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.False(t, sess.LoadedAt.IsZero())
}

func TestLoadVaultCustody(t *testing.T) {
	f := newVaultFixture(t, map[string]string{"TOKEN": "abc"}, []string{"TOKEN"})

	sess, err := f.loader.Load(context.Background(), f.docPath)
	require.NoError(t, err)

	v, ok := sess.Get("TOKEN")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestLoadAllOrNothing(t *testing.T) {
	f := newDiskFixture(t, map[string]string{"A": "1"}, []string{"A"})

	// Corrupt the document after sealing.
	doc, err := codec.ReadFile(f.docPath)
	require.NoError(t, err)
	doc.Payload[len(doc.Payload)-1] ^= 0x01
	require.NoError(t, codec.WriteFile(f.docPath, doc))

	sess, err := f.loader.Load(context.Background(), f.docPath)
	require.Error(t, err)
	assert.Nil(t, sess, "a failed load must not return partial bindings")

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "decrypting document", loadErr.Step)
	assert.ErrorIs(t, err, kerrors.ErrIntegrity, "the sentinel must survive the LoadError wrapper")
}

func TestLoadMissingDocument(t *testing.T) {
	f := newDiskFixture(t, map[string]string{"A": "1"}, []string{"A"})

	_, err := f.loader.Load(context.Background(), f.docPath+".nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrFileNotFound)
}

func TestLoadVaultAuthFailure(t *testing.T) {
	f := newVaultFixture(t, map[string]string{"A": "1"}, []string{"A"})
	f.mem.FailAuth = true

	_, err := f.loader.Load(context.Background(), f.docPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrVaultAuth)
}

func TestLoadPicksUpRotation(t *testing.T) {
	ctx := context.Background()
	f := newVaultFixture(t, map[string]string{"A": "1"}, []string{"A"})

	first, err := f.loader.Load(ctx, f.docPath)
	require.NoError(t, err)
	v, _ := first.Get("A")
	assert.Equal(t, "1", v)

	// Rotate out of band: new key in the vault, document resealed.
	next, err := keystore.Generate()
	require.NoError(t, err)
	defer next.Close()
	require.NoError(t, codec.Reencrypt(f.docPath, f.kp.Secret(), next.Identifier, next.Secret()))
	require.NoError(t, f.mem.ImportAttachment(ctx, f.cfg.Vault.Entry, KeyAttachmentName(f.cfg), keystore.EncodePrivatePEM(next)))

	// No caching: the second load authenticates and decrypts afresh with
	// the rotated key.
	second, err := f.loader.Load(ctx, f.docPath)
	require.NoError(t, err)
	v, _ = second.Get("A")
	assert.Equal(t, "1", v)
}

func TestEnvironMergeSessionWins(t *testing.T) {
	f := newDiskFixture(t, map[string]string{"PATH_EXTRA": "x", "HOME_LIKE": "session"}, []string{"PATH_EXTRA", "HOME_LIKE"})

	sess, err := f.loader.Load(context.Background(), f.docPath)
	require.NoError(t, err)

	env := sess.Environ([]string{"HOME_LIKE=base", "UNTOUCHED=keep"})
	assert.Contains(t, env, "HOME_LIKE=session")
	assert.Contains(t, env, "UNTOUCHED=keep")
	assert.Contains(t, env, "PATH_EXTRA=x")
	assert.NotContains(t, env, "HOME_LIKE=base")
}

func TestKeyAttachmentName(t *testing.T) {
	cfg := config.NewProjectConfig("test", "disk", "keepassxc", "")
	assert.Equal(t, cfg.Project.UUID+".key", KeyAttachmentName(cfg))

	assert.Equal(t, "envault.key", KeyAttachmentName(&config.ProjectConfig{}))
}
