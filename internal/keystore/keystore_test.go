package keystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/vault"
)

func TestGenerateDistinctIdentifiers(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	defer a.Close()
	b, err := Generate()
	require.NoError(t, err)
	defer b.Close()

	assert.NotEmpty(t, a.Identifier)
	assert.NotEqual(t, a.Identifier, b.Identifier)
}

func TestIdentifierRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	defer kp.Close()

	pub, err := PublicFromIdentifier(kp.Identifier)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, pub)

	derived, err := IdentifierFromSecret(kp.Secret())
	require.NoError(t, err)
	assert.Equal(t, kp.Identifier, derived)
}

func TestPublicFromIdentifierRejectsMalformed(t *testing.T) {
	_, err := PublicFromIdentifier("not!base58")
	assert.ErrorIs(t, err, kerrors.ErrInvalidKey)

	_, err = PublicFromIdentifier("abc")
	assert.ErrorIs(t, err, kerrors.ErrInvalidKey, "short identifiers must be rejected")
}

func TestPrivatePEMRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	defer kp.Close()

	wantIdentifier := kp.Identifier
	data := EncodePrivatePEM(kp)

	secret, err := DecodePrivatePEM(data)
	require.NoError(t, err)
	defer secret.Close()

	derived, err := IdentifierFromSecret(secret)
	require.NoError(t, err)
	assert.Equal(t, wantIdentifier, derived)
}

func TestDecodePrivatePEMRejectsWrongBlock(t *testing.T) {
	_, err := DecodePrivatePEM([]byte("-----BEGIN CERTIFICATE-----\nQUFBQQ==\n-----END CERTIFICATE-----\n"))
	assert.ErrorIs(t, err, kerrors.ErrInvalidKey)

	_, err = DecodePrivatePEM([]byte("not pem at all"))
	assert.ErrorIs(t, err, kerrors.ErrInvalidKey)
}

func TestSaveAndLoadKeyFile(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	defer kp.Close()

	path := filepath.Join(t.TempDir(), "keys", "project.key")
	require.NoError(t, SaveKeyFile(path, kp))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// The public companion exists alongside.
	_, err = os.Stat(path + ".pub")
	assert.NoError(t, err)

	secret, err := LoadKeyFile(path)
	require.NoError(t, err)
	defer secret.Close()

	derived, err := IdentifierFromSecret(secret)
	require.NoError(t, err)
	assert.Equal(t, kp.Identifier, derived)
}

func TestLoadKeyFileMissing(t *testing.T) {
	_, err := LoadKeyFile(filepath.Join(t.TempDir(), "absent.key"))
	assert.ErrorIs(t, err, kerrors.ErrKeyNotFound)
}

func TestLoadKeyFileRejectsLoosePermissions(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	defer kp.Close()

	path := filepath.Join(t.TempDir(), "project.key")
	require.NoError(t, SaveKeyFile(path, kp))
	require.NoError(t, os.Chmod(path, 0644))

	_, err = LoadKeyFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrKeyPermissions)
}

func TestParseCustodyMode(t *testing.T) {
	mode, err := ParseCustodyMode("disk")
	require.NoError(t, err)
	assert.Equal(t, CustodyOnDisk, mode)

	mode, err = ParseCustodyMode("vault")
	require.NoError(t, err)
	assert.Equal(t, CustodyVaultOnly, mode)

	_, err = ParseCustodyMode("cloud")
	assert.ErrorIs(t, err, kerrors.ErrInvalidProjectConfig)
}

func TestStoreResolveDisk(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	defer kp.Close()

	path := filepath.Join(t.TempDir(), "project.key")
	require.NoError(t, SaveKeyFile(path, kp))

	store := &Store{KeyPath: path}
	secret, err := store.Resolve(context.Background(), CustodyOnDisk)
	require.NoError(t, err)
	defer secret.Close()

	derived, err := IdentifierFromSecret(secret)
	require.NoError(t, err)
	assert.Equal(t, kp.Identifier, derived)
}

func TestStoreResolveVault(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	defer kp.Close()

	mem := vault.NewMemory()
	require.NoError(t, mem.CreateDatabase(context.Background()))
	require.NoError(t, mem.ImportAttachment(context.Background(), "envault/test", "test.key", EncodePrivatePEM(kp)))

	store := &Store{Vault: mem, Entry: "envault/test", Attachment: "test.key"}
	secret, err := store.Resolve(context.Background(), CustodyVaultOnly)
	require.NoError(t, err)
	defer secret.Close()

	derived, err := IdentifierFromSecret(secret)
	require.NoError(t, err)
	assert.Equal(t, kp.Identifier, derived)
}

func TestStoreResolveVaultMissingAttachment(t *testing.T) {
	mem := vault.NewMemory()
	require.NoError(t, mem.CreateDatabase(context.Background()))

	store := &Store{Vault: mem, Entry: "envault/test", Attachment: "test.key"}
	_, err := store.Resolve(context.Background(), CustodyVaultOnly)
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrKeyNotFound, "a missing attachment is a missing key, not a vault error")
}

func TestStoreResolveVaultAuthFailure(t *testing.T) {
	mem := vault.NewMemory()
	require.NoError(t, mem.CreateDatabase(context.Background()))
	mem.FailAuth = true

	store := &Store{Vault: mem, Entry: "envault/test", Attachment: "test.key"}
	_, err := store.Resolve(context.Background(), CustodyVaultOnly)
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrVaultAuth)
	assert.NotContains(t, err.Error(), "test.key", "authentication failures must not reveal entry names")
}
