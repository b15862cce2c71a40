package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
)

func newMockKeyring(t *testing.T) *Keyring {
	t.Helper()
	keyring.MockInit()
	return NewKeyring()
}

func TestKeyringRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newMockKeyring(t)

	payload := []byte("pem encoded key material")
	require.NoError(t, r.ImportAttachment(ctx, "envault/p", "p.key", payload))

	got, err := r.ExportAttachment(ctx, "envault/p", "p.key")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestKeyringMissingItem(t *testing.T) {
	r := newMockKeyring(t)

	_, err := r.ExportAttachment(context.Background(), "envault/p", "absent.key")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrEntryNotFound)
}

func TestKeyringOverwrite(t *testing.T) {
	ctx := context.Background()
	r := newMockKeyring(t)

	require.NoError(t, r.ImportAttachment(ctx, "envault/p", "p.key", []byte("v1")))
	require.NoError(t, r.ImportAttachment(ctx, "envault/p", "p.key", []byte("v2")))

	got, err := r.ExportAttachment(ctx, "envault/p", "p.key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestKeyringDatabaseAlwaysExists(t *testing.T) {
	r := newMockKeyring(t)

	exists, err := r.DatabaseExists()
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, r.CreateDatabase(context.Background()))
}

func TestKeyringHonorsCancellation(t *testing.T) {
	r := newMockKeyring(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ExportAttachment(ctx, "e", "a")
	assert.Error(t, err)
	assert.Error(t, r.ImportAttachment(ctx, "e", "a", nil))
}
