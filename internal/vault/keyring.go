package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
)

// Keyring stores attachments in the operating system keychain. The keychain
// is unlocked by the OS session rather than a per-call passphrase, so this
// backend never prompts; authentication failures surface as ErrVaultAuth
// when the keychain service refuses access.
type Keyring struct {
	// Service namespaces envault's keychain items.
	Service string
}

// NewKeyring builds the adapter with the default service namespace.
func NewKeyring() *Keyring {
	return &Keyring{Service: "envault"}
}

func (r *Keyring) Name() string { return "keyring" }

// DatabaseExists always reports true: the OS keychain exists as long as the
// session does, so the missing-database precondition never applies here.
func (r *Keyring) DatabaseExists() (bool, error) { return true, nil }

// CreateDatabase is a no-op for the same reason.
func (r *Keyring) CreateDatabase(ctx context.Context) error { return nil }

func (r *Keyring) ExportAttachment(ctx context.Context, entry, attachment string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encoded, err := keyring.Get(r.Service, itemKey(entry, attachment))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, kerrors.ErrEntryNotFound
		}
		return nil, fmt.Errorf("%w: %v", kerrors.ErrVaultAuth, err)
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding keychain item: %w", err)
	}
	return payload, nil
}

func (r *Keyring) ImportAttachment(ctx context.Context, entry, attachment string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(payload)
	if err := keyring.Set(r.Service, itemKey(entry, attachment), encoded); err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrVaultWrite, err)
	}

	// Read back to confirm the item was stored whole; some keychain
	// implementations cap item sizes and truncate silently.
	stored, err := keyring.Get(r.Service, itemKey(entry, attachment))
	if err != nil {
		return fmt.Errorf("%w: verification read failed: %v", kerrors.ErrVaultWrite, err)
	}
	if stored != encoded {
		return fmt.Errorf("%w: keychain item was truncated", kerrors.ErrVaultWrite)
	}
	return nil
}

func itemKey(entry, attachment string) string {
	return entry + "/" + attachment
}
