package keystore

import (
	"context"
	"errors"
	"fmt"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/secure"
	"github.com/Aviksaikat/envault/internal/vault"
)

// CustodyMode is the policy for where private key material may durably
// reside.
type CustodyMode int

const (
	// CustodyOnDisk keeps the key in a permission-checked file.
	CustodyOnDisk CustodyMode = iota

	// CustodyVaultOnly keeps the key exclusively in the vault; it exists
	// outside the vault only inside a scope-bound protected buffer.
	CustodyVaultOnly
)

// ParseCustodyMode maps the config-file spelling onto a mode.
func ParseCustodyMode(s string) (CustodyMode, error) {
	switch s {
	case "disk":
		return CustodyOnDisk, nil
	case "vault":
		return CustodyVaultOnly, nil
	default:
		return 0, fmt.Errorf("%w: unknown custody mode %q (want \"disk\" or \"vault\")", kerrors.ErrInvalidProjectConfig, s)
	}
}

func (m CustodyMode) String() string {
	switch m {
	case CustodyOnDisk:
		return "disk"
	case CustodyVaultOnly:
		return "vault"
	default:
		return fmt.Sprintf("custody(%d)", int(m))
	}
}

// Store resolves key material according to a custody mode.
type Store struct {
	// KeyPath locates the private key file for CustodyOnDisk.
	KeyPath string

	// Vault, Entry, and Attachment locate the key for CustodyVaultOnly.
	Vault      vault.Adapter
	Entry      string
	Attachment string
}

// Resolve fetches the private key for the given mode into a protected
// buffer. The caller must Close the returned Secret on every exit path;
// for vault-only custody the buffer is the only place the key exists
// outside the vault, and nothing is left on disk either way.
func (s *Store) Resolve(ctx context.Context, mode CustodyMode) (*secure.Secret, error) {
	switch mode {
	case CustodyOnDisk:
		return LoadKeyFile(s.KeyPath)

	case CustodyVaultOnly:
		if s.Vault == nil {
			return nil, fmt.Errorf("%w: no vault adapter configured", kerrors.ErrVaultMissing)
		}
		payload, err := s.Vault.ExportAttachment(ctx, s.Entry, s.Attachment)
		if err != nil {
			if errors.Is(err, kerrors.ErrEntryNotFound) {
				return nil, fmt.Errorf("%w: key attachment missing from vault: %v", kerrors.ErrKeyNotFound, err)
			}
			return nil, err
		}
		// DecodePrivatePEM wipes payload.
		return DecodePrivatePEM(payload)

	default:
		return nil, fmt.Errorf("%w: unsupported custody mode %v", kerrors.ErrInvalidProjectConfig, mode)
	}
}
