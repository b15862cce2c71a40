// Package vault adapts external encrypted attachment stores.
//
// A vault stores named binary blobs (attachments) under named entries,
// gated by a master passphrase. envault uses it as the sole durable backup
// of private key material, and as the only durable location at all when
// the custody mode is vault-only.
//
// Two production adapters exist: KeePassXC drives the keepassxc-cli binary
// across a subprocess boundary, and Keyring stores attachments in the OS
// keychain. Memory is an in-process fake for tests and never touches disk.
package vault

import (
	"context"
	"sync"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
)

// Adapter is the capability envault requires from an attachment store.
//
// Every call that touches the store authenticates with the master
// passphrase for that call alone; adapters never cache the passphrase.
type Adapter interface {
	// Name identifies the backend for logs and doctor output.
	Name() string

	// DatabaseExists reports whether the backing store has been created.
	// Callers must treat a missing database as an explicit error condition
	// (ErrVaultMissing), never as license to silently create a second store.
	DatabaseExists() (bool, error)

	// CreateDatabase creates the backing store. Fails if it already exists.
	CreateDatabase(ctx context.Context) error

	// ExportAttachment fetches an attachment's bytes.
	// Fails with ErrEntryNotFound or ErrVaultAuth.
	ExportAttachment(ctx context.Context, entry, attachment string) ([]byte, error)

	// ImportAttachment stores an attachment, overwriting any prior
	// attachment of the same name under the entry. Fails with ErrVaultWrite
	// on storage failure; it never silently truncates.
	ImportAttachment(ctx context.Context, entry, attachment string, payload []byte) error
}

// Memory is an in-process Adapter for tests. It honors the same error
// contract as the production adapters and can simulate authentication and
// write failures.
type Memory struct {
	mu      sync.Mutex
	created bool
	entries map[string][]byte

	// FailAuth makes every authenticated call fail with ErrVaultAuth.
	FailAuth bool

	// FailWrite makes ImportAttachment fail with ErrVaultWrite.
	FailWrite bool
}

// NewMemory returns an empty, not-yet-created in-memory vault.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) DatabaseExists() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, nil
}

func (m *Memory) CreateDatabase(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created {
		return kerrors.ErrVaultWrite
	}
	m.created = true
	return nil
}

func (m *Memory) ExportAttachment(ctx context.Context, entry, attachment string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.created {
		return nil, kerrors.ErrVaultMissing
	}
	if m.FailAuth {
		return nil, kerrors.ErrVaultAuth
	}
	payload, ok := m.entries[entry+"\x00"+attachment]
	if !ok {
		return nil, kerrors.ErrEntryNotFound
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (m *Memory) ImportAttachment(ctx context.Context, entry, attachment string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.created {
		return kerrors.ErrVaultMissing
	}
	if m.FailAuth {
		return kerrors.ErrVaultAuth
	}
	if m.FailWrite {
		return kerrors.ErrVaultWrite
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.entries[entry+"\x00"+attachment] = stored
	return nil
}
