// Package secure provides scope-bound storage for secret material.
//
// All key material resolved by envault, whether read from disk or pulled
// out of the vault, travels through a Secret, which keeps the bytes in a
// memguard locked buffer: mlocked against swap, guarded against overflow,
// and wiped on Close. Callers must Close every Secret on all exit paths;
// main additionally installs memguard's interrupt handler so a signal
// purges every live buffer before the process dies.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Secret holds sensitive bytes in protected memory for the lifetime of a
// single operation.
type Secret struct {
	mu     sync.Mutex
	buf    *memguard.LockedBuffer
	closed bool
}

// NewSecret moves data into protected memory. The source slice is wiped as
// part of the move; callers must not use it afterwards. An empty input
// yields an already-empty Secret (memguard cannot lock zero-length buffers).
func NewSecret(data []byte) *Secret {
	if len(data) == 0 {
		return &Secret{closed: true}
	}
	return &Secret{buf: memguard.NewBufferFromBytes(data)}
}

// NewRandomSecret fills a protected buffer with n bytes from the system CSPRNG.
func NewRandomSecret(n int) *Secret {
	return &Secret{buf: memguard.NewBufferRandom(n)}
}

// Bytes exposes the protected bytes. The slice aliases locked memory and is
// only valid until Close; callers must not retain it.
func (s *Secret) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.buf.Bytes()
}

// Size reports the length of the protected data, or zero after Close.
func (s *Secret) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.buf.Size()
}

// Close wipes and releases the protected memory. It is idempotent.
func (s *Secret) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf.Destroy()
	s.closed = true
}

// Wipe zeroes a plain byte slice in place. Used for transient copies that
// never made it into a locked buffer.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}
