// Package keystore owns envault's keypairs: generation, on-disk and
// in-vault custody, and the identifier scheme.
//
// Keys are X25519 (NaCl box). The public identifier is the base58 encoding
// of the 32-byte public key, so the identifier printed in config files and
// CLI output doubles as the encryption recipient. There is no separate key
// registry to drift out of sync.
package keystore

import (
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/secure"
)

// KeySize is the byte length of both halves of an X25519 keypair.
const KeySize = 32

const (
	privatePEMType = "ENVAULT PRIVATE KEY"
	publicPEMType  = "ENVAULT PUBLIC KEY"
)

// Keypair couples a public identifier with its protected secret half.
type Keypair struct {
	Identifier string
	Public     [KeySize]byte

	secret *secure.Secret
}

// Generate produces a fresh keypair using the system CSPRNG.
func Generate() (*Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrGenerationFailed, err)
	}

	kp := &Keypair{
		Identifier: base58.Encode(pub[:]),
		Public:     *pub,
		secret:     secure.NewSecret(priv[:]),
	}
	return kp, nil
}

// Secret exposes the protected private half. The keypair retains ownership;
// call Close on the keypair, not on the returned Secret.
func (k *Keypair) Secret() *secure.Secret {
	return k.secret
}

// Close destroys the private half.
func (k *Keypair) Close() {
	if k.secret != nil {
		k.secret.Close()
	}
}

// FromSecret reconstructs a keypair from protected private key material by
// deriving the public half.
func FromSecret(secret *secure.Secret) (*Keypair, error) {
	raw := secret.Bytes()
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", kerrors.ErrInvalidKey, len(raw), KeySize)
	}

	pub, err := curve25519.X25519(raw, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidKey, err)
	}

	kp := &Keypair{
		Identifier: base58.Encode(pub),
		secret:     secret,
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// IdentifierFromSecret derives the public identifier for protected private
// key material without constructing a keypair.
func IdentifierFromSecret(secret *secure.Secret) (string, error) {
	raw := secret.Bytes()
	if len(raw) != KeySize {
		return "", fmt.Errorf("%w: got %d bytes, want %d", kerrors.ErrInvalidKey, len(raw), KeySize)
	}
	pub, err := curve25519.X25519(raw, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", kerrors.ErrInvalidKey, err)
	}
	return base58.Encode(pub), nil
}

// PublicFromIdentifier decodes a base58 identifier back into the recipient
// public key.
func PublicFromIdentifier(identifier string) ([KeySize]byte, error) {
	var pub [KeySize]byte
	raw, err := base58.Decode(identifier)
	if err != nil {
		return pub, fmt.Errorf("%w: %v", kerrors.ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return pub, fmt.Errorf("%w: identifier decodes to %d bytes, want %d", kerrors.ErrInvalidKey, len(raw), KeySize)
	}
	copy(pub[:], raw)
	return pub, nil
}

// EncodePrivatePEM renders the private half as a PEM block for storage,
// either on disk for the disk custody mode or as a vault attachment payload.
// The caller wipes the returned buffer when it holds vault-bound material.
func EncodePrivatePEM(kp *Keypair) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  privatePEMType,
		Bytes: kp.secret.Bytes(),
	})
}

// DecodePrivatePEM parses PEM-encoded private key material into a protected
// buffer, wiping the input as it goes.
func DecodePrivatePEM(data []byte) (*secure.Secret, error) {
	defer secure.Wipe(data)

	block, _ := pem.Decode(data)
	if block == nil || block.Type != privatePEMType {
		return nil, fmt.Errorf("%w: not a %s PEM block", kerrors.ErrInvalidKey, privatePEMType)
	}
	if len(block.Bytes) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", kerrors.ErrInvalidKey, len(block.Bytes), KeySize)
	}
	return secure.NewSecret(block.Bytes), nil
}

// SaveKeyFile writes the private half to path with owner-only permissions,
// and a .pub companion carrying the public half.
func SaveKeyFile(path string, kp *Keypair) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	privPEM := EncodePrivatePEM(kp)
	defer secure.Wipe(privPEM)
	if err := os.WriteFile(path, privPEM, 0600); err != nil {
		return fmt.Errorf("saving private key: %w", err)
	}

	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  publicPEMType,
		Bytes: kp.Public[:],
	})
	if err := os.WriteFile(path+".pub", pubPEM, 0600); err != nil {
		return fmt.Errorf("saving public key: %w", err)
	}

	return nil
}

// LoadKeyFile reads the private half from path into protected memory.
// A group- or world-readable key file is rejected outright.
func LoadKeyFile(path string) (*secure.Secret, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrKeyNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("checking key file: %w", err)
	}

	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s has mode %04o, want 0600", kerrors.ErrKeyPermissions, path, mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	return DecodePrivatePEM(data)
}
