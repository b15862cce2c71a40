package codec

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/Aviksaikat/envault/internal/envfile"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/secure"
)

const nonceSize = 24

// Encrypt seals plaintext to the recipient identifier under a fresh file key.
func Encrypt(plaintext []byte, recipient string) (*Document, error) {
	pub, err := keystore.PublicFromIdentifier(recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrEncryptFailed, err)
	}

	// The file key lives in locked memory until both seals are done.
	fileKeyBuf := secure.NewRandomSecret(keystore.KeySize)
	defer fileKeyBuf.Close()

	wrapped, err := box.SealAnonymous(nil, fileKeyBuf.Bytes(), &pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapping file key: %v", kerrors.ErrEncryptFailed, err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: generating nonce: %v", kerrors.ErrEncryptFailed, err)
	}

	var fileKey [keystore.KeySize]byte
	copy(fileKey[:], fileKeyBuf.Bytes())
	defer secure.Wipe(fileKey[:])
	payload := secretbox.Seal(nonce[:], plaintext, &nonce, &fileKey)

	return &Document{
		Recipient: recipient,
		Wrapped:   wrapped,
		Payload:   payload,
	}, nil
}

// EncryptMapping seals a variable mapping, preserving variable order in the
// underlying plaintext.
func EncryptMapping(vars map[string]string, order []string, recipient string) (*Document, error) {
	plaintext := envfile.Marshal(vars, order)
	defer secure.Wipe(plaintext)
	return Encrypt(plaintext, recipient)
}

// Decrypt opens a sealed document with the given private key material.
//
// A recipient mismatch is ErrWrongKey, diagnosed before any ciphertext is
// touched. Once the recipient matches, any authentication failure in the
// wrapped key or payload, including truncation, is ErrIntegrity. Both
// fail closed: no partial plaintext ever escapes.
func Decrypt(doc *Document, secret *secure.Secret) ([]byte, error) {
	identifier, err := keystore.IdentifierFromSecret(secret)
	if err != nil {
		return nil, err
	}
	if identifier != doc.Recipient {
		return nil, fmt.Errorf("%w: document is sealed for %s", kerrors.ErrWrongKey, doc.Recipient)
	}

	pub, err := keystore.PublicFromIdentifier(doc.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidDocument, err)
	}

	var priv [keystore.KeySize]byte
	copy(priv[:], secret.Bytes())
	defer secure.Wipe(priv[:])

	fileKeyRaw, ok := box.OpenAnonymous(nil, doc.Wrapped, &pub, &priv)
	if !ok {
		return nil, fmt.Errorf("%w: wrapped file key failed verification", kerrors.ErrIntegrity)
	}
	if len(fileKeyRaw) != keystore.KeySize {
		secure.Wipe(fileKeyRaw)
		return nil, fmt.Errorf("%w: wrapped file key has wrong length", kerrors.ErrIntegrity)
	}
	var fileKey [keystore.KeySize]byte
	copy(fileKey[:], fileKeyRaw)
	secure.Wipe(fileKeyRaw)
	defer secure.Wipe(fileKey[:])

	if len(doc.Payload) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: payload truncated", kerrors.ErrIntegrity)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], doc.Payload[:nonceSize])

	plaintext, ok := secretbox.Open(nil, doc.Payload[nonceSize:], &nonce, &fileKey)
	if !ok {
		return nil, fmt.Errorf("%w: payload failed verification", kerrors.ErrIntegrity)
	}
	return plaintext, nil
}

// DecryptMapping opens a sealed document and parses its dotenv plaintext.
func DecryptMapping(doc *Document, secret *secure.Secret) (map[string]string, []string, error) {
	plaintext, err := Decrypt(doc, secret)
	if err != nil {
		return nil, nil, err
	}
	defer secure.Wipe(plaintext)
	return envfile.Parse(plaintext)
}

// ReadFile loads and parses a sealed document from disk.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrFileNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return Unmarshal(data)
}

// WriteFile stores a sealed document atomically: the armor is staged in a
// temporary file beside the target and renamed into place only once fully
// written, so the prior document survives any mid-write failure.
func WriteFile(path string, doc *Document) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrWriteFailed, err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if err := tmp.Chmod(0600); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", kerrors.ErrWriteFailed, err)
	}
	if _, err := tmp.Write(doc.Marshal()); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", kerrors.ErrWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", kerrors.ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", kerrors.ErrWriteFailed, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", kerrors.ErrWriteFailed, err)
	}
	return nil
}

// Mutator transforms a decrypted mapping during EditInPlace.
type Mutator func(vars map[string]string, order []string) (map[string]string, []string, error)

// EditInPlace runs an authenticated decrypt-modify-reencrypt cycle on the
// document at path. An advisory file lock serializes concurrent editors so
// two processes cannot lose each other's updates. The lock file stays on
// disk after the edit: unlinking it would hand a waiter the orphaned inode
// while a newcomer locks a fresh file at the same path, and the two would
// edit concurrently. The document on disk is left untouched unless the
// full decrypt, mutate, re-seal cycle succeeds.
func EditInPlace(path string, secret *secure.Secret, mutate Mutator) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w: locking document: %v", kerrors.ErrWriteFailed, err)
	}
	defer lock.Unlock()

	doc, err := ReadFile(path)
	if err != nil {
		return err
	}

	vars, order, err := DecryptMapping(doc, secret)
	if err != nil {
		return err
	}

	vars, order, err = mutate(vars, order)
	if err != nil {
		return err
	}

	updated, err := EncryptMapping(vars, order, doc.Recipient)
	if err != nil {
		return err
	}

	return WriteFile(path, updated)
}

// SetField upserts a single variable in the document at path. The name must
// be a valid dotenv identifier; an existing name is overwritten.
func SetField(path string, secret *secure.Secret, key, value string) error {
	if err := envfile.ValidateKey(key); err != nil {
		return err
	}
	return EditInPlace(path, secret, func(vars map[string]string, order []string) (map[string]string, []string, error) {
		return envfile.Set(vars, order, key, value)
	})
}

// Reencrypt reseals the document at path from the old key to a new
// recipient, committing only after the re-encrypted document round-trips
// with the new key and matches the original plaintext. On any failure the
// document on disk still decrypts with the old key.
func Reencrypt(path string, oldSecret *secure.Secret, newRecipient string, newSecret *secure.Secret) error {
	doc, err := ReadFile(path)
	if err != nil {
		return err
	}

	plaintext, err := Decrypt(doc, oldSecret)
	if err != nil {
		return err
	}
	defer secure.Wipe(plaintext)

	resealed, err := Encrypt(plaintext, newRecipient)
	if err != nil {
		return err
	}

	// Verification round trip with the new key before anything is written.
	verified, err := Decrypt(resealed, newSecret)
	if err != nil {
		return fmt.Errorf("verifying re-encrypted document: %w", err)
	}
	match := bytes.Equal(verified, plaintext)
	secure.Wipe(verified)
	if !match {
		return fmt.Errorf("%w: re-encrypted document does not round-trip", kerrors.ErrIntegrity)
	}

	return WriteFile(path, resealed)
}
