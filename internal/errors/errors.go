package errors

import "errors"

// Key errors indicate problems locating or using key material.
var (
	// ErrKeyNotFound indicates the private key could not be located for the
	// active custody mode.
	ErrKeyNotFound = errors.New("private key not found")

	// ErrKeyPermissions indicates the on-disk key file is group- or
	// world-readable and must not be used.
	ErrKeyPermissions = errors.New("private key file permissions are too permissive")

	// ErrGenerationFailed indicates a fresh keypair could not be produced.
	ErrGenerationFailed = errors.New("failed to generate keypair")

	// ErrInvalidKey indicates key material is malformed or has the wrong length.
	ErrInvalidKey = errors.New("invalid key material")

	// ErrRotationIncomplete indicates re-encryption did not complete and the
	// old key has been retained.
	ErrRotationIncomplete = errors.New("rotation incomplete: old key retained")
)

// Cryptographic errors indicate failures opening sealed documents. The two
// cases stay distinct so callers can tell a key mismatch from corruption,
// but both fail closed.
var (
	// ErrWrongKey indicates the supplied key does not match the recipient the
	// document was sealed under.
	ErrWrongKey = errors.New("document was not sealed for this key")

	// ErrIntegrity indicates the authenticated ciphertext failed verification.
	ErrIntegrity = errors.New("document failed integrity verification")

	// ErrInvalidDocument indicates the sealed document is not in the expected
	// format.
	ErrInvalidDocument = errors.New("invalid document format")

	// ErrEncryptFailed indicates sealing a document failed.
	ErrEncryptFailed = errors.New("failed to encrypt document")
)

// Vault errors indicate problems with the external attachment store.
var (
	// ErrEntryNotFound indicates the vault has no entry or attachment under
	// the requested name.
	ErrEntryNotFound = errors.New("vault entry not found")

	// ErrVaultAuth indicates master-passphrase authentication failed. The
	// message deliberately does not reveal whether the entry exists.
	ErrVaultAuth = errors.New("vault authentication failed")

	// ErrVaultWrite indicates the vault could not durably store an attachment.
	ErrVaultWrite = errors.New("failed to write to vault")

	// ErrVaultMissing indicates the vault database does not exist. Callers
	// must treat this as an explicit precondition failure, never as a
	// first-run signal.
	ErrVaultMissing = errors.New("vault database does not exist")
)

// Environment errors indicate missing external collaborators or interaction
// failures.
var (
	// ErrToolUnavailable indicates a required external binary is not installed.
	ErrToolUnavailable = errors.New("required external tool not found")

	// ErrPromptTimeout indicates an interactive prompt was not answered in time.
	ErrPromptTimeout = errors.New("passphrase prompt timed out")
)

// Project state errors indicate issues with store configuration.
var (
	// ErrProjectNotInitialized indicates the directory has no envault store.
	ErrProjectNotInitialized = errors.New("project has not been initialized")

	// ErrProjectAlreadyInitialized indicates an envault store already exists here.
	ErrProjectAlreadyInitialized = errors.New("project has already been initialized")

	// ErrInvalidProjectConfig indicates the project configuration is malformed.
	ErrInvalidProjectConfig = errors.New("project configuration is invalid")
)

// Document file errors indicate issues reading or writing secret documents.
var (
	// ErrFileNotFound indicates a document or plaintext file could not be located.
	ErrFileNotFound = errors.New("file not found")

	// ErrWriteFailed indicates a document could not be durably written.
	ErrWriteFailed = errors.New("failed to write document")

	// ErrInvalidFieldName indicates a variable name violates the dotenv
	// identifier policy.
	ErrInvalidFieldName = errors.New("invalid variable name")
)
