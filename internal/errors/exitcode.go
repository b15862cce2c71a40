package errors

import "errors"

// Exit codes let scripts discriminate failure classes without parsing
// messages. Code 1 is the catch-all for anything outside the taxonomy.
const (
	ExitOK                 = 0
	ExitGeneric            = 1
	ExitToolUnavailable    = 2
	ExitNotFound           = 3
	ExitAuthentication     = 4
	ExitDecryption         = 5
	ExitWrite              = 6
	ExitPermissions        = 7
	ExitRotationIncomplete = 8
	ExitPromptTimeout      = 9
)

// ExitCode maps an error onto the CLI exit code taxonomy. A nil error is
// ExitOK. Wrapped errors are unwrapped, so the mapping survives any amount
// of context added along the way.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrToolUnavailable):
		return ExitToolUnavailable
	case errors.Is(err, ErrRotationIncomplete):
		return ExitRotationIncomplete
	case errors.Is(err, ErrPromptTimeout):
		return ExitPromptTimeout
	case errors.Is(err, ErrVaultAuth):
		return ExitAuthentication
	case errors.Is(err, ErrKeyPermissions):
		return ExitPermissions
	case errors.Is(err, ErrWrongKey),
		errors.Is(err, ErrIntegrity),
		errors.Is(err, ErrInvalidDocument):
		return ExitDecryption
	case errors.Is(err, ErrWriteFailed),
		errors.Is(err, ErrVaultWrite),
		errors.Is(err, ErrEncryptFailed):
		return ExitWrite
	case errors.Is(err, ErrKeyNotFound),
		errors.Is(err, ErrEntryNotFound),
		errors.Is(err, ErrFileNotFound),
		errors.Is(err, ErrVaultMissing):
		return ExitNotFound
	default:
		return ExitGeneric
	}
}
