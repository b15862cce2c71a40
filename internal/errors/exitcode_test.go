package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("anything else"), ExitGeneric},
		{ErrToolUnavailable, ExitToolUnavailable},
		{ErrKeyNotFound, ExitNotFound},
		{ErrEntryNotFound, ExitNotFound},
		{ErrFileNotFound, ExitNotFound},
		{ErrVaultMissing, ExitNotFound},
		{ErrVaultAuth, ExitAuthentication},
		{ErrWrongKey, ExitDecryption},
		{ErrIntegrity, ExitDecryption},
		{ErrInvalidDocument, ExitDecryption},
		{ErrWriteFailed, ExitWrite},
		{ErrVaultWrite, ExitWrite},
		{ErrKeyPermissions, ExitPermissions},
		{ErrRotationIncomplete, ExitRotationIncomplete},
		{ErrPromptTimeout, ExitPromptTimeout},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExitCode(tc.err), "error: %v", tc.err)
	}
}

func TestExitCodeSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("loading session: %w", fmt.Errorf("resolving key: %w", ErrVaultAuth))
	assert.Equal(t, ExitAuthentication, ExitCode(err))
}

func TestExitCodeRotationWinsOverCause(t *testing.T) {
	// A rotation failure wraps its cause with a second %w, so the cause is
	// still errors.Is-able, but the rotation class is what the caller needs
	// to react to.
	err := fmt.Errorf("%w: staging new key: %w", ErrRotationIncomplete, ErrVaultWrite)
	assert.ErrorIs(t, err, ErrVaultWrite)
	assert.Equal(t, ExitRotationIncomplete, ExitCode(err))
}
