// Package prompt models interactive passphrase entry as an injectable
// capability, so vault operations can run headless in tests and the
// orchestrator never hard-codes a terminal dependency.
package prompt

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/secure"
)

// PassphrasePrompter obtains a master passphrase from the user. The returned
// Secret is owned by the caller and must be closed after use; implementations
// never cache the passphrase between calls.
type PassphrasePrompter interface {
	Prompt(ctx context.Context, label string) (*secure.Secret, error)
}

// DefaultTimeout bounds how long a terminal prompt may block before failing
// with ErrPromptTimeout instead of hanging the invocation.
const DefaultTimeout = 2 * time.Minute

// Terminal reads a passphrase from the controlling terminal without echo.
type Terminal struct {
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration

	// read overrides the terminal read. Tests use it to script the reader.
	read func() ([]byte, error)
}

// NewTerminal builds a terminal prompter with the default timeout.
func NewTerminal() *Terminal {
	return &Terminal{}
}

func (t *Terminal) readPassword() ([]byte, error) {
	if t.read != nil {
		return t.read()
	}
	return term.ReadPassword(int(os.Stdin.Fd()))
}

type readResult struct {
	data []byte
	err  error
}

// Prompt writes the label to stderr and reads a passphrase with echo
// disabled. It honors ctx cancellation and its timeout; on either, the
// pending read is abandoned and ErrPromptTimeout is returned. A passphrase
// the abandoned reader delivers later is wiped, never kept.
func (t *Terminal) Prompt(ctx context.Context, label string) (*secure.Secret, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	fmt.Fprintf(os.Stderr, "%s: ", label)

	ch := make(chan readResult, 1)
	go func() {
		data, err := t.readPassword()
		ch <- readResult{data: data, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		fmt.Fprintln(os.Stderr)
		if res.err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", res.err)
		}
		return secure.NewSecret(res.data), nil
	case <-timer.C:
		fmt.Fprintln(os.Stderr)
		go drain(ch)
		return nil, kerrors.ErrPromptTimeout
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr)
		go drain(ch)
		return nil, fmt.Errorf("%w: %v", kerrors.ErrPromptTimeout, ctx.Err())
	}
}

// drain wipes whatever the abandoned reader eventually delivers, so a
// passphrase typed after the prompt gave up never lingers in memory.
func drain(ch <-chan readResult) {
	res := <-ch
	secure.Wipe(res.data)
}

// Static returns a fixed passphrase. It exists for headless and test use.
type Static struct {
	Passphrase string
}

func (s *Static) Prompt(ctx context.Context, label string) (*secure.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrPromptTimeout, err)
	}
	return secure.NewSecret([]byte(s.Passphrase)), nil
}
