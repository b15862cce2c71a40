// Package session materializes decrypted secret bindings for a single
// process invocation.
//
// A Session is the explicit replacement for exporting variables into a
// shell: the loader hands the caller an ephemeral value and the caller
// decides whether to print it, inject it into a child process, or drop it.
// Nothing is cached between loads and nothing is ever persisted.
package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Aviksaikat/envault/internal/codec"
	"github.com/Aviksaikat/envault/internal/config"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/vault"
)

// Session is an ephemeral set of variable bindings scoped to one process
// invocation. It is never written to disk.
type Session struct {
	vars     map[string]string
	names    []string
	LoadedAt time.Time
}

// Get returns a binding's value.
func (s *Session) Get(name string) (string, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Names returns the variable names in document order.
func (s *Session) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len reports the number of bindings.
func (s *Session) Len() int {
	return len(s.vars)
}

// Environ merges the session's bindings over a base environment (usually
// os.Environ). Session values win over base values of the same name, and
// the result is sorted for deterministic child-process environments.
func (s *Session) Environ(base []string) []string {
	merged := make(map[string]string, len(base)+len(s.vars))
	for _, kv := range base {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for name, value := range s.vars {
		merged[name] = value
	}

	out := make([]string, 0, len(merged))
	for name, value := range merged {
		out = append(out, name+"="+value)
	}
	sort.Strings(out)
	return out
}

// LoadError is the single failure type Load returns. It carries the step
// that failed and unwraps to the underlying sentinel so the CLI boundary
// can still map exit codes.
type LoadError struct {
	Step string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading session: %s: %v", e.Step, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader resolves the active key and decrypts a secret document into a
// Session.
type Loader struct {
	Config *config.ProjectConfig

	// KeyPath locates the on-disk key for disk custody.
	KeyPath string

	// Vault backs vault-only custody.
	Vault vault.Adapter
}

// Load resolves the custody mode, fetches the key, decrypts the document at
// docPath, and returns the bindings. Semantics are all-or-nothing: any
// failure in the chain yields a nil Session and a *LoadError, and partial
// bindings never escape.
//
// Load performs no caching. Two calls re-authenticate and re-decrypt
// independently, so a key rotation between them is picked up by the second.
func (l *Loader) Load(ctx context.Context, docPath string) (*Session, error) {
	mode, err := keystore.ParseCustodyMode(l.Config.Custody.Mode)
	if err != nil {
		return nil, &LoadError{Step: "resolving custody mode", Err: err}
	}

	store := &keystore.Store{
		KeyPath:    l.KeyPath,
		Vault:      l.Vault,
		Entry:      l.Config.Vault.Entry,
		Attachment: keyAttachmentName(l.Config),
	}

	secret, err := store.Resolve(ctx, mode)
	if err != nil {
		return nil, &LoadError{Step: "resolving key", Err: err}
	}
	defer secret.Close()

	doc, err := codec.ReadFile(docPath)
	if err != nil {
		return nil, &LoadError{Step: "reading document", Err: err}
	}

	vars, names, err := codec.DecryptMapping(doc, secret)
	if err != nil {
		return nil, &LoadError{Step: "decrypting document", Err: err}
	}

	return &Session{
		vars:     vars,
		names:    names,
		LoadedAt: time.Now(),
	}, nil
}

// keyAttachmentName is the vault attachment holding the project's key.
func keyAttachmentName(cfg *config.ProjectConfig) string {
	if cfg.Project.UUID == "" {
		return "envault.key"
	}
	return cfg.Project.UUID + ".key"
}

// KeyAttachmentName exposes the attachment naming scheme to the setup and
// rotation flows so every component addresses the same vault slot.
func KeyAttachmentName(cfg *config.ProjectConfig) string {
	return keyAttachmentName(cfg)
}
