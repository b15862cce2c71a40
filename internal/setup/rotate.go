package setup

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Aviksaikat/envault/internal/audit"
	"github.com/Aviksaikat/envault/internal/codec"
	"github.com/Aviksaikat/envault/internal/config"
	kerrors "github.com/Aviksaikat/envault/internal/errors"
	"github.com/Aviksaikat/envault/internal/keystore"
	"github.com/Aviksaikat/envault/internal/secure"
	"github.com/Aviksaikat/envault/internal/session"
)

// RotateOptions configures a rotation run.
type RotateOptions struct {
	// Documents lists the sealed documents to re-encrypt. Empty means every
	// document discovered under the project root.
	Documents []string
}

// RotateResult reports a completed rotation.
type RotateResult struct {
	OldIdentifier string
	NewIdentifier string
	Documents     []string
}

// Rotate re-encrypts every document from the old key to a new one, and only
// then promotes the new key to the durable key slot. The new key is staged
// beside the old key (a ".next" vault attachment or a ".new" key file) for
// the whole window, so the old key remains able to open every
// not-yet-rotated document no matter where the process dies.
//
// Any failure before promotion returns ErrRotationIncomplete wrapping the
// cause; the old key and config stay authoritative. The staged key is
// deliberately left in place, since documents resealed before the failure
// already need it, and a retried Rotate resumes with it: the staged key is
// reused instead of generating a fresh one, and documents already sealed
// to it are skipped.
func (o *Orchestrator) Rotate(ctx context.Context, cfg *config.ProjectConfig, opts RotateOptions) (*RotateResult, error) {
	mode, err := keystore.ParseCustodyMode(cfg.Custody.Mode)
	if err != nil {
		return nil, err
	}

	keyPath := o.Settings.KeyFilePath(cfg.Project.UUID)
	store := &keystore.Store{
		KeyPath:    keyPath,
		Vault:      o.Vault,
		Entry:      cfg.Vault.Entry,
		Attachment: session.KeyAttachmentName(cfg),
	}

	oldSecret, err := store.Resolve(ctx, mode)
	if err != nil {
		return nil, err
	}
	defer oldSecret.Close()

	oldIdentifier, err := keystore.IdentifierFromSecret(oldSecret)
	if err != nil {
		return nil, err
	}

	next, staged, err := o.stagedKeypair(ctx, cfg, mode, keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: checking for staged key: %w", kerrors.ErrRotationIncomplete, err)
	}
	if next == nil {
		next, err = keystore.Generate()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", kerrors.ErrRotationIncomplete, err)
		}
	}
	defer next.Close()

	docs := opts.Documents
	if len(docs) == 0 {
		docs, err = FindDocuments(o.Root)
		if err != nil {
			return nil, fmt.Errorf("%w: discovering documents: %w", kerrors.ErrRotationIncomplete, err)
		}
	}

	// Stage the new key before touching any document. A crash from here on
	// leaves both keys durable.
	if !staged {
		if err := o.stageKey(ctx, cfg, mode, keyPath, next); err != nil {
			return nil, fmt.Errorf("%w: staging new key: %w", kerrors.ErrRotationIncomplete, err)
		}
	}

	// On any failure from here the staged key stays put: documents already
	// resealed in this loop need it, and the old key still opens the rest.
	newSecret := next.Secret()
	for _, doc := range docs {
		sealed, err := codec.ReadFile(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", kerrors.ErrRotationIncomplete, doc, err)
		}
		// Already resealed by an earlier interrupted rotation.
		if sealed.Recipient == next.Identifier {
			continue
		}
		if err := codec.Reencrypt(doc, oldSecret, next.Identifier, newSecret); err != nil {
			return nil, fmt.Errorf("%w: re-encrypting %s: %w", kerrors.ErrRotationIncomplete, doc, err)
		}
	}

	// Every document now opens with the new key. Promote it.
	if err := o.promoteKey(ctx, cfg, mode, keyPath, next); err != nil {
		return nil, fmt.Errorf("%w: promoting new key: %w", kerrors.ErrRotationIncomplete, err)
	}

	cfg.SetActiveRecipient(next.Identifier)
	if err := config.SaveProjectConfig(o.Root, cfg); err != nil {
		return nil, fmt.Errorf("%w: updating config: %w", kerrors.ErrRotationIncomplete, err)
	}

	audit.Log(o.Root, audit.Entry{
		Operation:  "rotate",
		Identifier: next.Identifier,
		Custody:    cfg.Custody.Mode,
		Backend:    o.Vault.Name(),
		Documents:  docs,
	})

	return &RotateResult{
		OldIdentifier: oldIdentifier,
		NewIdentifier: next.Identifier,
		Documents:     docs,
	}, nil
}

// AddRecipient registers an additional identifier in the config without
// re-encrypting anything. The new identifier stays inactive until a holder
// of the current key rotates documents to it.
func (o *Orchestrator) AddRecipient(cfg *config.ProjectConfig, identifier string) error {
	if _, err := keystore.PublicFromIdentifier(identifier); err != nil {
		return err
	}
	cfg.AddRecipient(identifier)
	if err := config.SaveProjectConfig(o.Root, cfg); err != nil {
		return err
	}
	audit.Log(o.Root, audit.Entry{
		Operation:  "add-recipient",
		Identifier: identifier,
	})
	return nil
}

// stagedAttachment is the vault slot holding the not-yet-promoted key.
func stagedAttachment(cfg *config.ProjectConfig) string {
	return session.KeyAttachmentName(cfg) + ".next"
}

// stagedKeypair loads the key a previous interrupted rotation left staged,
// if any. Reusing it is what makes rotation resumable: documents the earlier
// attempt already resealed stay readable, and the retry finishes the rest
// instead of dying on them with a fresh keypair.
func (o *Orchestrator) stagedKeypair(ctx context.Context, cfg *config.ProjectConfig, mode keystore.CustodyMode, keyPath string) (*keystore.Keypair, bool, error) {
	var secret *secure.Secret

	if mode == keystore.CustodyOnDisk {
		loaded, err := keystore.LoadKeyFile(keyPath + ".new")
		if errors.Is(err, kerrors.ErrKeyNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		secret = loaded
	} else {
		payload, err := o.Vault.ExportAttachment(ctx, cfg.Vault.Entry, stagedAttachment(cfg))
		if errors.Is(err, kerrors.ErrEntryNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		// unstageKey clears the slot by overwriting it with an empty payload.
		if len(payload) == 0 {
			return nil, false, nil
		}
		secret, err = keystore.DecodePrivatePEM(payload)
		if err != nil {
			return nil, false, err
		}
	}

	kp, err := keystore.FromSecret(secret)
	if err != nil {
		secret.Close()
		return nil, false, err
	}
	return kp, true, nil
}

func (o *Orchestrator) stageKey(ctx context.Context, cfg *config.ProjectConfig, mode keystore.CustodyMode, keyPath string, kp *keystore.Keypair) error {
	if mode == keystore.CustodyOnDisk {
		return keystore.SaveKeyFile(keyPath+".new", kp)
	}

	payload := keystore.EncodePrivatePEM(kp)
	defer secure.Wipe(payload)
	return o.Vault.ImportAttachment(ctx, cfg.Vault.Entry, stagedAttachment(cfg), payload)
}

// unstageKey clears the staging slot after a successful promotion. Best
// effort; a stale staged key is harmless because nothing references it.
func (o *Orchestrator) unstageKey(ctx context.Context, cfg *config.ProjectConfig, mode keystore.CustodyMode, keyPath string) {
	if mode == keystore.CustodyOnDisk {
		os.Remove(keyPath + ".new")
		os.Remove(keyPath + ".new.pub")
		return
	}
	_ = o.Vault.ImportAttachment(ctx, cfg.Vault.Entry, stagedAttachment(cfg), []byte{})
}

// promoteKey makes the staged key the durable key. For disk custody the
// rename is atomic; for vault custody the primary attachment is overwritten
// only after every document already opens with the new key.
func (o *Orchestrator) promoteKey(ctx context.Context, cfg *config.ProjectConfig, mode keystore.CustodyMode, keyPath string, kp *keystore.Keypair) error {
	if mode == keystore.CustodyOnDisk {
		// Refresh the vault backup before touching the key file, so a vault
		// failure here leaves the old key fully in place.
		payload := keystore.EncodePrivatePEM(kp)
		defer secure.Wipe(payload)
		if err := o.Vault.ImportAttachment(ctx, cfg.Vault.Entry, session.KeyAttachmentName(cfg), payload); err != nil {
			return err
		}
		if err := os.Rename(keyPath+".new", keyPath); err != nil {
			return err
		}
		return os.Rename(keyPath+".new.pub", keyPath+".pub")
	}

	payload := keystore.EncodePrivatePEM(kp)
	defer secure.Wipe(payload)
	if err := o.Vault.ImportAttachment(ctx, cfg.Vault.Entry, session.KeyAttachmentName(cfg), payload); err != nil {
		return err
	}
	o.unstageKey(ctx, cfg, mode, keyPath)
	return nil
}
