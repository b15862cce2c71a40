package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
)

// ProjectConfig is the declarative state stored at .envault/config.toml.
// It names the project, the active custody mode, the vault backing store,
// and the public identifiers trusted to encrypt new documents. It never
// contains secret material.
type ProjectConfig struct {
	Project    Project         `toml:"project"`
	Custody    Custody         `toml:"custody"`
	Vault      Vault           `toml:"vault"`
	Recipients map[string]bool `toml:"recipients"`
}

type Project struct {
	UUID string `toml:"project_uuid"`
	Name string `toml:"name"`
}

// Custody names where private key material may durably reside.
type Custody struct {
	// Mode is "disk" or "vault".
	Mode string `toml:"mode"`
}

// Vault configures the external attachment store used for key backup and
// the vault-only custody mode.
type Vault struct {
	// Backend selects the adapter: "keepassxc" or "keyring".
	Backend string `toml:"backend"`

	// Database is the vault database path (keepassxc backend only).
	Database string `toml:"database,omitempty"`

	// Entry is the vault entry holding the key attachment.
	Entry string `toml:"entry"`
}

// NewProjectConfig builds the initial configuration written by init.
func NewProjectConfig(name, custodyMode, vaultBackend, vaultDatabase string) *ProjectConfig {
	id := uuid.New().String()
	return &ProjectConfig{
		Project: Project{
			UUID: id,
			Name: name,
		},
		Custody: Custody{Mode: custodyMode},
		Vault: Vault{
			Backend:  vaultBackend,
			Database: vaultDatabase,
			Entry:    "envault/" + id,
		},
		Recipients: make(map[string]bool),
	}
}

// ConfigPath returns the project config location under root.
func ConfigPath(root string) string {
	return filepath.Join(root, MarkerDir, "config.toml")
}

// LoadProjectConfig reads the project config from root. A missing file is
// ErrProjectNotInitialized; a malformed one is ErrInvalidProjectConfig.
func LoadProjectConfig(root string) (*ProjectConfig, error) {
	path := ConfigPath(root)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, kerrors.ErrProjectNotInitialized
	}

	cfg := &ProjectConfig{
		Recipients: make(map[string]bool),
	}
	if err := LoadTOML(path, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidProjectConfig, err)
	}
	if cfg.Project.UUID == "" {
		return nil, fmt.Errorf("%w: missing project UUID", kerrors.ErrInvalidProjectConfig)
	}

	return cfg, nil
}

// SaveProjectConfig writes the project config under root.
func SaveProjectConfig(root string, cfg *ProjectConfig) error {
	if err := SaveTOML(ConfigPath(root), cfg); err != nil {
		return fmt.Errorf("saving project config: %w", err)
	}
	return nil
}

// ActiveRecipient returns the single identifier currently authorized to
// encrypt new documents.
func (c *ProjectConfig) ActiveRecipient() (string, error) {
	var active []string
	for id, on := range c.Recipients {
		if on {
			active = append(active, id)
		}
	}
	switch len(active) {
	case 0:
		return "", fmt.Errorf("%w: no active recipient", kerrors.ErrInvalidProjectConfig)
	case 1:
		return active[0], nil
	default:
		return "", fmt.Errorf("%w: %d recipients active for encryption, want exactly 1", kerrors.ErrInvalidProjectConfig, len(active))
	}
}

// SetActiveRecipient registers identifier as the sole encryption target.
// Previously active identifiers remain listed but inactive, preserving the
// record of keys documents may still be sealed under mid-rotation.
func (c *ProjectConfig) SetActiveRecipient(identifier string) {
	if c.Recipients == nil {
		c.Recipients = make(map[string]bool)
	}
	for id := range c.Recipients {
		c.Recipients[id] = false
	}
	c.Recipients[identifier] = true
}

// AddRecipient records an identifier without changing which one is active.
func (c *ProjectConfig) AddRecipient(identifier string) {
	if c.Recipients == nil {
		c.Recipients = make(map[string]bool)
	}
	if _, exists := c.Recipients[identifier]; !exists {
		c.Recipients[identifier] = false
	}
}
