package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// MarkerDir is the project directory holding envault configuration and
	// non-secret metadata. It is created by `envault init`.
	MarkerDir = ".envault"

	// EnvKeyFile overrides the on-disk private key location for the disk
	// custody mode.
	EnvKeyFile = "ENVAULT_KEY_FILE"

	// DocumentSuffix marks sealed secret documents.
	DocumentSuffix = ".envault"
)

// UserSettings holds the per-user filesystem layout outside any project.
type UserSettings struct {
	KeysPath    string // private key files, one per project
	ConfigsPath string // user-level config
	DataPath    string // default vault database location
}

// LoadUserSettings computes the user layout from the environment. Paths
// follow the XDG conventions: config under os.UserConfigDir, data under
// XDG_DATA_HOME or ~/.local/share.
func LoadUserSettings() (*UserSettings, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting config directory: %w", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return &UserSettings{
		KeysPath:    filepath.Join(dataDir, "envault", "keys"),
		ConfigsPath: filepath.Join(configDir, "envault"),
		DataPath:    filepath.Join(dataDir, "envault"),
	}, nil
}

// KeyFilePath resolves the on-disk private key location for a project:
// the ENVAULT_KEY_FILE environment variable when set, otherwise the
// per-project file under the user's key directory.
func (s *UserSettings) KeyFilePath(projectUUID string) string {
	if p := os.Getenv(EnvKeyFile); p != "" {
		return p
	}
	return filepath.Join(s.KeysPath, projectUUID+".key")
}

// DefaultVaultPath is the vault database location used when the project
// config does not name one.
func (s *UserSettings) DefaultVaultPath() string {
	return filepath.Join(s.DataPath, "vault.kdbx")
}

// FindProjectRoot walks up from dir looking for the MarkerDir. It returns
// the empty string when no envault project contains dir.
func FindProjectRoot(dir string) (string, error) {
	current, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	for {
		info, err := os.Stat(filepath.Join(current, MarkerDir))
		if err == nil && info.IsDir() {
			return current, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("checking %s: %w", current, err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil
		}
		current = parent
	}
}
