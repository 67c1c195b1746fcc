package config

import (
	"os"
	"path/filepath"
)

// UserConfigPath returns the path to the user-level config file.
// This follows the XDG Base Directory Specification:
// - Linux: ~/.config/wxflow/config.yml
// - macOS: ~/Library/Application Support/wxflow/config.yml
//
// If XDG_CONFIG_HOME is set, it will be respected on Linux.
func UserConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "wxflow", "config.yml"), nil
}

// ProjectConfigPath returns the path to the project-level config file.
// This is always .wxflow/config.yml relative to the current directory.
func ProjectConfigPath() string {
	return filepath.Join(".wxflow", "config.yml")
}

// LegacyUserConfigPath returns the path to the legacy user-level JSON config file.
// This was the old location: ~/.wxflow/config.json
func LegacyUserConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".wxflow", "config.json"), nil
}
