package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "bidctl"
	defaultConfigFile    = "config.yaml"
	defaultDatabaseFile  = "data.db"
)

func DefaultConfigPath() string {
	if env := os.Getenv("BIDCTL_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(DefaultDataDir(), defaultConfigFile)
}

// DefaultDataDir holds the database and, with file key storage, its key.
func DefaultDataDir() string {
	if env := os.Getenv("BIDCTL_DATA_DIR"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bidctl")
}

func DefaultDatabasePath() string {
	return filepath.Join(DefaultDataDir(), defaultDatabaseFile)
}
