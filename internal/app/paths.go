package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	appDirName     = "macrobox"
	dbFileName     = "macrobox.db"
	configFileName = "config.yaml"
	logFileName    = "macrobox.log"
)

func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

func DefaultDBPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbFileName), nil
}

func DefaultConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// DefaultLogPath places the log next to the database file.
func DefaultLogPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "logs", logFileName)
}

func EnsureDBDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	return nil
}
