package appdirs

import (
	"os"
	"path/filepath"
)

const (
	appDirName = "smolpc-gimp"
)

func DataDir() (string, error) {
	if override := os.Getenv("SMOLPC_DATA_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

func HistoryPath(dataDir string) string {
	return filepath.Join(dataDir, "history.db")
}

// EnvPath is the .env file read at startup next to config.toml.
func EnvPath(dataDir string) string {
	return filepath.Join(dataDir, ".env")
}
