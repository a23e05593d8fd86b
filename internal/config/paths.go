package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jinzoro/syseng-scripts/internal/constants"
)

// DefaultRootDir returns the deployments root. DEPLOYCTL_ROOT overrides the built-in default.
func DefaultRootDir() string {
	if envPath, ok := os.LookupEnv(constants.EnvVarRoot); ok && envPath != "" {
		return expandHome(envPath)
	}
	return constants.DefaultRootDir
}

// ConfigDir returns the deployctl configuration directory.
func ConfigDir() (string, error) {
	if envPath, ok := os.LookupEnv(constants.EnvVarConfigDir); ok && envPath != "" {
		return expandHome(envPath), nil
	}
	if os.Geteuid() == 0 {
		return filepath.Join("/etc", constants.ConfigDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", constants.ConfigDirName), nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
