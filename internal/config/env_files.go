package config

import (
	"path/filepath"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/joho/godotenv"
)

// LoadEnvFiles attempts to load .env files from the working directory and the config directory.
// Does not return an error - just tries to load what it can find. Existing variables win.
func LoadEnvFiles() {
	_ = godotenv.Load(constants.ConfigEnvFileName)

	if configDir, err := ConfigDir(); err == nil {
		configEnvPath := filepath.Join(configDir, constants.ConfigEnvFileName)
		_ = godotenv.Load(configEnvPath)
	}
}
