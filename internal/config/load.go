package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

func supportedConfigNames() []string {
	names := make([]string, 0, len(supportedExtensions))
	for _, ext := range supportedExtensions {
		names = append(names, constants.DefaultConfigName+ext)
	}
	return names
}

// FindConfigFile finds a deployctl config file based on the given path.
// It supports:
// - Full path to a config file
// - Directory containing a deployctl config file
// - Empty path: the working directory, then the config directory
//
// An empty path with no config file anywhere returns "" and no error.
func FindConfigFile(path string) (string, error) {
	if path == "" {
		if found, err := findInDir("."); err == nil {
			return found, nil
		}
		if configDir, err := ConfigDir(); err == nil {
			if found, err := findInDir(configDir); err == nil {
				return found, nil
			}
		}
		return "", nil
	}

	absPath, err := filepath.Abs(expandHome(path))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %s", absPath)
	}

	if !stat.IsDir() {
		ext := strings.ToLower(filepath.Ext(absPath))
		if !slices.Contains(supportedExtensions, ext) {
			return "", fmt.Errorf("file %s is not a valid deployctl config file (must be .yaml, .yml, .json or .toml)", absPath)
		}
		return absPath, nil
	}

	return findInDir(absPath)
}

func findInDir(dir string) (string, error) {
	for _, name := range supportedConfigNames() {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return filepath.Abs(candidate)
		}
	}
	return "", fmt.Errorf("no deployctl config file found in directory %s (looking for: %s)",
		dir, strings.Join(supportedConfigNames(), ", "))
}

// Load reads, normalizes and validates the configuration. The returned string is
// the file that was loaded, empty when running on defaults only.
func Load(path string) (*Config, string, error) {
	configFile, err := FindConfigFile(path)
	if err != nil {
		return nil, "", err
	}

	var cfg Config
	if configFile != "" {
		if err := parseFile(configFile, &cfg); err != nil {
			return nil, configFile, err
		}
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		if configFile != "" {
			return nil, configFile, fmt.Errorf("invalid config %s: %w", configFile, err)
		}
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, configFile, nil
}

func parseFile(configFile string, cfg *Config) error {
	format, err := getConfigFormat(configFile)
	if err != nil {
		return err
	}
	parser, err := getConfigParser(format)
	if err != nil {
		return err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(configFile), parser); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}

	decoderConfig := &mapstructure.DecoderConfig{
		TagName:          "koanf",
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			commandDecodeHook(),
		),
	}
	unmarshalConf := koanf.UnmarshalConf{
		Tag:           "koanf",
		DecoderConfig: decoderConfig,
	}
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf); err != nil {
		return fmt.Errorf("failed to unmarshal config %s: %w", configFile, err)
	}
	return nil
}
