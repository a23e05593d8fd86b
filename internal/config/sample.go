package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// sampleDocument is the starting config written by `deployctl init`. Durations are
// kept as strings so every format round-trips through the duration decode hook.
func sampleDocument(rootDir string) map[string]any {
	return map[string]any{
		"root_dir":         rootDir,
		"controller":       constants.DefaultController,
		"deploy_timeout":   constants.DefaultDeployTimeout.String(),
		"rollback_timeout": constants.DefaultRollbackTimeout.String(),
		"defaults": map[string]any{
			"health": map[string]any{
				"attempts":      constants.DefaultHealthAttempts,
				"interval":      constants.DefaultHealthInterval.String(),
				"probe_timeout": constants.DefaultProbeTimeout.String(),
			},
			"retention": map[string]any{
				"versions": constants.DefaultVersionsToKeep,
				"backups":  constants.DefaultBackupsToKeep,
			},
			"activation": map[string]any{
				"settle_delay": constants.DefaultSettleDelay.String(),
				"stop_timeout": constants.DefaultStopTimeout.String(),
			},
			"rollback": true,
		},
		"services": map[string]any{
			"example": map[string]any{
				"command":     []string{"./bin/example", "--port", "8080"},
				"artifact":    "/srv/artifacts/{service}-{version}.tar.gz",
				"extract":     true,
				"config_file": "/etc/{service}/config.yaml",
				"health": map[string]any{
					"url": "http://127.0.0.1:8080/healthz",
				},
			},
		},
		"log": map[string]any{
			"level":  "info",
			"format": "auto",
		},
	}
}

// WriteSample writes a sample configuration in the format implied by the file extension.
func WriteSample(path, rootDir string, overwrite bool) error {
	format, err := getConfigFormat(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	doc := sampleDocument(rootDir)
	var data []byte
	switch format {
	case "json":
		data, err = json.MarshalIndent(doc, "", "  ")
	case "toml":
		data, err = toml.Marshal(doc)
	default:
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal sample config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), constants.ModeDirDefault); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, constants.ModeFileDefault)
}
