package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
)

var (
	supportedExtensions = []string{".yaml", ".yml", ".json", ".toml"}
)

func getConfigFormat(configFile string) (string, error) {
	ext := strings.ToLower(filepath.Ext(configFile))
	switch ext {
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	default:
		return "", fmt.Errorf("unsupported config file type: %s", ext)
	}
}

func getConfigParser(format string) (koanf.Parser, error) {
	switch format {
	case "json":
		return json.Parser(), nil
	case "yaml":
		return yaml.Parser(), nil
	case "toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
}

// commandDecodeHook lets `command` be written either as a list or as a single
// whitespace-separated string.
func commandDecodeHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf([]string{}) || f.Kind() != reflect.String {
			return data, nil
		}
		return strings.Fields(data.(string)), nil
	}
}
