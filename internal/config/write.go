package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v3"
)

// Marshal renders cfg as "yaml" or "toml".
func Marshal(cfg *Config, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return yaml.Marshal(cfg)
	case "toml":
		return toml.Marshal(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown format %q (want yaml or toml)", ErrArgument, format)
	}
}

// WriteConfig serializes cfg to path, as TOML if the path ends in .toml and
// as YAML otherwise.
func WriteConfig(cfg *Config, path string) error {
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	data, err := Marshal(cfg, format)
	if err != nil {
		return err
	}
	content := "# codegraph configuration\n" + string(data)
	return os.WriteFile(path, []byte(content), 0644)
}
