// Package config handles configuration loading and validation for codegraph.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigFile is the default configuration file name (without extension).
	DefaultConfigFile = ".codegraph"
	// DefaultConfigType is the default configuration file type.
	DefaultConfigType = "yaml"
	// EnvPrefix prefixes every environment variable, e.g. CODEGRAPH_DB.
	EnvPrefix = "CODEGRAPH"

	DefaultDatabase  = "codegraph-db"
	DefaultCacheSize = 10000
	DefaultDebounce  = 500 * time.Millisecond
)

// DefaultPackages is the package filter list applied when none is given.
var DefaultPackages = []string{"sun", "com.sun"}

// ErrArgument marks invalid or missing command-line arguments.
var ErrArgument = errors.New("invalid argument")

// Config holds all configuration for codegraph.
type Config struct {
	// Database is the directory of the graph store.
	Database string `mapstructure:"db" yaml:"db" toml:"db"`
	// Reset wipes the whole store before loading.
	Reset bool `mapstructure:"reset" yaml:"reset" toml:"reset"`
	// Archive identifies the archive to load.
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive" toml:"archive"`
	// Packages are package prefixes to filter. They are reported but not applied.
	Packages []string `mapstructure:"packages" yaml:"packages" toml:"packages"`
	// CacheSize bounds the identity cache; zero disables it.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size" toml:"cache_size"`
	// Verbose enables progress logging.
	Verbose bool `mapstructure:"verbose" yaml:"verbose" toml:"verbose"`
	// Watch contains watch mode configuration.
	Watch WatchConfig `mapstructure:"watch" yaml:"watch" toml:"watch"`
}

// ArchiveConfig holds the archive path and its coordinates.
type ArchiveConfig struct {
	File       string `mapstructure:"file" yaml:"file" toml:"file"`
	GroupID    string `mapstructure:"group_id" yaml:"group_id" toml:"group_id"`
	ArtifactID string `mapstructure:"artifact_id" yaml:"artifact_id" toml:"artifact_id"`
	Version    string `mapstructure:"version" yaml:"version" toml:"version"`
}

// WatchConfig holds watch mode configuration.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" toml:"debounce"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"db":          "db",
	"reset":       "reset",
	"file":        "archive.file",
	"group-id":    "archive.group_id",
	"artifact-id": "archive.artifact_id",
	"version":     "archive.version",
	"packages":    "packages",
	"cache-size":  "cache_size",
	"verbose":     "verbose",
	"debounce":    "watch.debounce",
}

// Load builds the configuration from defaults, the config file, environment
// variables and the given flags, in increasing order of precedence. flags
// may be nil. A flag named "config" selects the config file explicitly.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(DefaultConfigFile)
		v.SetConfigType(DefaultConfigType)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable for loading an archive.
func (c *Config) Validate() error {
	if c.Archive.File == "" {
		return fmt.Errorf("%w: an archive file is required (--file)", ErrArgument)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: a database directory is required (--db)", ErrArgument)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cache size must not be negative, got %d", ErrArgument, c.CacheSize)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("%w: watch debounce must not be negative, got %s", ErrArgument, c.Watch.Debounce)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db", DefaultDatabase)
	v.SetDefault("reset", false)
	v.SetDefault("archive.file", "")
	v.SetDefault("archive.group_id", "")
	v.SetDefault("archive.artifact_id", "")
	v.SetDefault("archive.version", "")
	v.SetDefault("packages", DefaultPackages)
	v.SetDefault("cache_size", DefaultCacheSize)
	v.SetDefault("verbose", false)
	v.SetDefault("watch.debounce", DefaultDebounce)
}
