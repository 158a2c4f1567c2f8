// Package config loads node configuration from, in ascending precedence:
// built-in defaults, an optional bundled TOML file, a discovered YAML
// config file, and ESSENTIAL_-prefixed environment variables. The
// discovery and precedence chain follows the common viper idiom: walk up
// from the working directory looking for a project-local config file,
// then fall back to XDG, then the home directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/essential-labs/essential-node/internal/nodeerr"
)

// Config is the node's recognised configuration option set.
type Config struct {
	DBPath        string `mapstructure:"db_path"`
	ConnPoolSize  int    `mapstructure:"conn_pool_size"`
	Relayer       RelayerConfig
	Validation    ValidationConfig
	Retry         RetryConfig
	LogFilePath   string `mapstructure:"log_file_path"`
	LogDebug      bool   `mapstructure:"log_debug"`
}

type RelayerConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Enabled  bool   `mapstructure:"enabled"`
}

type ValidationConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type RetryConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// InMemoryDBPath is the sentinel recognised by internal/store for an
// ephemeral, process-local database.
const InMemoryDBPath = "in-memory"

// bundledTOML is the name of an optional static config file shipped next
// to a release binary, loaded with BurntSushi/toml before viper's own
// file/env layers are applied, mirroring a packaged binary's defaults.
const bundledTOML = "essential-node.toml"

// Load resolves configuration using the precedence chain documented on
// the package, validates it, and returns it. configFile, if non-empty,
// overrides file discovery (e.g. a --config flag).
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := mergeBundledTOML(v); err != nil {
		return nil, nodeerr.New(nodeerr.Config, "load bundled toml", err)
	}

	switch {
	case configFile != "":
		v.SetConfigFile(configFile)
	default:
		if path, ok := discoverConfigFile(); ok {
			v.SetConfigFile(path)
		}
	}

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, nodeerr.New(nodeerr.Config, "read config file", err)
		}
	}

	v.SetEnvPrefix("ESSENTIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		DBPath:       v.GetString("db_path"),
		ConnPoolSize: v.GetInt("conn_pool_size"),
		Relayer: RelayerConfig{
			Endpoint: v.GetString("relayer.endpoint"),
			Enabled:  v.GetBool("relayer.enabled"),
		},
		Validation: ValidationConfig{
			Enabled: v.GetBool("validation.enabled"),
		},
		Retry: RetryConfig{
			InitialBackoff: v.GetDuration("retry.initial_backoff"),
			MaxBackoff:     v.GetDuration("retry.max_backoff"),
		},
		LogFilePath: v.GetString("log_file_path"),
		LogDebug:    v.GetBool("log_debug"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", InMemoryDBPath)
	v.SetDefault("conn_pool_size", 4)
	v.SetDefault("relayer.endpoint", "")
	v.SetDefault("relayer.enabled", true)
	v.SetDefault("validation.enabled", true)
	v.SetDefault("retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("retry.max_backoff", 30*time.Second)
	v.SetDefault("log_file_path", "")
	v.SetDefault("log_debug", false)
}

// mergeBundledTOML loads essential-node.toml, if present next to the
// binary or in the working directory, as a layer of defaults beneath
// viper's file/env layers.
func mergeBundledTOML(v *viper.Viper) error {
	candidates := []string{bundledTOML}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), bundledTOML))
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var raw map[string]interface{}
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for k, val := range raw {
			// Set table entries key by key so a partial [section] keeps
			// the built-in defaults of the keys it does not mention.
			if sub, ok := val.(map[string]interface{}); ok {
				for sk, sv := range sub {
					v.SetDefault(k+"."+sk, sv)
				}
				continue
			}
			v.SetDefault(k, val)
		}
		return nil
	}
	return nil
}

// discoverConfigFile walks up from the working directory looking for
// .essential-node/config.yaml, then falls back to the user's config and
// home directories.
func discoverConfigFile() (string, bool) {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			candidate := filepath.Join(dir, ".essential-node", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(configDir, "essential-node", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".essential-node", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}

	return "", false
}

func (c *Config) validate() error {
	if c.ConnPoolSize < 1 {
		return nodeerr.New(nodeerr.Config, fmt.Sprintf("conn_pool_size must be >= 1, got %d", c.ConnPoolSize), nil)
	}
	if c.Relayer.Enabled && c.Relayer.Endpoint == "" {
		return nodeerr.New(nodeerr.Config, "relayer.endpoint is required when relayer.enabled is true", nil)
	}
	if c.Retry.InitialBackoff <= 0 {
		return nodeerr.New(nodeerr.Config, "retry.initial_backoff must be positive", nil)
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return nodeerr.New(nodeerr.Config, "retry.max_backoff must be >= retry.initial_backoff", nil)
	}
	return nil
}
