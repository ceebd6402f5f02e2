package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all process configuration for the logins store and its
// ambient surfaces (admin HTTP listener, dedupe cache, sync chunking).
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// ChunkSize bounds how many guids go into a single SQLite IN-list
	// during batched reads/writes (see internal/logins.Store.WithChunkSize).
	ChunkSize int `mapstructure:"chunk_size"`

	// EnableDedupeCache turns on the pebble-backed read-through accelerator
	// in front of target-equivalence lookups.
	EnableDedupeCache bool `mapstructure:"enable_dedupe_cache"`

	// AdminListen is the address the health/metrics HTTP server binds to.
	// An empty value is passed to net/http unchanged, which then listens on
	// ":http".
	AdminListen string `mapstructure:"admin_listen"`

	// AssociationTokenKey, if non-empty, is the HMAC key used to verify a
	// sync association token passed to the "reset" CLI command. Left empty,
	// association pairs are trusted as given, matching today's behavior.
	AssociationTokenKey string `mapstructure:"association_token_key"`
}

// Load builds a Config from command-line flags, an optional config file, and
// LOGINS_-prefixed environment variables, in that order of increasing
// precedence for unset flags.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("LOGINS")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// No default for data_dir - must be explicitly configured.
	v.SetDefault("log_level", "info")
	v.SetDefault("chunk_size", 500)
	v.SetDefault("enable_dedupe_cache", true)
	v.SetDefault("admin_listen", ":8090")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"data-dir":              "data_dir",
		"log-level":             "log_level",
		"chunk-size":            "chunk_size",
		"enable-dedupe-cache":   "enable_dedupe_cache",
		"admin-listen":          "admin_listen",
		"association-token-key": "association_token_key",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or LOGINS_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if !filepath.IsAbs(cfg.DataDir) {
		abs, err := filepath.Abs(cfg.DataDir)
		if err == nil {
			cfg.DataDir = abs
		}
	}

	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", cfg.ChunkSize)
	}

	return nil
}

// DBPath returns the path to the SQLite database file under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "logins.sqlite")
}
