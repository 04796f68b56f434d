// Package config handles configuration loading for mergefetch.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Staleness StalenessConfig `mapstructure:"staleness" yaml:"staleness"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// ServerConfig holds remote data provider settings.
type ServerConfig struct {
	URL            string  `mapstructure:"url"              yaml:"url"`              // e.g., "https://ftp.cptec.inpe.br"
	Mode           string  `mapstructure:"mode"             yaml:"mode"`             // "update", "force" or "no_update"
	Retries        int     `mapstructure:"retries"          yaml:"retries"`          // attempts per download
	TimeoutSec     int     `mapstructure:"timeout_sec"      yaml:"timeout_sec"`      // per-request timeout
	RequestsPerSec float64 `mapstructure:"requests_per_sec" yaml:"requests_per_sec"` // polite pacing toward the provider
}

// StorageConfig holds the local artifact store settings.
type StorageConfig struct {
	Folder string `mapstructure:"folder" yaml:"folder"` // root of the local artifact store
}

// StalenessConfig holds the thresholds of the artifact staleness policy.
// These are tunable constants, not invariants.
type StalenessConfig struct {
	RetryBackoffMin int `mapstructure:"retry_backoff_min" yaml:"retry_backoff_min"` // min between recompute attempts of an incomplete period
	RefreshAgeHours int `mapstructure:"refresh_age_hours" yaml:"refresh_age_hours"` // age after which a complete artifact is refreshed
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "json" or "console"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.mergefetch/config.yaml (home directory)
//  3. /etc/mergefetch/config.yaml (system)
//
// Environment variables override config file values.
// Format: MERGEFETCH_<SECTION>_<KEY>, e.g., MERGEFETCH_STORAGE_FOLDER
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(Dir())
	v.AddConfigPath("/etc/mergefetch")

	v.SetEnvPrefix("MERGEFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — use defaults + env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("MERGEFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration as YAML to path, creating the parent
// directory if needed. Used by the init command.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	v := viper.New()
	v.Set("server.url", cfg.Server.URL)
	v.Set("server.mode", cfg.Server.Mode)
	v.Set("server.retries", cfg.Server.Retries)
	v.Set("server.timeout_sec", cfg.Server.TimeoutSec)
	v.Set("server.requests_per_sec", cfg.Server.RequestsPerSec)
	v.Set("storage.folder", cfg.Storage.Folder)
	v.Set("staleness.retry_backoff_min", cfg.Staleness.RetryBackoffMin)
	v.Set("staleness.refresh_age_hours", cfg.Staleness.RefreshAgeHours)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.format", cfg.Logging.Format)

	return v.WriteConfigAs(path)
}

// Dir returns the per-user configuration directory.
func Dir() string {
	return filepath.Join(homeDir(), ".mergefetch")
}

func setDefaults(v *viper.Viper) {
	// Remote provider defaults (INPE's HTTP front of the MERGE FTP tree).
	v.SetDefault("server.url", "https://ftp.cptec.inpe.br")
	v.SetDefault("server.mode", "update")
	v.SetDefault("server.retries", 5)
	v.SetDefault("server.timeout_sec", 60)
	v.SetDefault("server.requests_per_sec", 4.0)

	v.SetDefault("storage.folder", filepath.Join(homeDir(), ".mergefetch", "data"))

	v.SetDefault("staleness.retry_backoff_min", 30)
	v.SetDefault("staleness.refresh_age_hours", 48)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
