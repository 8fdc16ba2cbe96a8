// Package config loads engine configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/query"
	"github.com/Aman-CERP/nrtindex/internal/store"
)

// Config is the engine configuration document.
type Config struct {
	Version int `yaml:"version"`

	Engine  EngineConfig      `yaml:"engine"`
	Storage StorageConfig     `yaml:"storage"`
	Parser  map[string]string `yaml:"parser,omitempty"`
	Logging LoggingConfig     `yaml:"logging"`
}

// EngineConfig tunes the NRT controller and the query path.
type EngineConfig struct {
	// ReopenMaxStale bounds how long a submitted write may stay invisible
	// when nobody is waiting for it.
	ReopenMaxStale string `yaml:"reopen_max_stale"`
	// ReopenMinInterval is the minimum gap between reopens triggered by waiting readers.
	ReopenMinInterval string `yaml:"reopen_min_interval"`
	// AcquireTimeout caps how long a reader waits for its generation before
	// falling back to a stale view.
	AcquireTimeout string `yaml:"acquire_timeout"`
	// PageSize is the number of hits fetched per result page.
	PageSize int `yaml:"page_size"`
	// QueryCacheSize is the capacity of the parsed-query LRU cache. 0 disables it.
	QueryCacheSize int `yaml:"query_cache_size"`
	// FacetTopN is the number of labels returned per facet dimension.
	FacetTopN int `yaml:"facet_top_n"`
}

// StorageConfig locates indexes on disk.
type StorageConfig struct {
	// BaseDir holds one directory per index. Empty keeps indexes in memory.
	BaseDir string `yaml:"base_dir"`
	// Analyzer is the default analyzer when index metadata names none.
	Analyzer string `yaml:"analyzer"`
	// LockTimeout bounds the wait for another process's directory lock.
	LockTimeout string `yaml:"lock_timeout"`
}

// LoggingConfig mirrors logging.Config in YAML form.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	FilePath  string `yaml:"file_path,omitempty"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Engine: EngineConfig{
			ReopenMaxStale:    "60s",
			ReopenMinInterval: "100ms",
			AcquireTimeout:    "10s",
			PageSize:          100,
			QueryCacheSize:    256,
			FacetTopN:         10,
		},
		Storage: StorageConfig{
			BaseDir:     DefaultBaseDir(),
			Analyzer:    "standard",
			LockTimeout: "5s",
		},
		Parser: map[string]string{},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultBaseDir returns ~/.nrtindex/indexes.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".nrtindex", "indexes")
	}
	return filepath.Join(home, ".nrtindex", "indexes")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/nrtindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/nrtindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nrtindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "nrtindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "nrtindex", "config.yaml")
}

// Load builds the configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. The YAML file at path, or the user config file when path is empty
//  3. Environment variables (NRTINDEX_*)
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	explicit := path != ""
	if !explicit {
		path = GetUserConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if explicit {
		return nil, ixerrors.New(ixerrors.ErrCodeConfigNotFound, "config file not found: "+path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return ixerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Engine.ReopenMaxStale != "" {
		c.Engine.ReopenMaxStale = other.Engine.ReopenMaxStale
	}
	if other.Engine.ReopenMinInterval != "" {
		c.Engine.ReopenMinInterval = other.Engine.ReopenMinInterval
	}
	if other.Engine.AcquireTimeout != "" {
		c.Engine.AcquireTimeout = other.Engine.AcquireTimeout
	}
	if other.Engine.PageSize != 0 {
		c.Engine.PageSize = other.Engine.PageSize
	}
	if other.Engine.QueryCacheSize != 0 {
		c.Engine.QueryCacheSize = other.Engine.QueryCacheSize
	}
	if other.Engine.FacetTopN != 0 {
		c.Engine.FacetTopN = other.Engine.FacetTopN
	}

	if other.Storage.BaseDir != "" {
		c.Storage.BaseDir = other.Storage.BaseDir
	}
	if other.Storage.Analyzer != "" {
		c.Storage.Analyzer = other.Storage.Analyzer
	}
	if other.Storage.LockTimeout != "" {
		c.Storage.LockTimeout = other.Storage.LockTimeout
	}

	for k, v := range other.Parser {
		c.Parser[strings.ToLower(k)] = v
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NRTINDEX_BASE_DIR"); v != "" {
		c.Storage.BaseDir = v
	}
	if v := os.Getenv("NRTINDEX_ANALYZER"); v != "" {
		c.Storage.Analyzer = v
	}
	if v := os.Getenv("NRTINDEX_REOPEN_MAX_STALE"); v != "" {
		c.Engine.ReopenMaxStale = v
	}
	if v := os.Getenv("NRTINDEX_REOPEN_MIN_INTERVAL"); v != "" {
		c.Engine.ReopenMinInterval = v
	}
	if v := os.Getenv("NRTINDEX_ACQUIRE_TIMEOUT"); v != "" {
		c.Engine.AcquireTimeout = v
	}
	if v := os.Getenv("NRTINDEX_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.PageSize = n
		}
	}
	if v := os.Getenv("NRTINDEX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks every field, parsing durations, the analyzer name and
// parser defaults eagerly.
func (c *Config) Validate() error {
	durations := []struct {
		name  string
		value string
	}{
		{"engine.reopen_max_stale", c.Engine.ReopenMaxStale},
		{"engine.reopen_min_interval", c.Engine.ReopenMinInterval},
		{"engine.acquire_timeout", c.Engine.AcquireTimeout},
		{"storage.lock_timeout", c.Storage.LockTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return ixerrors.ConfigError(fmt.Sprintf("%s must be a duration, got %q", d.name, d.value), err)
		}
		if v < 0 {
			return ixerrors.ConfigError(fmt.Sprintf("%s must be non-negative, got %s", d.name, d.value), nil)
		}
	}

	if c.MaxStale() <= 0 {
		return ixerrors.ConfigError("engine.reopen_max_stale must be positive", nil)
	}
	if c.MinInterval() > c.MaxStale() {
		return ixerrors.ConfigError("engine.reopen_min_interval must not exceed engine.reopen_max_stale", nil)
	}
	if c.Engine.PageSize <= 0 {
		return ixerrors.ConfigError(fmt.Sprintf("engine.page_size must be positive, got %d", c.Engine.PageSize), nil)
	}
	if c.Engine.QueryCacheSize < 0 {
		return ixerrors.ConfigError(fmt.Sprintf("engine.query_cache_size must be non-negative, got %d", c.Engine.QueryCacheSize), nil)
	}
	if c.Engine.FacetTopN <= 0 {
		return ixerrors.ConfigError(fmt.Sprintf("engine.facet_top_n must be positive, got %d", c.Engine.FacetTopN), nil)
	}

	if _, err := store.ResolveAnalyzer(c.Storage.Analyzer); err != nil {
		return err
	}
	if _, err := query.ParseOptions(query.StringOptions(c.Parser), query.DefaultParserOptions()); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return ixerrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}
	return nil
}

// MaxStale returns engine.reopen_max_stale. Call after Validate.
func (c *Config) MaxStale() time.Duration { return mustDuration(c.Engine.ReopenMaxStale) }

// MinInterval returns engine.reopen_min_interval. Call after Validate.
func (c *Config) MinInterval() time.Duration { return mustDuration(c.Engine.ReopenMinInterval) }

// AcquireTimeout returns engine.acquire_timeout. Call after Validate.
func (c *Config) AcquireTimeout() time.Duration { return mustDuration(c.Engine.AcquireTimeout) }

// LockTimeout returns storage.lock_timeout. Call after Validate.
func (c *Config) LockTimeout() time.Duration { return mustDuration(c.Storage.LockTimeout) }

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
