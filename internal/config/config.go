// Package config loads janus's tunables: embedding batching/timeout, the
// in-memory embedding cache size, watcher debounce, and log level. It
// follows the same layered precedence as the teacher's config package
// (defaults < user config < project config < env vars), trimmed to the
// settings this cache actually has.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the cache consults at startup.
type Config struct {
	Version int `yaml:"version" json:"version"`

	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// EmbeddingsConfig configures the embedding pipeline.
type EmbeddingsConfig struct {
	BatchSize         int     `yaml:"batch_size" json:"batch_size"`
	PerItemTimeoutSec float64 `yaml:"per_item_timeout_seconds" json:"per_item_timeout_seconds"`
}

// CacheConfig holds the embedding-cache settings. MemCacheSize is loaded
// with the rest of the config, but embedcache.New sizes its in-memory LRU
// from embedcache.DefaultMemCacheSize and does not read this field.
type CacheConfig struct {
	MemCacheSize int `yaml:"mem_cache_size" json:"mem_cache_size"`
}

// WatchConfig configures the filesystem watcher's debounce window.
type WatchConfig struct {
	DebounceMillis int `yaml:"debounce_ms" json:"debounce_ms"`
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Embeddings: EmbeddingsConfig{
			BatchSize:         32,
			PerItemTimeoutSec: 2,
		},
		Cache: CacheConfig{
			MemCacheSize: 512,
		},
		Watch: WatchConfig{
			DebounceMillis: 500,
		},
		LogLevel: "info",
	}
}

// GetUserConfigPath returns the user/global configuration file path,
// following the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/janus/config.yaml, if set
//   - ~/.config/janus/config.yaml, otherwise
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "janus", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "janus", "config.yaml")
	}
	return filepath.Join(home, ".config", "janus", "config.yaml")
}

// UserConfigExists reports whether the user configuration file is present.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load resolves configuration for repoRoot in order of increasing
// precedence: hardcoded defaults, the user config, a .janus.yaml in
// repoRoot, then JANUS_* environment variables.
func Load(repoRoot string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(repoRoot); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("load user config from %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(repoRoot string) error {
	for _, name := range []string{".janus.yaml", ".janus.yml"} {
		path := filepath.Join(repoRoot, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.PerItemTimeoutSec != 0 {
		c.Embeddings.PerItemTimeoutSec = other.Embeddings.PerItemTimeoutSec
	}
	if other.Cache.MemCacheSize != 0 {
		c.Cache.MemCacheSize = other.Cache.MemCacheSize
	}
	if other.Watch.DebounceMillis != 0 {
		c.Watch.DebounceMillis = other.Watch.DebounceMillis
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("JANUS_EMBEDDINGS_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.BatchSize = n
		}
	}
	if v := os.Getenv("JANUS_EMBEDDINGS_TIMEOUT_SECONDS"); v != "" {
		if f, err := parseFloat64(v); err == nil && f > 0 {
			c.Embeddings.PerItemTimeoutSec = f
		}
	}
	if v := os.Getenv("JANUS_CACHE_MEM_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.MemCacheSize = n
		}
	}
	if v := os.Getenv("JANUS_WATCH_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Watch.DebounceMillis = n
		}
	}
	if v := os.Getenv("JANUS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Validate rejects a configuration whose values could not produce a
// working store.
func (c *Config) Validate() error {
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.PerItemTimeoutSec <= 0 {
		return fmt.Errorf("embeddings.per_item_timeout_seconds must be positive, got %f", c.Embeddings.PerItemTimeoutSec)
	}
	if c.Cache.MemCacheSize <= 0 {
		return fmt.Errorf("cache.mem_cache_size must be positive, got %d", c.Cache.MemCacheSize)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %s", c.LogLevel)
	}
	return nil
}

// WriteYAML writes the configuration to path as YAML.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FindProjectRoot walks up from startDir looking for a .janus directory,
// a .janus.yaml/.janus.yml file, or a .git directory, and returns the
// first directory containing one. If none is found by the filesystem
// root, startDir (made absolute) is returned as a fallback.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	dir := absDir
	for {
		if dirExists(filepath.Join(dir, ".janus")) {
			return dir, nil
		}
		if fileExists(filepath.Join(dir, ".janus.yaml")) || fileExists(filepath.Join(dir, ".janus.yml")) {
			return dir, nil
		}
		if dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}
