// ABOUTME: Configuration loading and parsing for swarmdeck
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete swarmdeck configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DiscoveryConfig holds process scan configuration
type DiscoveryConfig struct {
	// Executable is the binary name scanned for, matched exactly against argv[0]'s base name
	Executable string `yaml:"executable"`
}

// SessionsConfig holds session log watching configuration
type SessionsConfig struct {
	// WatchDirs are the directories observed for .jsonl session logs.
	// Missing directories disable watching rather than failing startup.
	WatchDirs []string `yaml:"watch_dirs"`
}

// MonitorConfig holds liveness sweep timing configuration
type MonitorConfig struct {
	CleanupInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with all defaults applied, suitable for
// running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for any field left unset
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":4113"
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDataPath("swarmdeck.db")
	}
	if c.Discovery.Executable == "" {
		c.Discovery.Executable = "claude"
	}
	if len(c.Sessions.WatchDirs) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			c.Sessions.WatchDirs = []string{filepath.Join(home, ".claude", "projects")}
		}
	}
	if c.Monitor.CleanupInterval == 0 {
		c.Monitor.CleanupInterval = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// defaultDataPath returns a path under the user's data directory, falling back
// to the current directory when no home is available.
func defaultDataPath(name string) string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "swarmdeck", name)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "swarmdeck", name)
	}
	return name
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Discovery.Executable == "" {
		return fmt.Errorf("discovery.executable is required")
	}

	if err := ValidateCleanupInterval(c.Monitor.CleanupInterval); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", c.Logging.Format)
	}

	return nil
}

// ValidateCleanupInterval enforces the accepted sweep interval range.
// Runtime reconfiguration goes through the same check.
func ValidateCleanupInterval(d time.Duration) error {
	if d < time.Second || d > 300*time.Second {
		return fmt.Errorf("monitor.cleanup_interval must be between 1s and 300s, got %s", d)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Monitor.CleanupIntervalRaw != "" {
		cfg.Monitor.CleanupInterval, err = time.ParseDuration(cfg.Monitor.CleanupIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing cleanup_interval %q: %w", cfg.Monitor.CleanupIntervalRaw, err)
		}
	}

	return nil
}
