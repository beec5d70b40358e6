package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Limiter scopes accepted by rate_limit.scope.
const (
	ScopeClient  = "client"
	ScopeBatch   = "batch"
	ScopeProcess = "process"
)

// API contains connection settings for the breach search endpoint.
type API struct {
	BaseURL               string `toml:"base_url"`
	UserAgent             string `toml:"user_agent"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// RateLimit controls request pacing.
type RateLimit struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
	// Scope selects who shares one pacing baseline: "client", "batch", or "process".
	Scope string `toml:"scope"`
}

// Retry controls recovery from transient failures and HTTP 429 responses.
type Retry struct {
	MaxAttempts              int `toml:"max_attempts"`
	RetryDelaySeconds        int `toml:"retry_delay_seconds"`
	RateLimitCooldownSeconds int `toml:"rate_limit_cooldown_seconds"`
	MaxRateLimitRetries      int `toml:"max_rate_limit_retries"`
	MaxRateLimitWaitSeconds  int `toml:"max_rate_limit_wait_seconds"`
}

// Search contains defaults applied to lookup requests.
type Search struct {
	DefaultFields []string `toml:"default_fields"`
}

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Journal controls the run history database.
type Journal struct {
	Enabled bool `toml:"enabled"`
	// ExclusiveRuns holds a lock in the state directory so only one search runs at a time.
	ExclusiveRuns bool `toml:"exclusive_runs"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for breachvip.
//
// Configuration sections by subsystem:
//   - API: endpoint, user agent, and per-request timeout
//   - RateLimit: requests per minute and limiter sharing scope
//   - Retry: attempt budget, linear backoff, and 429 cooldown
//   - Search: defaults applied to lookup requests
//   - Paths: state and log directories
//   - Journal: run history database
//   - Logging: log format and level
type Config struct {
	API       API       `toml:"api"`
	RateLimit RateLimit `toml:"rate_limit"`
	Retry     Retry     `toml:"retry"`
	Search    Search    `toml:"search"`
	Paths     Paths     `toml:"paths"`
	Journal   Journal   `toml:"journal"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("breachvip.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath returns the location of the run history database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "runs.db")
}

// LockPath returns the location of the single-run lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "search.lock")
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeoutSeconds) * time.Second
}

// MinInterval returns the minimum spacing between two API requests.
func (c *Config) MinInterval() time.Duration {
	if c.RateLimit.RequestsPerMinute <= 0 {
		return 0
	}
	return time.Minute / time.Duration(c.RateLimit.RequestsPerMinute)
}

// RetryDelay returns the base delay of the linear network backoff.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.RetryDelaySeconds) * time.Second
}

// RateLimitCooldown returns the wait applied after an HTTP 429 without Retry-After.
func (c *Config) RateLimitCooldown() time.Duration {
	return time.Duration(c.Retry.RateLimitCooldownSeconds) * time.Second
}

// MaxRateLimitWait caps a server-requested Retry-After. Zero falls back to the
// cooldown.
func (c *Config) MaxRateLimitWait() time.Duration {
	return time.Duration(c.Retry.MaxRateLimitWaitSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}
