package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the
// configuration file path.
const EnvConfigPath = "GEMPOOL_CONFIG"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pool      PoolConfig      `yaml:"pool"`
	Browser   BrowserConfig   `yaml:"browser"`
	Health    HealthConfig    `yaml:"health"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig controls the HTTP server binding.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "127.0.0.1"
	Port int    `yaml:"port"` // default: 9200
}

// PoolConfig controls pool sizing and timeouts.
type PoolConfig struct {
	// Size is the number of slots (browser tabs).
	Size int `yaml:"size"` // default: 4

	// InactivityTimeoutS is how long a BUSY slot may sit idle before the
	// inactivity monitor auto-releases it.
	InactivityTimeoutS int `yaml:"inactivity_timeout_s"` // default: 300

	// MaxQueueDepth caps the acquire waiting queue.
	MaxQueueDepth int `yaml:"max_queue_depth"` // default: 10
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether Chrome runs headless. The default is false
	// because manual login (email, password, 2FA) needs a visible window.
	Headless bool `yaml:"headless"`

	// ProfileDir is the persistent Chrome profile directory. Cookies and
	// the login session survive restarts through it.
	ProfileDir string `yaml:"profile_dir"` // default: "~/.gempool/user_data"

	// NavigationTimeoutMs bounds a single page navigation.
	NavigationTimeoutMs int `yaml:"navigation_timeout_ms"` // default: 30000

	// NavigationRetries is the number of attempts for target navigation.
	NavigationRetries int `yaml:"navigation_retries"` // default: 3

	// ResponseTimeoutMs bounds the wait for one generated response.
	ResponseTimeoutMs int `yaml:"response_timeout_ms"` // default: 2400000 (40 min)

	// TargetURL is the conversation context all slots navigate to. Point it
	// at a Gem URL to pin every conversation to that Gem.
	TargetURL string `yaml:"target_url"` // default: the base Gemini app

	// PreferredModel is matched (whole word, first line) against the model
	// selector and switched to when the UI defaults elsewhere.
	PreferredModel string `yaml:"preferred_model"` // default: "Pro"

	// MaxFilesPerTurn caps binary uploads per send call.
	MaxFilesPerTurn int `yaml:"max_files_per_turn"` // default: 9
}

// HealthConfig controls the background monitor intervals.
type HealthConfig struct {
	CheckIntervalS           int `yaml:"check_interval_s"`            // default: 60
	InactivityCheckIntervalS int `yaml:"inactivity_check_interval_s"` // default: 30
}

// LoggingConfig controls structured logging and file rotation.
type LoggingConfig struct {
	Dir           string `yaml:"dir"`              // default: "~/.gempool/logs"
	Level         string `yaml:"level"`            // default: "info"
	Format        string `yaml:"format"`           // "json" or "text"; default: "json"
	MaxFileSizeMB int    `yaml:"max_file_size_mb"` // default: 50
	BackupCount   int    `yaml:"backup_count"`     // default: 5
}

// RateLimitConfig controls optional per-client rate limiting on the API.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`             // default: false
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 5
	Burst             int     `yaml:"burst"`               // default: 10
}

// Default returns a Config populated with safe defaults for every section.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 9200,
		},
		Pool: PoolConfig{
			Size:               4,
			InactivityTimeoutS: 300,
			MaxQueueDepth:      10,
		},
		Browser: BrowserConfig{
			Headless:            false,
			ProfileDir:          "~/.gempool/user_data",
			NavigationTimeoutMs: 30_000,
			NavigationRetries:   3,
			ResponseTimeoutMs:   2_400_000,
			TargetURL:           "https://gemini.google.com/app",
			PreferredModel:      "Pro",
			MaxFilesPerTurn:     9,
		},
		Health: HealthConfig{
			CheckIntervalS:           60,
			InactivityCheckIntervalS: 30,
		},
		Logging: LoggingConfig{
			Dir:           "~/.gempool/logs",
			Level:         "info",
			Format:        "json",
			MaxFileSizeMB: 50,
			BackupCount:   5,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 5,
			Burst:             10,
		},
	}
}

// Path returns the configuration file path: the GEMPOOL_CONFIG environment
// variable if set, otherwise "config.yaml" in the working directory.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return "config.yaml"
}

// Load reads configuration from a YAML file. A missing file yields pure
// defaults; a present file overrides only the keys it names.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolvedProfileDir expands a leading ~ in the profile directory.
func (c BrowserConfig) ResolvedProfileDir() string {
	return expandHome(c.ProfileDir)
}

// ResolvedDir expands a leading ~ in the log directory.
func (c LoggingConfig) ResolvedDir() string {
	return expandHome(c.Dir)
}

// NavigationTimeout returns the navigation timeout as a duration.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// ResponseTimeout returns the response timeout as a duration.
func (c BrowserConfig) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMs) * time.Millisecond
}

// InactivityTimeout returns the inactivity timeout as a duration.
func (c PoolConfig) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutS) * time.Second
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/"))
		}
	}
	return p
}
