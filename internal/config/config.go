package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/AI2HU/fbads/internal/models"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig    `yaml:"server"`
	Backend       BackendConfig   `yaml:"backend"`
	SQLDatabase   DatabaseConfig  `yaml:"sql_database"`   // SQLite for tasks and saved ad configs
	NoSQLDatabase DatabaseConfig  `yaml:"nosql_database"` // MongoDB for the task event archive
	Uploads       UploadConfig    `yaml:"uploads"`
	Tasks         TaskConfig      `yaml:"tasks"`
	Logging       LoggingConfig   `yaml:"logging"`
	AdDefaults    models.AdConfig `yaml:"ad_defaults"`
}

// ServerConfig configures the console HTTP listener
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	CORSOrigin    string `yaml:"cors_origin,omitempty"`
	SessionCookie string `yaml:"session_cookie"`
}

// BackendConfig points at the campaign orchestration service
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	PushURL        string        `yaml:"push_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second
	RateBurst      int           `yaml:"rate_burst"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Provider string            `yaml:"provider"` // sqlite, mongodb, memory
	URI      string            `yaml:"uri"`
	Database string            `yaml:"database"`
	Options  map[string]string `yaml:"options,omitempty"`
}

// UploadConfig bounds what a single submission may carry
type UploadConfig struct {
	SpoolDir string `yaml:"spool_dir"`
	MaxBytes int64  `yaml:"max_bytes"`
	MaxFiles int    `yaml:"max_files"`
}

// TaskConfig controls housekeeping of tracked tasks
type TaskConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	ReapSchedule  string        `yaml:"reap_schedule"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
	SessionIdle   time.Duration `yaml:"session_idle"`
}

// LoggingConfig selects the log level
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          "8990",
			SessionCookie: "fbads_session",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:5000",
			PushURL:        "ws://localhost:5000/push",
			Timeout:        10 * time.Minute,
			RateLimit:      5,
			RateBurst:      5,
			ReconnectDelay: 5 * time.Second,
		},
		SQLDatabase: DatabaseConfig{
			Provider: "sqlite",
			URI:      "fbads.db",
			Database: "fbads",
		},
		NoSQLDatabase: DatabaseConfig{
			Provider: "memory",
			URI:      "mongodb://localhost:27017",
			Database: "fbads",
		},
		Uploads: UploadConfig{
			SpoolDir: filepath.Join(os.TempDir(), "fbads-uploads"),
			MaxBytes: 2 << 30,
			MaxFiles: 500,
		},
		Tasks: TaskConfig{
			StaleAfter:    30 * time.Minute,
			ReapSchedule:  "@every 1m",
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "@daily",
			SessionIdle:   24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnvOverrides()
	return config, nil
}

// ApplyEnvOverrides lets the environment win over the file
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FBADS_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("FBADS_PUSH_URL"); v != "" {
		c.Backend.PushURL = v
	}
	if v := os.Getenv("FBADS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if err := validateURL(c.Backend.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if err := validateURL(c.Backend.PushURL, "ws", "wss"); err != nil {
		return fmt.Errorf("backend.push_url: %w", err)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Backend.RateLimit <= 0 || c.Backend.RateBurst <= 0 {
		return fmt.Errorf("backend.rate_limit and backend.rate_burst must be positive")
	}
	if c.Uploads.MaxBytes <= 0 || c.Uploads.MaxFiles <= 0 {
		return fmt.Errorf("uploads.max_bytes and uploads.max_files must be positive")
	}
	if c.Tasks.StaleAfter <= 0 || c.Tasks.Retention <= 0 {
		return fmt.Errorf("tasks.stale_after and tasks.retention must be positive")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"tasks.reap_schedule":  c.Tasks.ReapSchedule,
		"tasks.prune_schedule": c.Tasks.PruneSchedule,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: invalid cron expression %q: %w", name, spec, err)
		}
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("must be an absolute %v URL, got %q", schemes, raw)
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path, honouring FBADS_CONFIG_PATH
func GetConfigPath() string {
	if envPath := os.Getenv("FBADS_CONFIG_PATH"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fbads/config.yaml"
	}
	return filepath.Join(home, ".fbads", "config.yaml")
}

// Exists checks if config file exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
