package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ScheduleParser accepts standard cron expressions with an optional seconds
// field and descriptors such as @daily.
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config represents the application configuration
type Config struct {
	API      APIConfig      `yaml:"api" json:"api"`
	Bedrock  BedrockConfig  `yaml:"bedrock" json:"bedrock"`
	Backup   BackupConfig   `yaml:"backup" json:"backup"`
	Console  ConsoleConfig  `yaml:"console" json:"console"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	SSH      SSHConfig      `yaml:"ssh" json:"ssh"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// APIConfig contains HTTP server settings
type APIConfig struct {
	Enabled bool      `yaml:"enabled" json:"enabled"`
	Host    string    `yaml:"host" json:"host"`
	Port    int       `yaml:"port" json:"port"`
	TLS     TLSConfig `yaml:"tls" json:"tls"`

	// AllowedOrigins lists browser origins accepted by CORS and the console
	// websocket. Requests without an Origin header are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// RateLimitPerMinute caps requests per client IP; 0 disables the limit.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
}

// TLSConfig contains TLS/HTTPS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// BedrockConfig describes the supervised server process.
// The server directory is the directory containing Executable.
type BedrockConfig struct {
	Executable  string `yaml:"executable" json:"executable"`
	AutoStart   bool   `yaml:"auto_start" json:"auto_start"`
	StopTimeout string `yaml:"stop_timeout" json:"stop_timeout"`
	KillTimeout string `yaml:"kill_timeout" json:"kill_timeout"`
}

// BackupConfig contains world backup settings
type BackupConfig struct {
	Timeout        string              `yaml:"timeout" json:"timeout"`
	MaxTimeout     string              `yaml:"max_timeout" json:"max_timeout"` // cap on a per-request timeout
	PollInterval   string              `yaml:"poll_interval" json:"poll_interval"`
	Schedule       string              `yaml:"schedule" json:"schedule"` // cron expression, empty disables
	RetentionCount int                 `yaml:"retention_count" json:"retention_count"`
	Archive        bool                `yaml:"archive" json:"archive"`
	Compression    CompressionConfig   `yaml:"compression" json:"compression"`
	Destinations   []DestinationConfig `yaml:"destinations" json:"destinations"`
}

// CompressionConfig controls archive compression
// Type values: "gzip", "none"
type CompressionConfig struct {
	Type  string `yaml:"type" json:"type"`
	Level int    `yaml:"level" json:"level,omitempty"`
}

// DestinationConfig contains configuration for an offsite backup destination
type DestinationConfig struct {
	Type string `yaml:"type" json:"type"` // "local", "sftp", "s3"
	Path string `yaml:"path" json:"path"`

	// SFTP specific
	Host     string `yaml:"host" json:"host,omitempty"`
	Port     int    `yaml:"port" json:"port,omitempty"`
	Username string `yaml:"username" json:"username,omitempty"`
	Password string `yaml:"password" json:"-"`
	KeyPath  string `yaml:"key_path" json:"key_path,omitempty"`

	// S3 specific
	Bucket    string `yaml:"bucket" json:"bucket,omitempty"`
	Region    string `yaml:"region" json:"region,omitempty"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"` // Optional, for S3-compatible storage
}

// ConsoleConfig contains console history settings
type ConsoleConfig struct {
	HistoryLines int `yaml:"history_lines" json:"history_lines"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// AuthConfig contains API token settings. An empty secret leaves the API open,
// which is only sensible when it listens on loopback.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" json:"-"`
	TokenDuration string `yaml:"token_duration" json:"token_duration"`
}

// SSHConfig contains SSH host key settings for SFTP destinations
type SSHConfig struct {
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	SampleInterval string `yaml:"sample_interval" json:"sample_interval"`
	RetentionDays  int    `yaml:"retention_days" json:"retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,

			RateLimitPerMinute: 120,
		},
		Bedrock: BedrockConfig{
			Executable:  "./server/bedrock_server",
			StopTimeout: "30s",
			KillTimeout: "5s",
		},
		Backup: BackupConfig{
			Timeout:      "30s",
			MaxTimeout:   "5m",
			PollInterval: "2s",
			Compression: CompressionConfig{
				Type:  "gzip",
				Level: 6,
			},
		},
		Console: ConsoleConfig{
			HistoryLines: 1000,
		},
		Database: DatabaseConfig{
			Path: "./data/bedrock-manager.db",
		},
		Auth: AuthConfig{
			TokenDuration: "720h",
		},
		SSH: SSHConfig{
			KnownHostsPath:  "./data/known_hosts",
			TrustOnFirstUse: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			SampleInterval: "15s",
			RetentionDays:  7,
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := Default()

	configPath := GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if executable := os.Getenv("BEDROCK_EXECUTABLE"); executable != "" {
		c.Bedrock.Executable = executable
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.Auth.JWTSecret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bedrock.Executable) == "" {
		return fmt.Errorf("bedrock.executable is required")
	}

	durations := map[string]string{
		"bedrock.stop_timeout": c.Bedrock.StopTimeout,
		"bedrock.kill_timeout": c.Bedrock.KillTimeout,
		"backup.timeout":       c.Backup.Timeout,
		"backup.max_timeout":   c.Backup.MaxTimeout,
		"backup.poll_interval": c.Backup.PollInterval,
		"auth.token_duration":  c.Auth.TokenDuration,
	}
	if c.Metrics.Enabled {
		durations["metrics.sample_interval"] = c.Metrics.SampleInterval
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Backup.Schedule != "" {
		if _, err := ScheduleParser.Parse(c.Backup.Schedule); err != nil {
			return fmt.Errorf("backup.schedule: %w", err)
		}
	}

	if c.Backup.RetentionCount < 0 {
		return fmt.Errorf("backup.retention_count must not be negative")
	}

	for i, dest := range c.Backup.Destinations {
		switch dest.Type {
		case "local", "sftp", "s3":
		default:
			return fmt.Errorf("backup.destinations[%d]: unsupported type %q", i, dest.Type)
		}
	}

	if c.Auth.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be set to a secure value")
	}

	// Check for unexpanded environment variables
	if len(c.Auth.JWTSecret) > 1 && c.Auth.JWTSecret[0] == '$' && c.Auth.JWTSecret[1] == '{' {
		return fmt.Errorf("JWT_SECRET contains unexpanded environment variable")
	}

	if c.API.TLS.Enabled {
		if c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "" {
			return fmt.Errorf("TLS is enabled but cert_file or key_file is missing")
		}
	}

	return nil
}

// ServerDir returns the directory holding the server executable.
func (c *Config) ServerDir() string {
	return filepath.Dir(c.Bedrock.Executable)
}

// StopTimeout returns how long a stop waits for exit before killing.
func (c *Config) StopTimeout() time.Duration { return mustDuration(c.Bedrock.StopTimeout, 30*time.Second) }

// KillTimeout returns how long to wait for exit after a kill.
func (c *Config) KillTimeout() time.Duration { return mustDuration(c.Bedrock.KillTimeout, 5*time.Second) }

// BackupTimeout returns the default upper bound on waiting for the save manifest.
func (c *Config) BackupTimeout() time.Duration { return mustDuration(c.Backup.Timeout, 30*time.Second) }

// BackupMaxTimeout caps the timeout an API caller may ask for. It is never
// below BackupTimeout.
func (c *Config) BackupMaxTimeout() time.Duration {
	limit := mustDuration(c.Backup.MaxTimeout, 5*time.Minute)
	if def := c.BackupTimeout(); limit < def {
		return def
	}
	return limit
}

// BackupPollInterval returns the save query interval.
func (c *Config) BackupPollInterval() time.Duration {
	return mustDuration(c.Backup.PollInterval, 2*time.Second)
}

// TokenDuration returns the lifetime of minted API tokens.
func (c *Config) TokenDuration() time.Duration { return mustDuration(c.Auth.TokenDuration, 720*time.Hour) }
func (c *Config) MetricsSampleInterval() time.Duration {
	return mustDuration(c.Metrics.SampleInterval, 15*time.Second)
}

func mustDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func resolveConfigPath() string {
	candidates := []string{"./config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}
