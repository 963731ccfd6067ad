// ABOUTME: Configuration loading and parsing for the inbox gateway
// ABOUTME: Supports YAML or TOML files, .env loading, ${VAR} expansion and INBOX_* overrides

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for environment overrides (INBOX_DATABASE_PATH, ...)
const envPrefix = "INBOX"

// Defaults applied when a value is absent from the file
const (
	DefaultSubscriberBuffer = 64
	DefaultPingInterval     = 30 * time.Second
	DefaultHistoryLimit     = 200
	DefaultMaxContentLength = 10000
	DefaultPreviewLength    = 120
	DefaultDedupeTTL        = 10 * time.Minute
	DefaultMaxUploadBytes   = 25 << 20
	DefaultRedisChannel     = "inbox:conversation-changes"
	DefaultQueueConcurrency = 10
)

// Config represents the complete gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Realtime    RealtimeConfig    `yaml:"realtime" toml:"realtime"`
	Attachments AttachmentsConfig `yaml:"attachments" toml:"attachments"`
	Push        PushConfig        `yaml:"push" toml:"push"`
	Messaging   MessagingConfig   `yaml:"messaging" toml:"messaging"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve HTTP on :443 with tailnet certificates
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose the HTTP API publicly (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // health service only; empty disables it
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (pure Go, default) or "sqlite3" (cgo)
	Path   string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// RealtimeConfig controls websocket fan-out
type RealtimeConfig struct {
	SubscriberBuffer int           `yaml:"subscriber_buffer" toml:"subscriber_buffer"`
	PingInterval     time.Duration `yaml:"-" toml:"-"`
	PingIntervalRaw  string        `yaml:"ping_interval" toml:"ping_interval"`

	// RedisURL enables cross-instance relay of change notifications.
	RedisURL     string `yaml:"redis_url" toml:"redis_url"`
	RedisChannel string `yaml:"redis_channel" toml:"redis_channel"`
}

// AttachmentsConfig selects and configures the attachment store
type AttachmentsConfig struct {
	Backend      string `yaml:"backend" toml:"backend"` // "local" or "s3"
	Dir          string `yaml:"dir" toml:"dir"`
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	MaxSizeBytes int64  `yaml:"max_size_bytes" toml:"max_size_bytes"`

	S3 S3Config `yaml:"s3" toml:"s3"`
}

// S3Config holds object storage settings. Empty credentials fall back to the
// default AWS credential chain.
type S3Config struct {
	Bucket          string `yaml:"bucket" toml:"bucket"`
	Region          string `yaml:"region" toml:"region"`
	Prefix          string `yaml:"prefix" toml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
}

// PushConfig controls best-effort push notifications
type PushConfig struct {
	Enabled             bool   `yaml:"enabled" toml:"enabled"`
	FirebaseCredentials string `yaml:"firebase_credentials" toml:"firebase_credentials"`

	// QueueRedisURL routes pushes through an asynq queue instead of sending inline.
	QueueRedisURL    string `yaml:"queue_redis_url" toml:"queue_redis_url"`
	QueueConcurrency int    `yaml:"queue_concurrency" toml:"queue_concurrency"`
}

// MessagingConfig holds limits for the message path
type MessagingConfig struct {
	HistoryLimit     int           `yaml:"history_limit" toml:"history_limit"`
	MaxContentLength int           `yaml:"max_content_length" toml:"max_content_length"`
	PreviewLength    int           `yaml:"preview_length" toml:"preview_length"`
	DedupeTTL        time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw     string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// envOverrides are read from INBOX_* variables after the file is parsed.
// Only non-empty values replace what the file set.
type envOverrides struct {
	HTTPAddr      string `envconfig:"HTTP_ADDR"`
	GRPCAddr      string `envconfig:"GRPC_ADDR"`
	DatabasePath  string `envconfig:"DATABASE_PATH"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	RedisURL      string `envconfig:"REDIS_URL"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	S3Bucket      string `envconfig:"S3_BUCKET"`
	QueueRedisURL string `envconfig:"QUEUE_REDIS_URL"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file in the same directory is loaded first if present.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath resolves the config file location: INBOX_CONFIG, then
// $XDG_CONFIG_HOME/realty-inbox/gateway.yaml, then ~/.config/realty-inbox/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("INBOX_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "realty-inbox", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "realty-inbox", "gateway.yaml")
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.HTTPAddr, env.HTTPAddr)
	set(&cfg.Server.GRPCAddr, env.GRPCAddr)
	set(&cfg.Database.Path, env.DatabasePath)
	set(&cfg.Auth.JWTSecret, env.JWTSecret)
	set(&cfg.Realtime.RedisURL, env.RedisURL)
	set(&cfg.Logging.Level, env.LogLevel)
	set(&cfg.Attachments.S3.Bucket, env.S3Bucket)
	set(&cfg.Push.QueueRedisURL, env.QueueRedisURL)
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Realtime.SubscriberBuffer <= 0 {
		cfg.Realtime.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if cfg.Realtime.PingInterval <= 0 {
		cfg.Realtime.PingInterval = DefaultPingInterval
	}
	if cfg.Realtime.RedisChannel == "" {
		cfg.Realtime.RedisChannel = DefaultRedisChannel
	}
	if cfg.Attachments.Backend == "" {
		cfg.Attachments.Backend = "local"
	}
	if cfg.Attachments.MaxSizeBytes <= 0 {
		cfg.Attachments.MaxSizeBytes = DefaultMaxUploadBytes
	}
	if cfg.Push.QueueConcurrency <= 0 {
		cfg.Push.QueueConcurrency = DefaultQueueConcurrency
	}
	if cfg.Messaging.HistoryLimit <= 0 {
		cfg.Messaging.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Messaging.MaxContentLength <= 0 {
		cfg.Messaging.MaxContentLength = DefaultMaxContentLength
	}
	if cfg.Messaging.PreviewLength <= 0 {
		cfg.Messaging.PreviewLength = DefaultPreviewLength
	}
	if cfg.Messaging.DedupeTTL <= 0 {
		cfg.Messaging.DedupeTTL = DefaultDedupeTTL
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	switch c.Attachments.Backend {
	case "", "local":
		if c.Attachments.Dir == "" {
			return fmt.Errorf("attachments.dir is required for the local backend")
		}
	case "s3":
		if c.Attachments.S3.Bucket == "" {
			return fmt.Errorf("attachments.s3.bucket is required for the s3 backend")
		}
		if c.Attachments.S3.Region == "" {
			return fmt.Errorf("attachments.s3.region is required for the s3 backend")
		}
	default:
		return fmt.Errorf("attachments.backend must be local or s3, got %q", c.Attachments.Backend)
	}

	if c.Push.Enabled && c.Push.FirebaseCredentials == "" {
		return fmt.Errorf("push.firebase_credentials is required when push is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Realtime.PingIntervalRaw != "" {
		cfg.Realtime.PingInterval, err = time.ParseDuration(cfg.Realtime.PingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_interval %q: %w", cfg.Realtime.PingIntervalRaw, err)
		}
	}

	if cfg.Messaging.DedupeTTLRaw != "" {
		cfg.Messaging.DedupeTTL, err = time.ParseDuration(cfg.Messaging.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Messaging.DedupeTTLRaw, err)
		}
	}

	return nil
}
