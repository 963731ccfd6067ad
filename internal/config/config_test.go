// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env expansion, overrides, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./test.db"

logging:
  level: "debug"
  format: "json"

realtime:
  subscriber_buffer: 16
  ping_interval: "15s"

attachments:
  backend: local
  dir: "/tmp/attachments"

messaging:
  history_limit: 50
  dedupe_ttl: "2m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "0.0.0.0:50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 16, cfg.Realtime.SubscriberBuffer)
	assert.Equal(t, 15*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, 50, cfg.Messaging.HistoryLimit)
	assert.Equal(t, 2*time.Minute, cfg.Messaging.DedupeTTL)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
attachments:
  dir: "./files"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultSubscriberBuffer, cfg.Realtime.SubscriberBuffer)
	assert.Equal(t, DefaultPingInterval, cfg.Realtime.PingInterval)
	assert.Equal(t, DefaultRedisChannel, cfg.Realtime.RedisChannel)
	assert.Equal(t, "local", cfg.Attachments.Backend)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.Attachments.MaxSizeBytes)
	assert.Equal(t, DefaultHistoryLimit, cfg.Messaging.HistoryLimit)
	assert.Equal(t, DefaultPreviewLength, cfg.Messaging.PreviewLength)
	assert.Equal(t, DefaultDedupeTTL, cfg.Messaging.DedupeTTL)
	assert.Equal(t, DefaultQueueConcurrency, cfg.Push.QueueConcurrency)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = ":9090"

[database]
driver = "sqlite3"
path = "/data/inbox.db"

[attachments]
backend = "s3"

[attachments.s3]
bucket = "listing-files"
region = "eu-west-1"

[messaging]
dedupe_ttl = "30s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "listing-files", cfg.Attachments.S3.Bucket)
	assert.Equal(t, 30*time.Second, cfg.Messaging.DedupeTTL)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_INBOX_SECRET", "s3cret")

	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_INBOX_SECRET}"
attachments:
  dir: "./files"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DOTENV_DB_PATH=/from/dotenv.db\n"), 0644))
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_addr: ":8080"
database:
  path: "${DOTENV_DB_PATH}"
attachments:
  dir: "./files"
`), 0644))
	t.Cleanup(func() { os.Unsetenv("DOTENV_DB_PATH") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv.db", cfg.Database.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INBOX_DATABASE_PATH", "/override/inbox.db")
	t.Setenv("INBOX_HTTP_ADDR", ":7000")
	t.Setenv("INBOX_LOG_LEVEL", "warn")

	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
logging:
  level: info
attachments:
  dir: "./files"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/override/inbox.db", cfg.Database.Path)
	assert.Equal(t, ":7000", cfg.Server.HTTPAddr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
attachments:
  dir: "./files"
realtime:
  ping_interval: "often"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping_interval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:      ServerConfig{HTTPAddr: ":8080"},
			Database:    DatabaseConfig{Path: "x.db"},
			Attachments: AttachmentsConfig{Backend: "local", Dir: "./files"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name: "tailscale without hostname",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale.Enabled = true
			},
			wantErr: "tailscale.hostname",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "database.driver",
		},
		{
			name:    "local backend without dir",
			mutate:  func(c *Config) { c.Attachments.Dir = "" },
			wantErr: "attachments.dir",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Attachments.Backend = "s3" },
			wantErr: "attachments.s3.bucket",
		},
		{
			name:    "push without credentials",
			mutate:  func(c *Config) { c.Push.Enabled = true },
			wantErr: "push.firebase_credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("INBOX_CONFIG", "/etc/inbox.yaml")
	assert.Equal(t, "/etc/inbox.yaml", DefaultPath())

	t.Setenv("INBOX_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "realty-inbox", "gateway.yaml"), DefaultPath())
}
