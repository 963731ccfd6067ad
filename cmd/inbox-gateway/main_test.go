package main

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/realty-inbox/internal/auth"
	"github.com/2389/realty-inbox/internal/config"
)

const testSecret = "a-test-secret-that-is-long-enough-for-hs256"

func TestIssueToken(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, issueToken(testSecret, "agent-7", auth.RoleAgent, time.Hour, &out))

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	got, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "agent-7", got.UserID)
	assert.Equal(t, auth.RoleAgent, got.Role)
}

func TestIssueToken_Errors(t *testing.T) {
	tests := []struct {
		name, secret, user, role string
	}{
		{"missing user", testSecret, "  ", auth.RoleCustomer},
		{"unknown role", testSecret, "u1", "landlord"},
		{"no secret", "", "u1", auth.RoleCustomer},
		{"weak secret", "short", "u1", auth.RoleCustomer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, issueToken(tt.secret, tt.user, tt.role, time.Hour, &out))
			assert.Empty(t, out.String())
		})
	}
}

func TestCheckHTTPHealth(t *testing.T) {
	var unhealthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, checkHTTPHealth(t.Context(), srv.URL, &out))
	assert.Equal(t, "healthy\n", out.String())

	unhealthy.Store(true)
	assert.ErrorContains(t, checkHTTPHealth(t.Context(), srv.URL, &out), "status 503")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestSetupLogger_Text(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "realtime").WithGroup("ws").Info("joined", "conversation_id", "c1")

	line := buf.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "INF joined")
	assert.Contains(t, line, "component=realtime")
	assert.Contains(t, line, "ws.conversation_id=c1")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("slow store", "ms", 250)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"slow store"`)
	assert.Contains(t, buf.String(), `"ms":250`)
}

func TestDescribeAttachments(t *testing.T) {
	assert.Equal(t, "/var/lib/inbox", describeAttachments(config.AttachmentsConfig{Backend: "local", Dir: "/var/lib/inbox"}))
	assert.Equal(t, "s3://listings (eu-west-1)", describeAttachments(config.AttachmentsConfig{
		Backend: "s3", S3: config.S3Config{Bucket: "listings", Region: "eu-west-1"},
	}))
}
