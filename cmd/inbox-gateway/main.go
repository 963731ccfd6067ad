// ABOUTME: Entry point for the realty inbox gateway
// ABOUTME: Serves the conversation API and websocket, plus init/health/token helpers

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/realty-inbox/internal/auth"
	"github.com/2389/realty-inbox/internal/config"
	"github.com/2389/realty-inbox/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _       _
 (_)_ __ | |__   _____  __
 | | '_ \| '_ \ / _ \ \/ /
 | | | | | |_) | (_) >  <
 |_|_| |_|_.__/ \___/_/\_\
`

// getDataPath returns the directory for the database and local attachments.
// Priority: XDG_DATA_HOME/realty-inbox > ~/.local/share/realty-inbox
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "realty-inbox")
}

func usage() {
	fmt.Println("Usage: inbox-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  init                           Write a starter config with a fresh JWT secret")
	fmt.Println("  health [--grpc]                Check gateway readiness")
	fmt.Println("  token --user ID [--role R]     Issue a bearer token for a user")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:        %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC health: %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:    %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Attachments: %s\n", describeAttachments(cfg.Attachments))

	if cfg.Realtime.RedisURL != "" {
		green.Print("    ▶ ")
		fmt.Print("Relay:       ")
		cyan.Println(cfg.Realtime.RedisChannel)
	}
	if cfg.Push.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Push:        fcm")
		if cfg.Push.QueueRedisURL != "" {
			gray.Print(" (queued)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		green.Print("    ▶ ")
		yellow.Println("Auth:        trusting X-User-ID headers (no jwt_secret)")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:   ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting inbox-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func describeAttachments(cfg config.AttachmentsConfig) string {
	if cfg.Backend == "s3" {
		if cfg.S3.Endpoint != "" {
			return fmt.Sprintf("s3 %s/%s", strings.TrimRight(cfg.S3.Endpoint, "/"), cfg.S3.Bucket)
		}
		return fmt.Sprintf("s3://%s (%s)", cfg.S3.Bucket, cfg.S3.Region)
	}
	return cfg.Dir
}

// runInit writes a starter config with a random JWT secret. An existing
// file is left alone unless --force is given.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	output := fs.String("config", config.DefaultPath(), "config file to write")
	force := fs.Bool("force", false, "overwrite an existing config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*output); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *output)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	dataPath := getDataPath()
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := fmt.Sprintf(`# inbox-gateway configuration
# Generated by inbox-gateway init

server:
  http_addr: "localhost:8080"
  grpc_addr: "localhost:50051"

database:
  driver: "sqlite"
  path: "%s"

auth:
  jwt_secret: "%s"

attachments:
  backend: "local"
  dir: "%s"

realtime:
  ping_interval: "30s"
  # redis_url: "redis://localhost:6379/0"

push:
  enabled: false
  # firebase_credentials: "/path/to/service-account.json"

logging:
  level: "info"
  format: "text"
`, filepath.Join(dataPath, "inbox.db"), secret, filepath.Join(dataPath, "attachments"))

	if err := os.WriteFile(*output, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", *output)
	fmt.Println()
	fmt.Println("  Next:")
	fmt.Println("    inbox-gateway token --user <id> --role agent")
	fmt.Println("    inbox-gateway serve")
	return nil
}

// runHealth asks the running gateway whether it is ready, over HTTP by
// default or the gRPC health service with --grpc.
func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	useGRPC := fs.Bool("grpc", false, "query the gRPC health service")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if *useGRPC {
		if cfg.Server.GRPCAddr == "" {
			return fmt.Errorf("grpc_addr is not configured")
		}
		return checkGRPCHealth(ctx, cfg.Server.GRPCAddr, os.Stdout)
	}
	return checkHTTPHealth(ctx, fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr), os.Stdout)
}

func checkHTTPHealth(ctx context.Context, url string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func checkGRPCHealth(ctx context.Context, addr string, out io.Writer) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: gateway.HealthService,
	})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", resp.GetStatus())
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

// runToken signs a bearer token with the configured secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (token subject)")
	role := fs.String("role", auth.RoleCustomer, "role: customer, agent or admin")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	configPath := fs.String("config", config.DefaultPath(), "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return issueToken(cfg.Auth.JWTSecret, *userID, *role, *ttl, out)
}

func issueToken(secret, userID, role string, ttl time.Duration, out io.Writer) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	switch role {
	case auth.RoleCustomer, auth.RoleAgent, auth.RoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if secret == "" {
		return fmt.Errorf("jwt_secret not configured (run inbox-gateway init)")
	}

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(userID, role, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
