// ABOUTME: Gateway orchestrator that builds the messaging core from config and runs the servers
// ABOUTME: Owns the store, broadcaster, relay, push pipeline, HTTP API and gRPC health lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/tsnet"

	"github.com/2389/realty-inbox/internal/attachments"
	"github.com/2389/realty-inbox/internal/auth"
	"github.com/2389/realty-inbox/internal/config"
	"github.com/2389/realty-inbox/internal/conversation"
	"github.com/2389/realty-inbox/internal/notify"
	"github.com/2389/realty-inbox/internal/realtime"
	"github.com/2389/realty-inbox/internal/store"
)

// Dependencies are the pluggable backends. New builds them from config;
// tests supply their own.
type Dependencies struct {
	Store       store.Store
	Attachments attachments.Store
	Push        notify.Notifier // nil disables push

	// Broadcaster defaults to a fresh in-memory one. Relay, when set, must
	// wrap the same broadcaster.
	Broadcaster *conversation.EventBroadcaster
	Relay       *realtime.RedisRelay
}

// Gateway runs the inbox HTTP API, websocket endpoint and gRPC health service.
type Gateway struct {
	config        *config.Config
	store         store.Store
	conversations *conversation.Service
	broadcaster   *conversation.EventBroadcaster
	relay         *realtime.RedisRelay
	attachments   attachments.Store
	push          notify.Notifier
	pushWorker    *notify.Worker
	validate      *validator.Validate

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server

	background sync.WaitGroup
	logger     *slog.Logger
}

// New creates a Gateway with every backend selected by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.OpenSQLite(cfg.Database.Driver, cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	atts, err := attachments.New(ctx, cfg.Attachments, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing attachments: %w", err)
	}

	deps := Dependencies{
		Store:       s,
		Attachments: atts,
		Broadcaster: conversation.NewEventBroadcaster(cfg.Realtime.SubscriberBuffer, logger),
	}
	cleanup := func() {
		deps.Broadcaster.Close()
		s.Close()
	}

	if cfg.Realtime.RedisURL != "" {
		deps.Relay, err = realtime.NewRedisRelay(ctx, cfg.Realtime.RedisURL, cfg.Realtime.RedisChannel, deps.Broadcaster, logger)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("initializing realtime relay: %w", err)
		}
		logger.Info("realtime relay enabled", "channel", cfg.Realtime.RedisChannel)
	}

	var worker *notify.Worker
	if cfg.Push.Enabled {
		deps.Push, worker, err = initPush(ctx, cfg.Push, s, logger)
		if err != nil {
			if deps.Relay != nil {
				_ = deps.Relay.Close()
			}
			cleanup()
			return nil, err
		}
	}

	gw, err := newGateway(cfg, deps, logger)
	if err != nil {
		if deps.Relay != nil {
			_ = deps.Relay.Close()
		}
		cleanup()
		return nil, err
	}
	gw.pushWorker = worker

	return gw, nil
}

// initPush builds the FCM notifier and, when a queue is configured, the
// asynq producer and worker in front of it.
func initPush(ctx context.Context, cfg config.PushConfig, devices store.DeviceStore, logger *slog.Logger) (notify.Notifier, *notify.Worker, error) {
	fcm, err := notify.NewFCMNotifier(ctx, cfg.FirebaseCredentials, devices, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing push: %w", err)
	}
	if cfg.QueueRedisURL == "" {
		logger.Info("push notifications enabled", "mode", "direct")
		return fcm, nil, nil
	}

	queue, err := notify.NewQueueNotifier(cfg.QueueRedisURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing push queue: %w", err)
	}
	worker, err := notify.NewWorker(cfg.QueueRedisURL, cfg.QueueConcurrency, fcm, logger)
	if err != nil {
		_ = queue.Close()
		return nil, nil, fmt.Errorf("initializing push worker: %w", err)
	}
	logger.Info("push notifications enabled", "mode", "queue", "concurrency", cfg.QueueConcurrency)
	return queue, worker, nil
}

// newGateway wires the service and servers around deps.
func newGateway(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil || deps.Attachments == nil {
		return nil, errors.New("gateway requires a store and an attachment store")
	}

	broadcaster := deps.Broadcaster
	if broadcaster == nil {
		broadcaster = conversation.NewEventBroadcaster(cfg.Realtime.SubscriberBuffer, logger)
	}
	var changes conversation.ChangeNotifier = broadcaster
	if deps.Relay != nil {
		changes = deps.Relay
	}

	gw := &Gateway{
		config:       cfg,
		store:        deps.Store,
		broadcaster:  broadcaster,
		relay:        deps.Relay,
		attachments:  deps.Attachments,
		push:         deps.Push,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		healthServer: health.NewServer(),
		logger:       logger.With("component", "gateway"),
	}
	gw.conversations = conversation.New(deps.Store, changes, deps.Push, conversation.Options{
		HistoryLimit:     cfg.Messaging.HistoryLimit,
		MaxContentLength: cfg.Messaging.MaxContentLength,
		PreviewLength:    cfg.Messaging.PreviewLength,
		DedupeTTL:        cfg.Messaging.DedupeTTL,
		Attachments:      deps.Attachments,
	}, logger)

	middleware, err := authMiddleware(cfg.Auth, gw.logger)
	if err != nil {
		return nil, err
	}

	gw.grpcServer = newGRPCServer(gw.healthServer)
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(middleware),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// authMiddleware verifies bearer tokens when a secret is configured and
// otherwise trusts identity headers from a fronting proxy.
func authMiddleware(cfg config.AuthConfig, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.JWTSecret == "" {
		logger.Warn("HTTP auth disabled - no jwt_secret configured, trusting X-User-ID headers")
		return auth.HeaderIdentityMiddleware(), nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	logger.Info("HTTP auth middleware enabled")
	return auth.HTTPAuthMiddleware(verifier), nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	if err := g.startBackground(ctx); err != nil {
		closeListeners(grpcListener, httpListener)
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startBackground launches the push worker, the relay subscriber and the
// readiness probe that feeds the gRPC health status.
func (g *Gateway) startBackground(ctx context.Context) error {
	if g.pushWorker != nil {
		if err := g.pushWorker.Start(); err != nil {
			return err
		}
	}

	if g.relay != nil {
		g.background.Go(func() {
			if err := g.relay.Run(ctx); err != nil {
				g.logger.Error("realtime relay stopped", "error", err)
			}
		})
	}

	g.background.Go(func() {
		g.watchReadiness(ctx, readinessInterval)
	})
	return nil
}

func closeListeners(lns ...net.Listener) {
	for _, ln := range lns {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// gracefulShutdown runs Shutdown on a fresh context; the run context is
// already canceled by now.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers, drains in-flight pushes and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.healthServer.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.background.Wait()
	errs = append(errs, g.closeComponents()...)

	return errors.Join(errs...)
}

// closeComponents releases everything New created, in dependency order.
func (g *Gateway) closeComponents() []error {
	var errs []error

	// pending pushes finish before the queue and store go away
	g.conversations.Close()
	if g.pushWorker != nil {
		g.pushWorker.Shutdown()
	}
	if closer, ok := g.push.(interface{ Close() error }); ok {
		errs = appendCloseError(errs, "push close", closer.Close())
	}
	if g.relay != nil {
		errs = appendCloseError(errs, "relay close", g.relay.Close())
	}
	g.broadcaster.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())
	return errs
}
