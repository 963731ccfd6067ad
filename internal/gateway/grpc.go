// ABOUTME: gRPC server carrying the standard health service
// ABOUTME: Serving status follows store reachability so load balancers can drain a broken instance

package gateway

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthService is the service name reported alongside the overall status.
const HealthService = "realty.inbox.Conversations"

const (
	readinessInterval = 10 * time.Second
	readinessTimeout  = 2 * time.Second
)

func newGRPCServer(hs *health.Server) *grpc.Server {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

// checkReady pings the store and publishes the result to the health service.
func (g *Gateway) checkReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	err := g.store.Ping(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.healthServer.SetServingStatus("", status)
	g.healthServer.SetServingStatus(HealthService, status)
	return err
}

// watchReadiness refreshes the health status until ctx is canceled.
func (g *Gateway) watchReadiness(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		if err := g.checkReady(ctx); err != nil {
			if healthy {
				g.logger.Warn("store unreachable, reporting NOT_SERVING", "error", err)
			}
			healthy = false
		} else if !healthy {
			g.logger.Info("store reachable again")
			healthy = true
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
