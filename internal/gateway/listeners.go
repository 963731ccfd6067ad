// ABOUTME: Listener setup for plain TCP or a tailnet node via tsnet
// ABOUTME: On a tailnet the API is served on :80, :443 (tailnet certs) or through funnel

package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/realty-inbox/internal/config"
)

// tailnetHealthPort serves the gRPC health service on a tailnet node when
// server.grpc_addr does not name a port.
const tailnetHealthPort = "50051"

// setupListeners opens the HTTP listener and, when configured, the gRPC
// health listener. grpcLn is nil when the health service is off.
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		return g.listenTailnet(ctx)
	}

	srv := g.config.Server
	g.logger.Info("binding listeners", "http_addr", srv.HTTPAddr, "grpc_addr", srv.GRPCAddr)

	httpLn, err = net.Listen("tcp", srv.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on http_addr %s: %w", srv.HTTPAddr, err)
	}
	if srv.GRPCAddr == "" {
		return nil, httpLn, nil
	}
	grpcLn, err = net.Listen("tcp", srv.GRPCAddr)
	if err != nil {
		closeListeners(httpLn)
		return nil, nil, fmt.Errorf("listening on grpc_addr %s: %w", srv.GRPCAddr, err)
	}
	return grpcLn, httpLn, nil
}

// tailnetStateDir defaults to the data directory used for the database.
func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "realty-inbox", "tailscale"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for tailscale state, set tailscale.state_dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "realty-inbox", "tailscale"), nil
}

// tailnetHealthAddr keeps the port of server.grpc_addr, if any.
func tailnetHealthAddr(grpcAddr string) string {
	if grpcAddr == "" {
		return ""
	}
	if _, port, err := net.SplitHostPort(grpcAddr); err == nil && port != "" {
		return ":" + port
	}
	return ":" + tailnetHealthPort
}

func (g *Gateway) listenTailnet(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	ts := g.config.Tailscale
	if g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.http_addr is ignored on a tailnet node", "http_addr", g.config.Server.HTTPAddr)
	}

	dir, err := tailnetStateDir(ts.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := ts.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		// tsnet logs a login URL; a node that logged in before reuses its state
		g.logger.Warn("no tailscale auth key; node must already be logged in or log in interactively", "state_dir", dir)
	}

	node := &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       dir,
		Ephemeral: ts.Ephemeral,
		AuthKey:   authKey,
	}
	g.tsnetServer = node

	g.logger.Info("joining tailnet", "hostname", ts.Hostname, "ephemeral", ts.Ephemeral)
	status, err := node.Up(ctx)
	if err != nil {
		return nil, nil, g.abandonTailnet(fmt.Errorf("starting tailscale: %w", err))
	}
	g.logTailnetNode(ts.Hostname, status)

	httpLn, err = g.tailnetHTTP(node, ts)
	if err != nil {
		return nil, nil, g.abandonTailnet(err)
	}

	if addr := tailnetHealthAddr(g.config.Server.GRPCAddr); addr != "" {
		grpcLn, err = node.Listen("tcp", addr)
		if err != nil {
			closeListeners(httpLn)
			return nil, nil, g.abandonTailnet(fmt.Errorf("listening for gRPC health on tailnet %s: %w", addr, err))
		}
	}
	return grpcLn, httpLn, nil
}

func (g *Gateway) abandonTailnet(err error) error {
	_ = g.tsnetServer.Close()
	g.tsnetServer = nil
	return err
}

func (g *Gateway) logTailnetNode(hostname string, status *ipnstate.Status) {
	attrs := []any{"hostname", hostname}
	if len(status.TailscaleIPs) > 0 {
		attrs = append(attrs, "tailscale_ip", status.TailscaleIPs[0].String())
	} else {
		g.logger.Warn("tailnet node has no addresses yet")
	}
	if status.Self != nil {
		attrs = append(attrs, "dns_name", status.Self.DNSName)
	}
	g.logger.Info("tailnet node up", attrs...)
}

// tailnetHTTP picks funnel, tailnet TLS or plain :80.
func (g *Gateway) tailnetHTTP(node *tsnet.Server, ts config.TailscaleConfig) (net.Listener, error) {
	if ts.Funnel {
		g.logger.Info("serving API publicly through tailscale funnel on :443")
		ln, err := node.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("opening funnel: %w", err)
		}
		return ln, nil
	}

	if !ts.HTTPS {
		ln, err := node.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailnet :80: %w", err)
		}
		return ln, nil
	}

	g.logger.Info("serving API over HTTPS with tailnet certificates on :443")
	lc, err := node.LocalClient()
	if err != nil {
		return nil, fmt.Errorf("tailscale local client: %w", err)
	}
	ln, err := node.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailnet :443: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}
