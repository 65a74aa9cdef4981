package grpc

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// HealthServer exposes grpc.health.v1 for platform probes. Each check is
// published as its own service name; the empty name is SERVING only when
// every check passes.
type HealthServer struct {
	srv      *grpc.Server
	hs       *health.Server
	checks   map[string]Check
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

func NewHealthServer(interval time.Duration, checks map[string]Check) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           20 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{
		srv:      srv,
		hs:       hs,
		checks:   checks,
		interval: interval,
		timeout:  2 * time.Second,
		log:      logging.New("grpc-health"),
	}
}

// Probe runs every check once and updates the published statuses.
func (h *HealthServer) Probe(ctx context.Context) bool {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](cctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			h.log.Warn("dependency unhealthy", "check", name, "err", err)
		}
		h.hs.SetServingStatus(name, status)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.hs.SetServingStatus("", overall)
	return healthy
}

// Serve blocks until ctx is done or the listener fails.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	h.Probe(ctx)

	go func() {
		t := time.NewTicker(h.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				h.hs.Shutdown()
				h.srv.GracefulStop()
				return
			case <-t.C:
				h.Probe(ctx)
			}
		}
	}()

	h.log.Info("grpc health listening", "addr", lis.Addr().String())
	return h.srv.Serve(lis)
}
