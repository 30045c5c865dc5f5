package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the gRPC service name reported alongside the overall "" status.
const HealthServiceName = "loadout.BuildStore"

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer exposes grpc.health.v1.Health and keeps it in sync with the store.
type HealthServer struct {
	server   *health.Server
	store    pinger
	interval time.Duration
	logger   *zap.Logger
}

func NewHealthServer(store pinger, interval time.Duration, logger *zap.Logger) *HealthServer {
	return &HealthServer{
		server:   health.NewServer(),
		store:    store,
		interval: interval,
		logger:   logger.Named("HealthServer"),
	}
}

func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Check pings the store once and publishes the result.
func (h *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("store ping failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(HealthServiceName, status)
	return status
}

// Run refreshes the status every interval until ctx is done.
func (h *HealthServer) Run(ctx context.Context) {
	h.Check(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher ahead of the server stopping.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}
