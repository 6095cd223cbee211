package health

import (
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/suindexer/internal/indexing/signal"
)

// ServiceName is the gRPC health service name reporting indexer liveness.
const ServiceName = "suindexer.Indexer"

// GRPCSink mirrors the indexer lifecycle onto a gRPC health server: SERVING
// while running, NOT_SERVING otherwise.
type GRPCSink struct {
	server *grpchealth.Server
}

// NewGRPCSink wraps server and marks the indexer as not serving.
func NewGRPCSink(server *grpchealth.Server) *GRPCSink {
	server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCSink{server: server}
}

func (g *GRPCSink) Emit(s signal.Signal) {
	switch s.Kind {
	case signal.KindStarted:
		g.server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	case signal.KindStopped:
		g.server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}
