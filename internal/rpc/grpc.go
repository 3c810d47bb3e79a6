package rpc

import (
	"crypto/tls"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	ledgerv1 "github.com/example/doint-ledger/api/ledgerv1"
	"github.com/example/doint-ledger/internal/auth"
)

const maxMessageSize = 1 << 20

// ServerOptions configures NewServer.
type ServerOptions struct {
	Logger *slog.Logger
	// Validator checks bearer tokens. Without one only client
	// certificates authenticate, unless AllowAnonymous is set.
	Validator      *auth.Validator
	AllowAnonymous bool
	// TLS enables transport security when non-nil.
	TLS *tls.Config
}

// NewServer builds a gRPC server carrying the ledger service, the standard
// health service and reflection. The health server is returned so the
// caller can flip it to NOT_SERVING on shutdown.
func NewServer(svc ledgerv1.LedgerServiceServer, opts ServerOptions) (*grpc.Server, *health.Server) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(logger),
			correlationInterceptor,
			loggingInterceptor(logger),
			authInterceptor(opts.Validator, opts.AllowAnonymous),
		),
	}
	if opts.TLS != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(opts.TLS)))
	}

	srv := grpc.NewServer(serverOpts...)
	ledgerv1.RegisterLedgerServiceServer(srv, svc)

	hs := health.NewServer()
	hs.SetServingStatus(ledgerv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv, hs
}
