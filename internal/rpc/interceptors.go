package rpc

import (
	"context"
	"log/slog"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	ledgerv1 "github.com/example/doint-ledger/api/ledgerv1"
	"github.com/example/doint-ledger/internal/auth"
	"github.com/example/doint-ledger/internal/security"
)

// methodScopes is the scope each RPC requires. Methods missing here are
// refused.
var methodScopes = map[string]string{
	"GetBank":           auth.ScopeRead,
	"CalculateFee":      auth.ScopeRead,
	"AuditConservation": auth.ScopeRead,
	"GetUser":           auth.ScopeRead,
	"Leaderboard":       auth.ScopeRead,
	"Transfer":          auth.ScopeWrite,
	"Enroll":            auth.ScopeWrite,
	"Unenroll":          auth.ScopeWrite,
	"SetTaxRate":        auth.ScopeAdmin,
	"SetUBIRate":        auth.ScopeAdmin,
	"CollectTaxes":      auth.ScopeAdmin,
	"DisperseUBI":       auth.ScopeAdmin,
}

// correlationInterceptor adopts the caller's x-correlation-id or assigns
// one, and echoes it in the response header.
func correlationInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var raw string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(security.CorrelationIDMetadataKey); len(v) > 0 {
			raw = v[0]
		}
	}
	cid := security.AcceptCorrelationID(raw)
	_ = grpc.SetHeader(ctx, metadata.Pairs(security.CorrelationIDMetadataKey, cid))
	return handler(security.WithCorrelationID(ctx, cid), req)
}

// loggingInterceptor emits one grpc_request event per call.
func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := slog.LevelInfo
		switch code {
		case codes.OK, codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition,
			codes.Unauthenticated, codes.PermissionDenied:
		default:
			level = slog.LevelError
		}
		attrs := []any{
			"correlation_id", security.CorrelationIDFromContext(ctx),
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		logger.Log(ctx, level, "grpc_request", attrs...)
		return resp, err
	}
}

// authInterceptor authenticates with a bearer token in the authorization
// metadata, or a verified client certificate, then checks the method's
// scope. A nil validator with allowAll set admits everyone as an admin.
func authInterceptor(v *auth.Validator, allowAll bool) grpc.UnaryServerInterceptor {
	anonymous := auth.NewPrincipal("anonymous", auth.ScopeAdmin)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if path.Dir(info.FullMethod) != "/"+ledgerv1.ServiceName {
			return handler(ctx, req)
		}
		scope, ok := methodScopes[path.Base(info.FullMethod)]
		if !ok {
			return nil, status.Error(codes.PermissionDenied, "method not authorised")
		}

		p, err := authenticate(ctx, v)
		if err != nil {
			if !allowAll {
				return nil, err
			}
			p = anonymous
		}
		if !p.HasScope(scope) {
			return nil, status.Errorf(codes.PermissionDenied, "missing scope %s", scope)
		}
		return handler(auth.WithPrincipal(ctx, p), req)
	}
}

func authenticate(ctx context.Context, v *auth.Validator) (*auth.Principal, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			tok, ok := auth.BearerToken(values[0])
			if !ok || v == nil {
				return nil, status.Error(codes.Unauthenticated, "invalid authorization metadata")
			}
			p, err := v.Validate(tok)
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, "invalid token")
			}
			return p, nil
		}
	}

	if pr, ok := peer.FromContext(ctx); ok {
		if info, ok := pr.AuthInfo.(credentials.TLSInfo); ok && len(info.State.VerifiedChains) > 0 {
			id, scopes, err := security.PeerIdentity(info.State.VerifiedChains[0][0])
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
			return auth.NewPrincipal(id, scopes...), nil
		}
	}
	return nil, status.Error(codes.Unauthenticated, "missing credentials")
}

// recoveryInterceptor turns a handler panic into codes.Internal.
func recoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "grpc handler panic", "method", info.FullMethod, "panic", r)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
