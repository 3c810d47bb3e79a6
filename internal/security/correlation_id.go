package security

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	// CorrelationIDMetadataKey carries the id in gRPC metadata.
	CorrelationIDMetadataKey = "x-correlation-id"

	maxCorrelationIDLength = 128
)

type correlationIDKey struct{}

// CorrelationID accepts a well-formed X-Correlation-ID from the caller or
// assigns a fresh one, and echoes it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := AcceptCorrelationID(r.Header.Get(CorrelationIDHeader))
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), cid)))
	})
}

// AcceptCorrelationID returns raw when it is safe to log and propagate,
// and a new id otherwise.
func AcceptCorrelationID(raw string) string {
	if raw == "" || len(raw) > maxCorrelationIDLength {
		return uuid.NewString()
	}
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c < 0x21 || c > 0x7e {
			return uuid.NewString()
		}
	}
	return raw
}

func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, cid)
}

func CorrelationIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return s
	}
	return ""
}
