package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/example/doint-ledger/internal/auth"
	"github.com/example/doint-ledger/internal/security"
	"github.com/example/doint-ledger/pkg/audit"
)

type rejectedRequest struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// AuditMiddleware records every mutating request that did not succeed.
// Successful changes are recorded by their handlers with the receipt.
func AuditMiddleware(rec audit.Recorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			if sw.status < http.StatusBadRequest {
				return
			}

			actor := ""
			if p, ok := auth.PrincipalFromContext(r.Context()); ok {
				actor = p.ClientID
			}
			_, err := rec.Append(audit.Event{
				Kind:          "rejected_request",
				Actor:         actor,
				CorrelationID: security.CorrelationIDFromContext(r.Context()),
				Data: rejectedRequest{
					Method:     r.Method,
					Path:       r.URL.Path,
					Status:     sw.status,
					DurationMS: time.Since(start).Milliseconds(),
				},
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to append audit entry", "kind", "rejected_request", "error", err)
			}
		})
	}
}
