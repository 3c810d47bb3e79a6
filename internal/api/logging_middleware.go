package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/example/doint-ledger/internal/auth"
	"github.com/example/doint-ledger/internal/security"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger emits one "http_request" line per request. Server errors
// are logged at error level.
func RequestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			level := slog.LevelInfo
			if sw.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			l.Log(r.Context(), level, "http_request",
				"correlation_id", security.CorrelationIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", dur.Milliseconds(),
			)
		})
	}
}

// principalKey rate limits authenticated callers by client id and falls
// back to the remote address.
func principalKey(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.ClientID != "" {
		return "client:" + p.ClientID
	}
	if addr, ok := security.RemoteAddr(r); ok {
		return "ip:" + addr.String()
	}
	return ""
}
