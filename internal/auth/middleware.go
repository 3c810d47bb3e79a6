package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/doint-ledger/internal/security"
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// ErrorWriter renders an auth failure; security.WriteJSONError fits.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code string)

// BearerToken extracts the token from an "Authorization: Bearer" value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}

// Authenticate resolves the caller from a bearer token, or failing that
// from a verified TLS client certificate. A nil validator admits only
// certificate holders.
func Authenticate(v *Validator, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var p *Principal
			if authz := r.Header.Get("Authorization"); authz != "" {
				tok, ok := BearerToken(authz)
				if !ok || v == nil {
					onError(w, r, http.StatusUnauthorized, "unauthorized")
					return
				}
				var err error
				if p, err = v.Validate(tok); err != nil {
					onError(w, r, http.StatusUnauthorized, "unauthorized")
					return
				}
			} else if r.TLS != nil && len(r.TLS.VerifiedChains) > 0 {
				id, scopes, err := security.PeerIdentity(r.TLS.VerifiedChains[0][0])
				if err != nil {
					onError(w, r, http.StatusUnauthorized, "unauthorized")
					return
				}
				p = NewPrincipal(id, scopes...)
			} else {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// AllowAll authenticates every request as clientID with every scope. It
// is for local development without a signing secret.
func AllowAll(clientID string) func(http.Handler) http.Handler {
	p := NewPrincipal(clientID, ScopeAdmin)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireScope rejects callers without scope with 403.
func RequireScope(scope string, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !p.HasScope(scope) {
				onError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
