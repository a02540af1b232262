package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-api/internal/domain/auth"
)

// Authenticate requires a valid bearer token and stores the principal in the
// request context.
func Authenticate(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "Unauthorized.")
				return
			}
			p, err := tokens.Verify(raw)
			if err != nil {
				zctx.From(r.Context()).Debug("Token rejected", zap.Error(err))
				writeMessage(w, http.StatusUnauthorized, "Unauthorized.")
				return
			}
			ctx := auth.WithPrincipal(r.Context(), p)
			ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.Stringer("user_id", p.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects principals without role. It must run after
// Authenticate.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.FromContext(r.Context())
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "Unauthorized.")
				return
			}
			if p.Role != role {
				writeMessage(w, http.StatusForbidden, "Forbidden.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
