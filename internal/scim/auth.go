package scim

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/northbeam/backoffice/server/internal/store"
)

// withAuth wraps a handler with SCIM bearer token authentication. The token
// itself identifies the SSO config it is scoped to; the resolved config is
// stored in the request context.
func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "authorization header must use Bearer scheme")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "bearer token is empty")
			return
		}

		cfg, err := h.tokens.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			h.logger.Error("scim token verification", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		// Rate limit per config
		if !h.rateLimiter.Allow(cfg.ID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		// Validate Content-Type on requests with a body
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/scim+json") && !strings.HasPrefix(ct, "application/json") {
				writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/scim+json or application/json")
				return
			}
		}

		ctx := context.WithValue(r.Context(), configContextKey, cfg)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// configFromContext extracts the authenticated SSO config from the context.
func configFromContext(ctx context.Context) (store.SsoConfig, bool) {
	cfg, ok := ctx.Value(configContextKey).(store.SsoConfig)
	return cfg, ok
}
