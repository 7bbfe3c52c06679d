package scim

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/northbeam/backoffice/server/internal/auth"
	"github.com/northbeam/backoffice/server/internal/store"
)

// contextKey is a private type for context keys in this package.
type contextKey string

// configContextKey is the context key for the authenticated SSO config.
const configContextKey contextKey = "scim_config"

// Handler handles SCIM v2 API requests.
type Handler struct {
	store       *store.Store
	tokens      *TokenService
	rateLimiter *auth.RateLimiter
	logger      *slog.Logger
}

// NewHandler creates an http.Handler that serves all SCIM v2 routes.
// Routes are mounted at /scim/v2/...; the bearer token scopes each request
// to one SSO config, and rateLimit bounds that config's calls per minute.
func NewHandler(st *store.Store, tokens *TokenService, rateLimit int, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:       st,
		tokens:      tokens,
		rateLimiter: auth.NewRateLimiter(rateLimit, time.Minute),
		logger:      logger,
	}

	mux := http.NewServeMux()

	// Discovery endpoints (no auth required)
	mux.HandleFunc("GET /scim/v2/ServiceProviderConfig", h.serviceProviderConfig)
	mux.HandleFunc("GET /scim/v2/Schemas", h.schemas)
	mux.HandleFunc("GET /scim/v2/ResourceTypes", h.resourceTypes)

	// User endpoints
	mux.HandleFunc("GET /scim/v2/Users", h.withAuth(h.listUsers))
	mux.HandleFunc("POST /scim/v2/Users", h.withAuth(h.createUser))
	mux.HandleFunc("GET /scim/v2/Users/{id}", h.withAuth(h.getUser))
	mux.HandleFunc("PATCH /scim/v2/Users/{id}", h.withAuth(h.patchUser))
	mux.HandleFunc("DELETE /scim/v2/Users/{id}", h.withAuth(h.deleteUser))

	return mux
}

// logOperation appends one provisioning-log row for a completed SCIM
// operation. Best effort: a failed append is logged, never surfaced.
func (h *Handler) logOperation(ctx context.Context, configID, operation string, status int, resourceID, externalID, detail string) {
	err := h.store.Queries().AppendProvisioningLog(ctx, store.AppendProvisioningLogParams{
		ConfigID:   configID,
		Operation:  operation,
		Status:     int32(status),
		ResourceID: resourceID,
		ExternalID: externalID,
		Detail:     detail,
	})
	if err != nil {
		h.logger.Error("append provisioning log", "operation", operation, "config_id", configID, "error", err)
	}
}
