package api

import (
	"log/slog"
	"net/http"

	"github.com/northbeam/backoffice/server/internal/auth"
	"github.com/northbeam/backoffice/server/internal/crypto"
	"github.com/northbeam/backoffice/server/internal/scim"
	"github.com/northbeam/backoffice/server/internal/sso"
	"github.com/northbeam/backoffice/server/internal/store"
)

// Server bundles the login-flow and admin HTTP handlers.
type Server struct {
	store      *store.Store
	sso        *sso.Service
	providers  *sso.Registry
	tokens     *scim.TokenService
	jwt        *auth.JWTManager
	authorizer *auth.Authorizer
	enc        *crypto.Encryptor
	baseURL    string
	logger     *slog.Logger
}

// NewServer creates the API server.
func NewServer(st *store.Store, ssoSvc *sso.Service, providers *sso.Registry, tokens *scim.TokenService, jwt *auth.JWTManager, authorizer *auth.Authorizer, enc *crypto.Encryptor, baseURL string, logger *slog.Logger) *Server {
	return &Server{
		store:      st,
		sso:        ssoSvc,
		providers:  providers,
		tokens:     tokens,
		jwt:        jwt,
		authorizer: authorizer,
		enc:        enc,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Routes mounts every endpoint on a fresh mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Login flow (browser-facing, unauthenticated)
	mux.HandleFunc("GET /sso/initiate", s.initiateLogin)
	mux.HandleFunc("GET /sso/callback/oidc", s.oidcCallback)
	mux.HandleFunc("POST /sso/callback/oidc", s.oidcCallback)
	mux.HandleFunc("POST /sso/hrd", s.homeRealmDiscovery)

	// Admin config API (session-authenticated, policy-gated)
	mux.HandleFunc("POST /api/sso/configs", s.requireAction("sso.config.write", s.createConfig))
	mux.HandleFunc("GET /api/sso/configs", s.requireAction("sso.config.read", s.listConfigs))
	mux.HandleFunc("GET /api/sso/configs/{id}", s.requireAction("sso.config.read", s.getConfig))
	mux.HandleFunc("PATCH /api/sso/configs/{id}", s.requireAction("sso.config.write", s.updateConfig))
	mux.HandleFunc("DELETE /api/sso/configs/{id}", s.requireAction("sso.config.write", s.deleteConfig))

	mux.HandleFunc("POST /api/sso/configs/{id}/domains", s.requireAction("sso.config.write", s.addDomain))
	mux.HandleFunc("DELETE /api/sso/configs/{id}/domains/{domain}", s.requireAction("sso.config.write", s.removeDomain))

	mux.HandleFunc("POST /api/sso/configs/{id}/activate", s.requireAction("sso.config.write", s.activateConfig))
	mux.HandleFunc("POST /api/sso/configs/{id}/deactivate", s.requireAction("sso.config.write", s.deactivateConfig))
	mux.HandleFunc("POST /api/sso/configs/{id}/test", s.requireAction("sso.config.read", s.testConnection))

	mux.HandleFunc("POST /api/sso/configs/{id}/scim-tokens", s.requireAction("scim.token.write", s.issueScimToken))
	mux.HandleFunc("GET /api/sso/configs/{id}/scim-tokens", s.requireAction("scim.token.read", s.listScimTokens))
	mux.HandleFunc("DELETE /api/sso/configs/{id}/scim-tokens/{tokenId}", s.requireAction("scim.token.write", s.revokeScimToken))

	mux.HandleFunc("GET /api/sso/configs/{id}/provisioning-logs", s.requireAction("scim.log.read", s.listProvisioningLogs))

	return mux
}

// callbackURL is the redirect URI registered with IdPs.
func (s *Server) callbackURL() string {
	return s.baseURL + "/sso/callback/oidc"
}
