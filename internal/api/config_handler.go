package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/northbeam/backoffice/server/internal/auth"
	"github.com/northbeam/backoffice/server/internal/scim"
	"github.com/northbeam/backoffice/server/internal/sso"
	"github.com/northbeam/backoffice/server/internal/store"
)

// configResponse is the admin view of an SSO config. The client secret is
// never returned; only its presence is.
type configResponse struct {
	ID              string            `json:"id"`
	OrganizationID  string            `json:"organizationId"`
	Protocol        string            `json:"protocol"`
	IssuerURL       string            `json:"issuerUrl"`
	ClientID        string            `json:"clientId"`
	HasClientSecret bool              `json:"hasClientSecret"`
	AllowedDomains  []string          `json:"allowedDomains"`
	JitEnabled      bool              `json:"jitEnabled"`
	AutoLinkByEmail bool              `json:"autoLinkByEmail"`
	SsoRequired     bool              `json:"ssoRequired"`
	IsActive        bool              `json:"isActive"`
	GroupMapping    map[string]string `json:"groupMapping"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

func toConfigResponse(cfg store.SsoConfig) configResponse {
	return configResponse{
		ID:              cfg.ID,
		OrganizationID:  cfg.OrganizationID,
		Protocol:        cfg.Protocol,
		IssuerURL:       cfg.IssuerURL,
		ClientID:        cfg.ClientID,
		HasClientSecret: cfg.ClientSecretEncrypted != "",
		AllowedDomains:  cfg.AllowedDomains,
		JitEnabled:      cfg.JitEnabled,
		AutoLinkByEmail: cfg.AutoLinkByEmail,
		SsoRequired:     cfg.SsoRequired,
		IsActive:        cfg.IsActive,
		GroupMapping:    cfg.GroupMapping,
		CreatedAt:       cfg.CreatedAt,
		UpdatedAt:       cfg.UpdatedAt,
	}
}

type createConfigRequest struct {
	OrganizationID  string            `json:"organizationId" validate:"required,ulid"`
	Protocol        string            `json:"protocol" validate:"required,oneof=oidc"`
	IssuerURL       string            `json:"issuerUrl" validate:"required,url"`
	ClientID        string            `json:"clientId" validate:"required"`
	ClientSecret    string            `json:"clientSecret"`
	AllowedDomains  []string          `json:"allowedDomains"`
	JitEnabled      bool              `json:"jitEnabled"`
	AutoLinkByEmail bool              `json:"autoLinkByEmail"`
	SsoRequired     bool              `json:"ssoRequired"`
	GroupMapping    map[string]string `json:"groupMapping"`
}

// createConfig handles POST /api/sso/configs. New configs start inactive.
func (s *Server) createConfig(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req createConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := Validate(req); err != nil {
		writeErr(w, err)
		return
	}

	domains, err := sso.ValidateAllowedDomains(req.AllowedDomains)
	if err != nil {
		writeErr(w, errValidation(err.Error()))
		return
	}

	var encryptedSecret string
	if req.ClientSecret != "" {
		encryptedSecret, err = s.enc.Encrypt(req.ClientSecret)
		if err != nil {
			s.logger.Error("encrypt client secret", "error", err)
			writeErr(w, err)
			return
		}
	}

	cfg, err := s.store.Queries().CreateSsoConfig(r.Context(), store.CreateSsoConfigParams{
		ID:                    store.NewID(),
		TenantID:              user.TenantID,
		OrganizationID:        req.OrganizationID,
		Protocol:              req.Protocol,
		IssuerURL:             req.IssuerURL,
		ClientID:              req.ClientID,
		ClientSecretEncrypted: encryptedSecret,
		AllowedDomains:        domains,
		JitEnabled:            req.JitEnabled,
		AutoLinkByEmail:       req.AutoLinkByEmail,
		SsoRequired:           req.SsoRequired,
		GroupMapping:          req.GroupMapping,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			writeErr(w, errConflict("organization already has an SSO config"))
			return
		}
		s.logger.Error("create sso config", "error", err)
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toConfigResponse(cfg))
}

// listConfigs handles GET /api/sso/configs
func (s *Server) listConfigs(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	configs, err := s.store.Queries().ListSsoConfigs(r.Context(), user.TenantID)
	if err != nil {
		s.logger.Error("list sso configs", "error", err)
		writeErr(w, err)
		return
	}

	out := make([]configResponse, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, toConfigResponse(cfg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": out})
}

// loadTenantConfig loads a config and checks it belongs to the caller's tenant.
func (s *Server) loadTenantConfig(r *http.Request) (store.SsoConfig, error) {
	user, _ := auth.UserFromContext(r.Context())

	cfg, err := s.store.Queries().GetSsoConfigByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SsoConfig{}, errNotFound("sso config not found")
		}
		return store.SsoConfig{}, err
	}
	if cfg.TenantID != user.TenantID {
		return store.SsoConfig{}, errNotFound("sso config not found")
	}
	return cfg, nil
}

// getConfig handles GET /api/sso/configs/{id}
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}

type updateConfigRequest struct {
	IssuerURL       *string           `json:"issuerUrl" validate:"omitempty,url"`
	ClientID        *string           `json:"clientId"`
	ClientSecret    *string           `json:"clientSecret"`
	JitEnabled      *bool             `json:"jitEnabled"`
	AutoLinkByEmail *bool             `json:"autoLinkByEmail"`
	SsoRequired     *bool             `json:"ssoRequired"`
	GroupMapping    map[string]string `json:"groupMapping"`
}

// updateConfig handles PATCH /api/sso/configs/{id}
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req updateConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := Validate(req); err != nil {
		writeErr(w, err)
		return
	}

	// SCIM and JIT are mutually exclusive per config.
	if req.JitEnabled != nil && *req.JitEnabled {
		active, err := s.store.Queries().CountActiveScimTokens(r.Context(), cfg.ID)
		if err != nil {
			s.logger.Error("count scim tokens", "config_id", cfg.ID, "error", err)
			writeErr(w, err)
			return
		}
		if active > 0 {
			writeErr(w, errConflict("cannot enable JIT while SCIM tokens are active"))
			return
		}
	}

	update := store.UpdateSsoConfigParams{
		ID:              cfg.ID,
		IssuerURL:       req.IssuerURL,
		ClientID:        req.ClientID,
		JitEnabled:      req.JitEnabled,
		AutoLinkByEmail: req.AutoLinkByEmail,
		SsoRequired:     req.SsoRequired,
		GroupMapping:    req.GroupMapping,
	}
	if req.ClientSecret != nil {
		encrypted := ""
		if *req.ClientSecret != "" {
			encrypted, err = s.enc.Encrypt(*req.ClientSecret)
			if err != nil {
				s.logger.Error("encrypt client secret", "error", err)
				writeErr(w, err)
				return
			}
		}
		update.ClientSecretEncrypted = &encrypted
	}

	updated, err := s.store.Queries().UpdateSsoConfig(r.Context(), update)
	if err != nil {
		s.logger.Error("update sso config", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(updated))
}

// deleteConfig handles DELETE /api/sso/configs/{id}. Active configs must be
// deactivated first.
func (s *Server) deleteConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	deleted, err := s.store.Queries().SoftDeleteSsoConfig(r.Context(), cfg.ID)
	if err != nil {
		s.logger.Error("delete sso config", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}
	if !deleted {
		writeErr(w, errConflict("deactivate the config before deleting it"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// addDomain handles POST /api/sso/configs/{id}/domains
func (s *Server) addDomain(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req struct {
		Domain string `json:"domain" validate:"required"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := Validate(req); err != nil {
		writeErr(w, err)
		return
	}

	domains, err := sso.ValidateAllowedDomains(append(cfg.AllowedDomains, req.Domain))
	if err != nil {
		writeErr(w, errValidation(err.Error()))
		return
	}

	updated, err := s.store.Queries().UpdateSsoConfig(r.Context(), store.UpdateSsoConfigParams{
		ID:             cfg.ID,
		AllowedDomains: domains,
	})
	if err != nil {
		s.logger.Error("add allowed domain", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(updated))
}

// removeDomain handles DELETE /api/sso/configs/{id}/domains/{domain}
func (s *Server) removeDomain(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	target, err := sso.NormalizeDomain(r.PathValue("domain"))
	if err != nil {
		writeErr(w, errValidation("invalid domain"))
		return
	}

	domains := make([]string, 0, len(cfg.AllowedDomains))
	found := false
	for _, d := range cfg.AllowedDomains {
		if d == target {
			found = true
			continue
		}
		domains = append(domains, d)
	}
	if !found {
		writeErr(w, errNotFound("domain not in allow-list"))
		return
	}

	updated, err := s.store.Queries().UpdateSsoConfig(r.Context(), store.UpdateSsoConfigParams{
		ID:             cfg.ID,
		AllowedDomains: domains,
	})
	if err != nil {
		s.logger.Error("remove allowed domain", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(updated))
}

// activateConfig handles POST /api/sso/configs/{id}/activate. Activation
// requires at least one allowed domain and a passing discovery check.
func (s *Server) activateConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	if len(cfg.AllowedDomains) == 0 {
		writeErr(w, errConfiguration("at least one allowed domain is required before activation"))
		return
	}

	result, err := s.validateConnection(r, cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !result.OK {
		writeErr(w, errUpstream("discovery check failed: "+result.Error))
		return
	}

	updated, err := s.store.Queries().SetSsoConfigActive(r.Context(), cfg.ID, true)
	if err != nil {
		s.logger.Error("activate sso config", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(updated))
}

// deactivateConfig handles POST /api/sso/configs/{id}/deactivate
func (s *Server) deactivateConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	updated, err := s.store.Queries().SetSsoConfigActive(r.Context(), cfg.ID, false)
	if err != nil {
		s.logger.Error("deactivate sso config", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(updated))
}

// testConnection handles POST /api/sso/configs/{id}/test. Unlike the login
// flow, the underlying error is returned: the audience is an administrator
// debugging their IdP configuration.
func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	result, err := s.validateConnection(r, cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    result.OK,
		"error": result.Error,
	})
}

func (s *Server) validateConnection(r *http.Request, cfg store.SsoConfig) (sso.ValidationResult, error) {
	provider, err := s.providers.Resolve(cfg.Protocol)
	if err != nil {
		return sso.ValidationResult{}, errConfiguration(err.Error())
	}

	secret := ""
	if cfg.ClientSecretEncrypted != "" {
		secret, err = s.enc.Decrypt(cfg.ClientSecretEncrypted)
		if err != nil {
			s.logger.Error("decrypt client secret", "config_id", cfg.ID, "error", err)
			return sso.ValidationResult{}, err
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	return provider.ValidateConfig(ctx, cfg, secret), nil
}

// issueScimToken handles POST /api/sso/configs/{id}/scim-tokens. The raw
// token appears in this response and nowhere else.
func (s *Server) issueScimToken(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req struct {
		Name string `json:"name" validate:"required,min=1,max=100"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := Validate(req); err != nil {
		writeErr(w, err)
		return
	}

	generated, err := s.tokens.Generate(r.Context(), cfg.ID, req.Name)
	if err != nil {
		if errors.Is(err, scim.ErrJitEnabled) {
			writeErr(w, errConflict("disable JIT provisioning before issuing SCIM tokens"))
			return
		}
		s.logger.Error("issue scim token", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     generated.ID,
		"token":  generated.Token,
		"prefix": generated.Prefix,
	})
}

// listScimTokens handles GET /api/sso/configs/{id}/scim-tokens
func (s *Server) listScimTokens(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	tokens, err := s.tokens.List(r.Context(), cfg.ID)
	if err != nil {
		s.logger.Error("list scim tokens", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}

	out := make([]map[string]any, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, map[string]any{
			"id":         t.ID,
			"name":       t.Name,
			"prefix":     t.TokenPrefix,
			"isActive":   t.IsActive,
			"createdAt":  t.CreatedAt,
			"lastUsedAt": t.LastUsedAt,
			"revokedAt":  t.RevokedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

// revokeScimToken handles DELETE /api/sso/configs/{id}/scim-tokens/{tokenId}
func (s *Server) revokeScimToken(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	tokenID := r.PathValue("tokenId")
	tokens, err := s.tokens.List(r.Context(), cfg.ID)
	if err != nil {
		s.logger.Error("list scim tokens", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}
	owned := false
	for _, t := range tokens {
		if t.ID == tokenID {
			owned = true
			break
		}
	}
	if !owned {
		writeErr(w, errNotFound("token not found"))
		return
	}

	revoked, err := s.tokens.Revoke(r.Context(), tokenID)
	if err != nil {
		s.logger.Error("revoke scim token", "token_id", tokenID, "error", err)
		writeErr(w, err)
		return
	}
	if !revoked {
		writeErr(w, errConflict("token already revoked"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listProvisioningLogs handles GET /api/sso/configs/{id}/provisioning-logs
func (s *Server) listProvisioningLogs(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadTenantConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	limit := parseQueryInt(r.URL.Query(), "limit", 50, 200)
	offset := parseQueryInt(r.URL.Query(), "offset", 0, 1<<30)

	logs, err := s.store.Queries().ListProvisioningLogs(r.Context(), cfg.ID, int32(limit), int32(offset))
	if err != nil {
		s.logger.Error("list provisioning logs", "config_id", cfg.ID, "error", err)
		writeErr(w, err)
		return
	}

	out := make([]map[string]any, 0, len(logs))
	for _, l := range logs {
		out = append(out, map[string]any{
			"id":         l.ID,
			"operation":  l.Operation,
			"status":     l.Status,
			"resourceId": l.ResourceID,
			"externalId": l.ExternalID,
			"detail":     l.Detail,
			"createdAt":  l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

func parseQueryInt(q url.Values, key string, def, max int) int {
	raw := q.Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
