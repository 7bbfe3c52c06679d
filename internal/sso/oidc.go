package sso

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/northbeam/backoffice/server/internal/store"
)

// OIDCProvider implements Provider against OpenID Connect identity providers.
// Discovery runs fresh on every call so issuer key rotation and endpoint
// changes take effect without a restart.
type OIDCProvider struct{}

// NewOIDCProvider creates an OIDC provider.
func NewOIDCProvider() *OIDCProvider {
	return &OIDCProvider{}
}

func (p *OIDCProvider) discover(ctx context.Context, cfg store.SsoConfig) (*oidc.Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return provider, nil
}

func oauth2Config(provider *oidc.Provider, cfg store.SsoConfig, clientSecret, redirectURI string) oauth2.Config {
	return oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: clientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		RedirectURL:  redirectURI,
	}
}

// BuildAuthURL performs discovery and builds the authorization redirect with
// PKCE and nonce.
func (p *OIDCProvider) BuildAuthURL(ctx context.Context, cfg store.SsoConfig, params AuthURLParams) (string, error) {
	provider, err := p.discover(ctx, cfg)
	if err != nil {
		return "", err
	}

	oauth2Cfg := oauth2Config(provider, cfg, params.ClientSecret, params.RedirectURI)

	opts := []oauth2.AuthCodeOption{oidc.Nonce(params.Nonce)}
	if params.CodeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(params.CodeVerifier))
	}
	return oauth2Cfg.AuthCodeURL(params.State, opts...), nil
}

// HandleCallback exchanges the authorization code, verifies the id_token
// against the expected nonce, and extracts the normalized identity. The
// state is re-checked here so the provider rejects mismatches even if the
// caller's own comparison is bypassed.
func (p *OIDCProvider) HandleCallback(ctx context.Context, cfg store.SsoConfig, input CallbackInput) (*Identity, error) {
	if input.Params.Error != "" {
		return nil, fmt.Errorf("idp returned error: %s", input.Params.Error)
	}
	if input.Params.Code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}
	if input.Params.State != input.ExpectedState {
		return nil, fmt.Errorf("state mismatch")
	}

	provider, err := p.discover(ctx, cfg)
	if err != nil {
		return nil, err
	}

	oauth2Cfg := oauth2Config(provider, cfg, input.ClientSecret, input.RedirectURI)

	var opts []oauth2.AuthCodeOption
	if input.CodeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(input.CodeVerifier))
	}
	oauth2Token, err := oauth2Cfg.Exchange(ctx, input.Params.Code, opts...)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	if idToken.Nonce != input.ExpectedNonce {
		return nil, fmt.Errorf("nonce mismatch")
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}

	// Best-effort userinfo merge. Failures are ignored and id_token claims
	// win on conflict.
	if userInfo, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(oauth2Token)); err == nil {
		var uiClaims map[string]any
		if err := userInfo.Claims(&uiClaims); err == nil {
			for k, v := range uiClaims {
				if _, exists := claims[k]; !exists {
					claims[k] = v
				}
			}
		}
	}

	identity := &Identity{
		Subject: idToken.Subject,
		Groups:  extractGroups(claims),
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		identity.EmailVerified = &verified
	}

	return identity, nil
}

// ValidateConfig checks the issuer is reachable and serves a discovery
// document. No token exchange is attempted.
func (p *OIDCProvider) ValidateConfig(ctx context.Context, cfg store.SsoConfig, clientSecret string) ValidationResult {
	if _, err := p.discover(ctx, cfg); err != nil {
		return ValidationResult{OK: false, Error: err.Error()}
	}
	return ValidationResult{OK: true}
}

// extractGroups harvests group tokens from every claim that plausibly carries
// group or role membership: "groups", "roles", "role", and vendor-prefixed
// keys like "cognito:roles". Values may be strings, arrays, or objects;
// object keys and nested "name" values count as tokens too.
func extractGroups(claims map[string]any) []string {
	seen := make(map[string]struct{})
	var groups []string

	add := func(raw string) {
		g := strings.ToLower(strings.TrimSpace(raw))
		if g == "" {
			return
		}
		if _, dup := seen[g]; dup {
			return
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}

	for key, value := range claims {
		if !isGroupClaim(key) {
			continue
		}
		harvestGroupValue(value, add)
	}
	return groups
}

func isGroupClaim(key string) bool {
	k := strings.ToLower(key)
	return k == "groups" || k == "roles" || k == "role" || strings.HasSuffix(k, ":roles")
}

func harvestGroupValue(value any, add func(string)) {
	switch v := value.(type) {
	case string:
		// Some providers return space-separated groups.
		for _, s := range strings.Fields(v) {
			add(s)
		}
	case []any:
		for _, item := range v {
			harvestGroupValue(item, add)
		}
	case map[string]any:
		for k, nested := range v {
			if strings.EqualFold(k, "name") {
				if s, ok := nested.(string); ok {
					add(s)
					continue
				}
			}
			add(k)
			switch nested.(type) {
			case map[string]any, []any:
				harvestGroupValue(nested, add)
			}
		}
	}
}
