package scim

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"

	"github.com/northbeam/backoffice/server/internal/auth"
	"github.com/northbeam/backoffice/server/internal/store"
)

// tokenPrefixLen is the number of leading raw-token characters stored in
// clear for candidate lookup.
const tokenPrefixLen = 12

var (
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = errors.New("invalid scim token")
	// ErrJitEnabled is returned when issuing a token for a config that still
	// has JIT provisioning on. SCIM and JIT are mutually exclusive per config.
	ErrJitEnabled = errors.New("scim provisioning requires jit provisioning to be disabled")
)

// GeneratedToken carries a freshly-issued token. Token holds the raw value,
// returned exactly once; only its hash and prefix persist.
type GeneratedToken struct {
	ID     string
	Token  string
	Prefix string
}

// TokenService issues, verifies and revokes SCIM bearer tokens.
type TokenService struct {
	store *store.Store
}

// NewTokenService creates a token service.
func NewTokenService(st *store.Store) *TokenService {
	return &TokenService{store: st}
}

// Generate mints a new bearer token for a config. The config must exist and
// must not have JIT provisioning enabled.
func (s *TokenService) Generate(ctx context.Context, configID, name string) (*GeneratedToken, error) {
	cfg, err := s.store.Queries().GetSsoConfigByID(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("load sso config: %w", err)
	}
	if cfg.JitEnabled {
		return nil, ErrJitEnabled
	}

	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate scim token: %w", err)
	}
	token := "scim_" + base64.RawURLEncoding.EncodeToString(raw)
	prefix := token[:tokenPrefixLen]

	hash, err := auth.HashToken(token)
	if err != nil {
		return nil, fmt.Errorf("hash scim token: %w", err)
	}

	created, err := s.store.Queries().CreateScimToken(ctx, store.NewID(), configID, name, prefix, hash)
	if err != nil {
		return nil, fmt.Errorf("store scim token: %w", err)
	}

	return &GeneratedToken{ID: created.ID, Token: token, Prefix: prefix}, nil
}

// Verify resolves a raw bearer token to its SSO config. Candidates are
// narrowed by prefix and compared with bcrypt; when no candidate matches, a
// dummy comparison runs anyway so response timing does not reveal whether
// the prefix exists.
func (s *TokenService) Verify(ctx context.Context, rawToken string) (store.SsoConfig, error) {
	if len(rawToken) < tokenPrefixLen {
		auth.BurnDummyHash(rawToken)
		return store.SsoConfig{}, ErrInvalidToken
	}

	candidates, err := s.store.Queries().ListActiveScimTokensByPrefix(ctx, rawToken[:tokenPrefixLen])
	if err != nil {
		return store.SsoConfig{}, fmt.Errorf("lookup scim tokens: %w", err)
	}

	var matched *store.ScimToken
	for i := range candidates {
		if auth.VerifyTokenHash(rawToken, candidates[i].TokenHash) {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		auth.BurnDummyHash(rawToken)
		return store.SsoConfig{}, ErrInvalidToken
	}

	cfg, err := s.store.Queries().GetSsoConfigByID(ctx, matched.ConfigID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SsoConfig{}, ErrInvalidToken
		}
		return store.SsoConfig{}, fmt.Errorf("load sso config: %w", err)
	}

	if err := s.store.Queries().TouchScimToken(ctx, matched.ID); err != nil {
		return store.SsoConfig{}, fmt.Errorf("touch scim token: %w", err)
	}
	return cfg, nil
}

// Revoke deactivates a token. Returns false if the token was already revoked
// or never existed.
func (s *TokenService) Revoke(ctx context.Context, tokenID string) (bool, error) {
	return s.store.Queries().RevokeScimToken(ctx, tokenID)
}

// List returns all tokens for a config, revoked ones included.
func (s *TokenService) List(ctx context.Context, configID string) ([]store.ScimToken, error) {
	return s.store.Queries().ListScimTokensForConfig(ctx, configID)
}
