package sso

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/northbeam/backoffice/server/internal/auth"
	"github.com/northbeam/backoffice/server/internal/crypto"
	"github.com/northbeam/backoffice/server/internal/store"
)

// DefaultReturnURL is where a completed login lands when the initiating
// request did not carry a returnUrl.
const DefaultReturnURL = "/backend"

// providerTimeout bounds every IdP network call (discovery, token exchange,
// userinfo) so a stalled IdP cannot pin a login handler.
const providerTimeout = 10 * time.Second

// Redirect error codes surfaced to the browser. Internal detail stays in
// logs and events.
const (
	CodeMissingConfig    = "sso_missing_config"
	CodeStateMissing     = "sso_state_missing"
	CodeIdPError         = "sso_idp_error"
	CodeMissingParams    = "sso_missing_params"
	CodeEmailNotVerified = "sso_email_not_verified"
	CodeFailed           = "sso_failed"
)

// FlowError pairs an internal error with the coarse code the browser sees.
type FlowError struct {
	Code string
	Err  error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

func flowErr(code string, err error) *FlowError {
	return &FlowError{Code: code, Err: err}
}

// FlowErrorCode extracts the browser-facing code from an error, defaulting
// to the generic failure code.
func FlowErrorCode(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeFailed
}

// InitiateResult is what the login-initiation handler needs: where to send
// the browser and the encrypted flow-state cookie value.
type InitiateResult struct {
	RedirectURL string
	StateCookie string
}

// LoginResult is a completed federated login.
type LoginResult struct {
	User             store.User
	Token            string
	SessionToken     string
	SessionExpiresAt time.Time
	RedirectURL      string
}

// HRDResult answers a home-realm-discovery probe.
type HRDResult struct {
	HasSSO   bool   `json:"hasSso"`
	ConfigID string `json:"configId,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// Service orchestrates the federated login flow from initiation through
// session issuance. All cross-request continuity lives in the encrypted
// state cookie; the service itself is stateless.
type Service struct {
	store      *store.Store
	providers  *Registry
	codec      *StateCodec
	encryptor  *crypto.Encryptor
	linker     *Linker
	jwt        *auth.JWTManager
	emitter    *Emitter
	sessionTTL time.Duration
	logger     *slog.Logger
}

// NewService creates the orchestration service.
func NewService(st *store.Store, providers *Registry, codec *StateCodec, enc *crypto.Encryptor, linker *Linker, jwt *auth.JWTManager, emitter *Emitter, sessionTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:      st,
		providers:  providers,
		codec:      codec,
		encryptor:  enc,
		linker:     linker,
		jwt:        jwt,
		emitter:    emitter,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

func (s *Service) loadActiveConfig(ctx context.Context, configID string) (store.SsoConfig, error) {
	cfg, err := s.store.Queries().GetSsoConfigByID(ctx, configID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SsoConfig{}, flowErr(CodeMissingConfig, fmt.Errorf("sso config %s not found", configID))
		}
		return store.SsoConfig{}, flowErr(CodeFailed, fmt.Errorf("load sso config: %w", err))
	}
	if !cfg.IsActive {
		return store.SsoConfig{}, flowErr(CodeMissingConfig, fmt.Errorf("sso config %s is inactive", configID))
	}
	return cfg, nil
}

func (s *Service) clientSecret(cfg store.SsoConfig) (string, error) {
	if cfg.ClientSecretEncrypted == "" {
		return "", nil
	}
	secret, err := s.encryptor.Decrypt(cfg.ClientSecretEncrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt client secret: %w", err)
	}
	return secret, nil
}

// InitiateLogin builds the IdP redirect for a config and encodes the flow
// state into a cookie value the callback will present.
func (s *Service) InitiateLogin(ctx context.Context, configID, returnURL, redirectURI string) (*InitiateResult, error) {
	cfg, err := s.loadActiveConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	provider, err := s.providers.Resolve(cfg.Protocol)
	if err != nil {
		return nil, flowErr(CodeMissingConfig, err)
	}

	secret, err := s.clientSecret(cfg)
	if err != nil {
		return nil, flowErr(CodeFailed, err)
	}

	state, err := GenerateState()
	if err != nil {
		return nil, flowErr(CodeFailed, err)
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, flowErr(CodeFailed, err)
	}
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, flowErr(CodeFailed, err)
	}

	idpCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	authURL, err := provider.BuildAuthURL(idpCtx, cfg, AuthURLParams{
		State:        state,
		Nonce:        nonce,
		RedirectURI:  redirectURI,
		CodeVerifier: verifier,
		ClientSecret: secret,
	})
	if err != nil {
		return nil, flowErr(CodeIdPError, err)
	}

	cookie, err := s.codec.Encode(FlowState{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		ConfigID:     cfg.ID,
		ReturnURL:    returnURL,
		ExpiresAt:    time.Now().Add(FlowStateTTL),
	})
	if err != nil {
		return nil, flowErr(CodeFailed, fmt.Errorf("encode flow state: %w", err))
	}

	s.emitter.Emit(ctx, cfg.ID, EventLoginInitiated, map[string]any{
		"config_id": cfg.ID,
		"protocol":  cfg.Protocol,
	})

	return &InitiateResult{RedirectURL: authURL, StateCookie: cookie}, nil
}

// HandleOIDCCallback validates the callback against the flow state, resolves
// the external identity to a local user, syncs roles and issues a session.
// Steps run strictly in order; each assumes the invariants of the previous.
func (s *Service) HandleOIDCCallback(ctx context.Context, params CallbackParams, stateCookie, redirectURI string) (*LoginResult, error) {
	result, configID, err := s.handleCallback(ctx, params, stateCookie, redirectURI)
	if err != nil {
		s.logger.Warn("sso callback failed", "code", FlowErrorCode(err), "config_id", configID, "error", err)
		s.emitter.Emit(ctx, configID, EventLoginFailed, map[string]any{
			"code":   FlowErrorCode(err),
			"reason": err.Error(),
		})
		return nil, err
	}
	return result, nil
}

// handleCallback returns the config ID from the decoded flow state (empty
// before the state is known) so failures can be attributed to a connection.
func (s *Service) handleCallback(ctx context.Context, params CallbackParams, stateCookie, redirectURI string) (*LoginResult, string, error) {
	// Step 1: decode the flow state. Failure means no valid login attempt
	// is in flight from this browser.
	if stateCookie == "" {
		return nil, "", flowErr(CodeStateMissing, errors.New("state cookie not present"))
	}
	flowState := s.codec.Decode(stateCookie)
	if flowState == nil {
		return nil, "", flowErr(CodeStateMissing, errors.New("state cookie invalid or expired"))
	}
	configID := flowState.ConfigID

	if params.Error != "" {
		return nil, configID, flowErr(CodeIdPError, fmt.Errorf("idp returned error: %s", params.Error))
	}
	if params.Code == "" || params.State == "" {
		return nil, configID, flowErr(CodeMissingParams, errors.New("callback missing code or state"))
	}

	// Step 2: CSRF check. Any mismatch reads as a forged callback.
	if subtle.ConstantTimeCompare([]byte(params.State), []byte(flowState.State)) != 1 {
		return nil, configID, flowErr(CodeFailed, errors.New("state parameter mismatch"))
	}

	// Step 3: the config must still exist and still be active.
	cfg, err := s.loadActiveConfig(ctx, configID)
	if err != nil {
		return nil, configID, err
	}
	provider, err := s.providers.Resolve(cfg.Protocol)
	if err != nil {
		return nil, configID, flowErr(CodeMissingConfig, err)
	}
	secret, err := s.clientSecret(cfg)
	if err != nil {
		return nil, configID, flowErr(CodeFailed, err)
	}

	// Step 4: code exchange and claim extraction. The provider re-checks
	// state and nonce on its own.
	idpCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	identity, err := provider.HandleCallback(idpCtx, cfg, CallbackInput{
		Params:        params,
		RedirectURI:   redirectURI,
		ExpectedState: flowState.State,
		ExpectedNonce: flowState.Nonce,
		CodeVerifier:  flowState.CodeVerifier,
		ClientSecret:  secret,
	})
	if err != nil {
		return nil, configID, flowErr(CodeIdPError, err)
	}

	// Step 5: account resolution and role sync.
	resolved, err := s.linker.ResolveUser(ctx, cfg, identity)
	if err != nil {
		if errors.Is(err, ErrEmailNotVerified) {
			return nil, configID, flowErr(CodeEmailNotVerified, err)
		}
		return nil, configID, flowErr(CodeFailed, err)
	}

	if _, derr := s.store.Queries().GetOpenDeactivation(ctx, cfg.ID, resolved.User.ID); derr == nil {
		return nil, configID, flowErr(CodeFailed, fmt.Errorf("user %s is deactivated for this connection", resolved.User.ID))
	} else if !errors.Is(derr, pgx.ErrNoRows) {
		return nil, configID, flowErr(CodeFailed, fmt.Errorf("check deactivation: %w", derr))
	}

	if _, err := s.linker.SyncRoles(ctx, cfg, resolved.User, identity.Groups); err != nil {
		return nil, configID, flowErr(CodeFailed, err)
	}

	// Step 6: session issuance. The version bump invalidates any tokens
	// minted before this login.
	result, err := s.issueSession(ctx, resolved.User, flowState.ReturnURL)
	if err != nil {
		return nil, configID, flowErr(CodeFailed, err)
	}

	s.emitter.Emit(ctx, cfg.ID, EventLoginCompleted, map[string]any{
		"user_id":     resolved.User.ID,
		"subject":     identity.Subject,
		"jit_created": resolved.Created,
	})
	return result, configID, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User, returnURL string) (*LoginResult, error) {
	q := s.store.Queries()

	version, err := q.BumpSessionVersion(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("bump session version: %w", err)
	}

	roles, err := q.ListUserRoleNames(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}

	sessionToken, err := randomToken("session token")
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(s.sessionTTL)
	session, err := q.CreateSession(ctx, store.NewID(), user.ID, sessionToken, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	issued, err := s.jwt.GenerateToken(user.ID, user.Email, user.TenantID, roles, session.ID, version)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	if returnURL == "" {
		returnURL = DefaultReturnURL
	}
	return &LoginResult{
		User:             user,
		Token:            issued.Token,
		SessionToken:     sessionToken,
		SessionExpiresAt: expiresAt,
		RedirectURL:      returnURL,
	}, nil
}

// HomeRealmDiscovery reports whether the email's domain belongs to an active
// SSO connection. Unknown domains and malformed emails both answer no.
func (s *Service) HomeRealmDiscovery(ctx context.Context, email string) (*HRDResult, error) {
	domain, err := EmailDomain(email)
	if err != nil {
		return &HRDResult{HasSSO: false}, nil
	}
	cfg, err := s.store.Queries().FindActiveSsoConfigByDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &HRDResult{HasSSO: false}, nil
		}
		return nil, fmt.Errorf("find config by domain: %w", err)
	}
	return &HRDResult{HasSSO: true, ConfigID: cfg.ID, Protocol: cfg.Protocol}, nil
}
