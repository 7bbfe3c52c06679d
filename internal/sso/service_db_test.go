package sso

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeam/backoffice/server/internal/store"
	"github.com/northbeam/backoffice/server/internal/testutil"
)

const testRedirectURI = "https://app.example.com/sso/callback/oidc"

// signingIdP is a minimal OIDC provider for exercising the full login flow:
// discovery, token exchange and JWKS-backed id_token verification. The test
// sets Claims before driving the callback so the id_token carries the nonce
// the flow expects.
type signingIdP struct {
	URL    string
	Claims map[string]any

	key *rsa.PrivateKey
	srv *httptest.Server
}

func newSigningIdP(t *testing.T) *signingIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &signingIdP{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 idp.URL,
			"authorization_endpoint": idp.URL + "/authorize",
			"token_endpoint":         idp.URL + "/token",
			"jwks_uri":               idp.URL + "/jwks",
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(idp.key.N.Bytes()),
				"e":   "AQAB",
			}},
		})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		claims := jwt.MapClaims{
			"iss": idp.URL,
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		for k, v := range idp.Claims {
			claims[k] = v
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "test-key"
		idToken, err := token.SignedString(idp.key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})

	idp.srv = httptest.NewServer(mux)
	idp.URL = idp.srv.URL
	t.Cleanup(idp.srv.Close)
	return idp
}

type loginEnv struct {
	svc *Service
	st  *store.Store
	tn  testutil.Tenant
	cfg store.SsoConfig
	idp *signingIdP
}

func setupLoginFlow(t *testing.T) *loginEnv {
	t.Helper()

	st := testutil.SetupPostgres(t)
	tn := testutil.NewTenant()
	idp := newSigningIdP(t)

	cfg := testutil.CreateTestConfig(t, st, tn,
		testutil.WithIssuer(idp.URL),
		testutil.WithJIT(),
		testutil.WithDomains("example.com"),
		testutil.WithGroupMapping(map[string]string{"engineering": "member"}),
	)
	cfg = testutil.ActivateConfig(t, st, cfg.ID)
	testutil.CreateTestRole(t, st, tn.TenantID, "member")

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	codec, err := NewStateCodec("login-flow-test-state-secret")
	require.NoError(t, err)

	providers := NewRegistry()
	providers.Register(ProtocolOIDC, NewOIDCProvider())

	svc := NewService(st, providers, codec, testutil.NewEncryptor(t),
		NewLinker(st, logger), testutil.NewJWTManager(),
		NewEmitter(st.Queries(), logger), time.Hour, logger)

	return &loginEnv{svc: svc, st: st, tn: tn, cfg: cfg, idp: idp}
}

// login drives a full initiate-then-callback round trip for the given
// subject, returning whatever the callback returns.
func (e *loginEnv) login(t *testing.T, subject, email string) (*LoginResult, error) {
	t.Helper()
	ctx := context.Background()

	initiated, err := e.svc.InitiateLogin(ctx, e.cfg.ID, "/dashboard", testRedirectURI)
	require.NoError(t, err)

	flow := e.svc.codec.Decode(initiated.StateCookie)
	require.NotNil(t, flow)

	e.idp.Claims = map[string]any{
		"sub":            subject,
		"aud":            e.cfg.ClientID,
		"email":          email,
		"email_verified": true,
		"nonce":          flow.Nonce,
		"groups":         []string{"Engineering"},
	}

	return e.svc.HandleOIDCCallback(ctx, CallbackParams{
		Code:  "test-code",
		State: flow.State,
	}, initiated.StateCookie, testRedirectURI)
}

func TestLoginFlow_EndToEnd(t *testing.T) {
	env := setupLoginFlow(t)

	result, err := env.login(t, "subject-e2e", "dana@example.com")
	require.NoError(t, err)

	assert.Equal(t, "dana@example.com", result.User.Email)
	assert.Equal(t, env.tn.TenantID, result.User.TenantID)
	assert.NotEmpty(t, result.Token)
	assert.NotEmpty(t, result.SessionToken)
	assert.Equal(t, "/dashboard", result.RedirectURL)

	roles, err := env.st.Queries().ListUserRoleNames(context.Background(), result.User.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, roles)
}

func TestLoginFlow_DeactivatedUserBlocked(t *testing.T) {
	env := setupLoginFlow(t)
	ctx := context.Background()

	first, err := env.login(t, "subject-deact", "erin@example.com")
	require.NoError(t, err)
	userID := first.User.ID

	require.NoError(t, env.st.Queries().CreateDeactivation(ctx, store.NewID(), env.cfg.ID, userID))

	_, err = env.login(t, "subject-deact", "erin@example.com")
	require.Error(t, err)
	assert.Equal(t, CodeFailed, FlowErrorCode(err))
	assert.Contains(t, err.Error(), "deactivated")

	// Reactivation restores the login path
	closed, err := env.st.Queries().CloseDeactivation(ctx, env.cfg.ID, userID)
	require.NoError(t, err)
	require.True(t, closed)

	again, err := env.login(t, "subject-deact", "erin@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, again.User.ID, "same account resumes after reactivation")
}

func TestLoginFlow_FailureEventCarriesConfigID(t *testing.T) {
	env := setupLoginFlow(t)
	ctx := context.Background()

	initiated, err := env.svc.InitiateLogin(ctx, env.cfg.ID, "", testRedirectURI)
	require.NoError(t, err)

	_, err = env.svc.HandleOIDCCallback(ctx, CallbackParams{
		Code:  "test-code",
		State: "forged-state",
	}, initiated.StateCookie, testRedirectURI)
	require.Error(t, err)

	events, err := env.st.Queries().ListEventsByStream(ctx, env.cfg.ID, 10)
	require.NoError(t, err)

	var sawFailure bool
	for _, ev := range events {
		if ev.EventType == EventLoginFailed {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure, "login.failed should land on the config's event stream")
}

// deadlineProvider records whether the service handed it a context with a
// deadline, since IdP calls must never run unbounded.
type deadlineProvider struct {
	authHasDeadline     bool
	callbackHasDeadline bool
}

func (p *deadlineProvider) BuildAuthURL(ctx context.Context, cfg store.SsoConfig, params AuthURLParams) (string, error) {
	_, p.authHasDeadline = ctx.Deadline()
	return "https://idp.example.com/authorize?state=" + params.State, nil
}

func (p *deadlineProvider) HandleCallback(ctx context.Context, cfg store.SsoConfig, input CallbackInput) (*Identity, error) {
	_, p.callbackHasDeadline = ctx.Deadline()
	verified := true
	return &Identity{
		Subject:       "deadline-subject",
		Email:         "frank@example.com",
		EmailVerified: &verified,
		Groups:        []string{"engineering"},
	}, nil
}

func (p *deadlineProvider) ValidateConfig(ctx context.Context, cfg store.SsoConfig, clientSecret string) ValidationResult {
	return ValidationResult{OK: true}
}

func TestLoginFlow_ProviderCallsCarryDeadline(t *testing.T) {
	env := setupLoginFlow(t)
	ctx := context.Background()

	recorder := &deadlineProvider{}
	env.svc.providers = NewRegistry()
	env.svc.providers.Register(ProtocolOIDC, recorder)

	initiated, err := env.svc.InitiateLogin(ctx, env.cfg.ID, "", testRedirectURI)
	require.NoError(t, err)
	assert.True(t, recorder.authHasDeadline, "auth URL build should run under a deadline")

	flow := env.svc.codec.Decode(initiated.StateCookie)
	require.NotNil(t, flow)

	_, err = env.svc.HandleOIDCCallback(ctx, CallbackParams{
		Code:  "test-code",
		State: flow.State,
	}, initiated.StateCookie, testRedirectURI)
	require.NoError(t, err)
	assert.True(t, recorder.callbackHasDeadline, "token exchange should run under a deadline")
}
