package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeam/backoffice/server/internal/auth"
	"github.com/northbeam/backoffice/server/internal/testutil"
)

func (e *apiTestEnv) rawRequest(method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestInitiateLogin_MissingConfigID(t *testing.T) {
	env := setupAPI(t)
	w := env.rawRequest("GET", "/sso/initiate", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitiateLogin_UnknownConfigRedirectsWithCode(t *testing.T) {
	env := setupAPI(t)
	w := env.rawRequest("GET", "/sso/initiate?configId="+testutil.NewID(), "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?error=sso_missing_config", w.Header().Get("Location"))
}

func TestInitiateLogin_InactiveConfigRedirectsWithCode(t *testing.T) {
	env := setupAPI(t)
	cfg := testutil.CreateTestConfig(t, env.st, env.tn)

	w := env.rawRequest("GET", "/sso/initiate?configId="+cfg.ID, "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?error=sso_missing_config", w.Header().Get("Location"))
}

func TestInitiateLogin_RedirectsToIdP(t *testing.T) {
	env := setupAPI(t)
	idp := fakeIdP(t)
	cfg := testutil.CreateTestConfig(t, env.st, env.tn, testutil.WithIssuer(idp.URL))
	testutil.ActivateConfig(t, env.st, cfg.ID)

	w := env.rawRequest("GET", "/sso/initiate?configId="+cfg.ID+"&returnUrl=%2Fbackend%2Fsettings", "")
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", loc.Path)
	q := loc.Query()
	assert.Equal(t, "test-client", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.NotEmpty(t, q.Get("state"))
	assert.NotEmpty(t, q.Get("nonce"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Contains(t, q.Get("scope"), "openid")
	assert.Equal(t, "https://app.example.com/sso/callback/oidc", q.Get("redirect_uri"))

	// The flow state travels in an httpOnly cookie, not in the URL.
	var stateCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SSOStateCookie {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.NotEmpty(t, stateCookie.Value)
	assert.True(t, stateCookie.HttpOnly)
	assert.NotContains(t, stateCookie.Value, q.Get("state"))
}

func TestCallback_MissingStateCookie(t *testing.T) {
	env := setupAPI(t)

	w := env.rawRequest("GET", "/sso/callback/oidc?code=abc&state=xyz", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?error=sso_state_missing", w.Header().Get("Location"))

	// The state cookie is always cleared on a callback.
	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SSOStateCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestCallback_GarbageStateCookie(t *testing.T) {
	env := setupAPI(t)

	req := httptest.NewRequest("GET", "/sso/callback/oidc?code=abc&state=xyz", nil)
	req.AddCookie(&http.Cookie{Name: auth.SSOStateCookie, Value: "not-a-valid-ciphertext"})
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?error=sso_state_missing", w.Header().Get("Location"))
}

func TestCallback_FormPostAccepted(t *testing.T) {
	env := setupAPI(t)

	body := url.Values{"code": {"abc"}, "state": {"xyz"}}.Encode()
	req := httptest.NewRequest("POST", "/sso/callback/oidc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	// Without a state cookie the outcome code is the same as GET.
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?error=sso_state_missing", w.Header().Get("Location"))
}

func TestHomeRealmDiscovery(t *testing.T) {
	env := setupAPI(t)
	cfg := testutil.CreateTestConfig(t, env.st, env.tn, testutil.WithDomains("corp.example.com"))
	testutil.ActivateConfig(t, env.st, cfg.ID)

	w := env.rawRequest("POST", "/sso/hrd", `{"email":"user@corp.example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["hasSso"])
	assert.Equal(t, cfg.ID, resp["configId"])
	assert.Equal(t, "oidc", resp["protocol"])
}

func TestHomeRealmDiscovery_NoMatch(t *testing.T) {
	env := setupAPI(t)

	w := env.rawRequest("POST", "/sso/hrd", `{"email":"user@personal.example.org"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["hasSso"])
	assert.NotContains(t, resp, "configId")
}

func TestHomeRealmDiscovery_InvalidEmail(t *testing.T) {
	env := setupAPI(t)
	w := env.rawRequest("POST", "/sso/hrd", `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
