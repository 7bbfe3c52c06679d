package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cookieByName(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestSetSSOStateCookie(t *testing.T) {
	w := httptest.NewRecorder()
	SetSSOStateCookie(w, "opaque-state", true)

	c := cookieByName(t, w, SSOStateCookie)
	assert.Equal(t, "opaque-state", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 300, c.MaxAge)
}

func TestClearSSOStateCookie(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSSOStateCookie(w, false)

	c := cookieByName(t, w, SSOStateCookie)
	assert.Empty(t, c.Value)
	assert.Less(t, c.MaxAge, 0)
}

func TestSetSessionCookies(t *testing.T) {
	w := httptest.NewRecorder()
	expires := time.Now().Add(12 * time.Hour)
	SetSessionCookies(w, "jwt-value", "session-value", expires, true)

	auth := cookieByName(t, w, AuthTokenCookie)
	assert.Equal(t, "jwt-value", auth.Value)
	assert.True(t, auth.HttpOnly)
	assert.True(t, auth.Secure)
	assert.WithinDuration(t, expires, auth.Expires, time.Second)

	sess := cookieByName(t, w, SessionTokenCookie)
	assert.Equal(t, "session-value", sess.Value)
	assert.True(t, sess.HttpOnly)
}

func TestClearSessionCookies(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSessionCookies(w, false)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}

func TestIsSecureRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/", nil)
	assert.False(t, IsSecureRequest(r))

	r.Header.Set("X-Forwarded-Proto", "https")
	assert.True(t, IsSecureRequest(r))

	tlsReq := httptest.NewRequest("GET", "https://example.com/", nil)
	assert.True(t, strings.HasPrefix(tlsReq.URL.Scheme, "https"))
	assert.True(t, IsSecureRequest(tlsReq))
}
