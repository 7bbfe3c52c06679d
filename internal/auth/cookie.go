package auth

import (
	"net/http"
	"time"
)

const (
	AuthTokenCookie    = "auth_token"
	SessionTokenCookie = "session_token"
	SSOStateCookie     = "sso_state"

	// ssoStateTTL matches the flow-state codec TTL.
	ssoStateTTL = 300 * time.Second
)

// SetSSOStateCookie sets the encrypted login flow state on the response.
// SameSite=Lax so the cookie is sent on the top-level redirect back from the IdP.
func SetSSOStateCookie(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SSOStateCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ssoStateTTL.Seconds()),
	})
}

// ClearSSOStateCookie removes the flow-state cookie after the callback consumed it.
func ClearSSOStateCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SSOStateCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// SetSessionCookies sets httpOnly cookies for the auth token and the session token.
func SetSessionCookies(w http.ResponseWriter, authToken, sessionToken string, expiresAt time.Time, secure bool) {
	for name, value := range map[string]string{
		AuthTokenCookie:    authToken,
		SessionTokenCookie: sessionToken,
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			Expires:  expiresAt,
		})
	}
}

// ClearSessionCookies removes the session cookies by expiring them immediately.
func ClearSessionCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{AuthTokenCookie, SessionTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}

// IsSecureRequest checks whether the request was made over HTTPS.
func IsSecureRequest(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
