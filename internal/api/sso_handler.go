package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/northbeam/backoffice/server/internal/auth"
	"github.com/northbeam/backoffice/server/internal/sso"
)

// loginErrorPath is where failed callbacks land, with ?error=<code> appended.
const loginErrorPath = "/login"

// initiateLogin handles GET /sso/initiate?configId=&returnUrl=
func (s *Server) initiateLogin(w http.ResponseWriter, r *http.Request) {
	configID := r.URL.Query().Get("configId")
	if configID == "" {
		writeErr(w, errValidation("configId is required"))
		return
	}
	returnURL := sanitizeReturnURL(r.URL.Query().Get("returnUrl"))

	result, err := s.sso.InitiateLogin(r.Context(), configID, returnURL, s.callbackURL())
	if err != nil {
		s.logger.Warn("sso initiate failed", "config_id", configID, "error", err)
		redirectLoginError(w, r, sso.FlowErrorCode(err))
		return
	}

	auth.SetSSOStateCookie(w, result.StateCookie, auth.IsSecureRequest(r))
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// oidcCallback handles GET|POST /sso/callback/oidc. POST covers form_post
// response mode.
func (s *Server) oidcCallback(w http.ResponseWriter, r *http.Request) {
	var params sso.CallbackParams
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			redirectLoginError(w, r, sso.CodeMissingParams)
			return
		}
		params = sso.CallbackParams{
			Code:  r.PostFormValue("code"),
			State: r.PostFormValue("state"),
			Error: r.PostFormValue("error"),
		}
	} else {
		query := r.URL.Query()
		params = sso.CallbackParams{
			Code:  query.Get("code"),
			State: query.Get("state"),
			Error: query.Get("error"),
		}
	}

	var stateCookie string
	if c, err := r.Cookie(auth.SSOStateCookie); err == nil {
		stateCookie = c.Value
	}

	secure := auth.IsSecureRequest(r)

	result, err := s.sso.HandleOIDCCallback(r.Context(), params, stateCookie, s.callbackURL())

	// The flow state is single-use in practice: the cookie is cleared on
	// every outcome.
	auth.ClearSSOStateCookie(w, secure)

	if err != nil {
		redirectLoginError(w, r, sso.FlowErrorCode(err))
		return
	}

	auth.SetSessionCookies(w, result.Token, result.SessionToken, result.SessionExpiresAt, secure)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// homeRealmDiscovery handles POST /sso/hrd {email}. Answers whether the
// email's domain belongs to an SSO connection, pre-authentication.
func (s *Server) homeRealmDiscovery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email" validate:"required,email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := Validate(req); err != nil {
		writeErr(w, err)
		return
	}

	result, err := s.sso.HomeRealmDiscovery(r.Context(), req.Email)
	if err != nil {
		s.logger.Error("home realm discovery", "error", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func redirectLoginError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, loginErrorPath+"?error="+url.QueryEscape(code), http.StatusFound)
}

// sanitizeReturnURL keeps redirects on-site. Anything absolute or
// protocol-relative falls back to the default.
func sanitizeReturnURL(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return ""
	}
	return raw
}
