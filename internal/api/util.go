// Package api serves the browser-facing SSO endpoints and the admin API for
// managing SSO connections.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes in API error bodies.
const (
	CodeAuthentication = "authentication_error"
	CodeAuthorization  = "authorization_error"
	CodeConfiguration  = "configuration_error"
	CodeValidation     = "validation_error"
	CodeConflict       = "conflict_error"
	CodeNotFound       = "not_found"
	CodeUpstream       = "upstream_error"
	CodeInternal       = "internal_error"
)

// APIError is an error with an HTTP status and a stable machine code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func apiErr(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

func errAuthentication(message string) *APIError {
	return apiErr(http.StatusUnauthorized, CodeAuthentication, message)
}

func errAuthorization(message string) *APIError {
	return apiErr(http.StatusForbidden, CodeAuthorization, message)
}

func errConfiguration(message string) *APIError {
	return apiErr(http.StatusBadRequest, CodeConfiguration, message)
}

func errValidation(message string) *APIError {
	return apiErr(http.StatusBadRequest, CodeValidation, message)
}

func errConflict(message string) *APIError {
	return apiErr(http.StatusConflict, CodeConflict, message)
}

func errNotFound(message string) *APIError {
	return apiErr(http.StatusNotFound, CodeNotFound, message)
}

func errUpstream(message string) *APIError {
	return apiErr(http.StatusBadGateway, CodeUpstream, message)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr writes an error as a structured JSON body. Unknown error types
// become an opaque 500.
func writeErr(w http.ResponseWriter, err error) {
	var ae *APIError
	if errors.As(err, &ae) {
		writeJSON(w, ae.Status, map[string]any{
			"error": map[string]string{
				"code":    ae.Code,
				"message": ae.Message,
			},
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": map[string]string{
			"code":    CodeInternal,
			"message": "internal server error",
		},
	})
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errValidation("invalid JSON body")
	}
	return nil
}
