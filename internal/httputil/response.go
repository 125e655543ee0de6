// Package httputil holds the JSON response helpers shared by the API and its
// middleware, plus a client for the API.
package httputil

import (
	"encoding/json"
	"net/http"

	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
)

// ErrorBody is the JSON shape of every failed response.
type ErrorBody struct {
	Error   string         `json:"error"`
	Code    apperr.Code    `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes err as an ErrorBody. Errors that are not service errors
// are reported as internal without exposing their text.
func WriteError(w http.ResponseWriter, err error) {
	svcErr := apperr.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperr.Internal("internal error", err)
	}
	status := svcErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := ErrorBody{Error: svcErr.Message, Code: svcErr.Code, Details: svcErr.Details}
	if svcErr.Code == apperr.CodeInternal {
		body.Details = nil
	}
	WriteJSON(w, status, body)
}
