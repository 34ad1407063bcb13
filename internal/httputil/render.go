// Package httputil provides helpers for rendering JSON API responses outside
// of huma-managed operations (middleware, raw chi routes).
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/assetstage/assetstage/internal/errors"
)

// ErrorResponse is the JSON structure for error responses.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Resource  string `json:"resource,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// RenderError writes a JSON error body with the given status. The request
// ID is taken from chi's RequestID middleware when it ran.
func RenderError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := ErrorResponse{
		Code:      code,
		Message:   message,
		Resource:  r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
	}
	WriteJSON(w, status, resp)
}

// WriteErrorResponse renders a pipeline error kind using its status and code.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, kind *apperrors.Kind) {
	RenderError(w, r, kind.HTTPStatus, kind.Code, kind.Message)
}

// WriteJSON marshals v as JSON and writes it with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"code":"InternalError","message":%q}`, err.Error())
	}
}

// FormatTimeHTTP formats t for HTTP Date headers.
func FormatTimeHTTP(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
