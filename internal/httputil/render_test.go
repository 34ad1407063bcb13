package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/assetstage/assetstage/internal/errors"
)

func TestWriteErrorResponse(t *testing.T) {
	var rec *httptest.ResponseRecorder
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteErrorResponse(w, r, apperrors.ErrIllegalKey)
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/uploads/confirm", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Code != "IllegalKeyError" {
		t.Errorf("Code = %q", body.Code)
	}
	if body.Resource != "/api/uploads/confirm" {
		t.Errorf("Resource = %q", body.Resource)
	}
	if body.RequestID == "" {
		t.Error("RequestID should be populated by the RequestID middleware")
	}
}

func TestWriteJSONNilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusNoContent, nil)
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Errorf("got %d with %d bytes", rec.Code, rec.Body.Len())
	}
}

func TestFormatTimeHTTP(t *testing.T) {
	ts := time.Date(2026, 3, 1, 3, 0, 0, 0, time.FixedZone("X", 3600))
	if got := FormatTimeHTTP(ts); got != "Sun, 01 Mar 2026 02:00:00 GMT" {
		t.Errorf("FormatTimeHTTP = %q", got)
	}
}
