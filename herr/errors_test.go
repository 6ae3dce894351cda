package herr

import (
	"encoding/json"
	"errors"
	"fittrack/apperr"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFrom(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"validation", apperr.Invalid("date", "Date and duration are required"), 400, "Date and duration are required"},
		{"authentication", apperr.Unauthenticated("Invalid email or password", nil), 401, "Invalid email or password"},
		{"not found", apperr.Missing("Activity not found", nil), 404, "Activity not found"},
		{"network", apperr.Unreachable("bucket down", errors.New("dial tcp")), 502, "Service unavailable, please try again later"},
		{"wrapped", fmt.Errorf("outer: %w", apperr.Missing("Activity not found", nil)), 404, "Activity not found"},
		{"plain", errors.New("disk on fire"), 500, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := From(tt.err, "desc")
			if e.Code != tt.code {
				t.Errorf("expected code %d, got %d", tt.code, e.Code)
			}
			if e.HTTPMessage != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, e.HTTPMessage)
			}
			if !errors.Is(e.Error, tt.err) {
				t.Errorf("wrapped error not kept")
			}
		})
	}
}

func TestWrapWritesJSON(t *testing.T) {
	h := Wrap(func(w http.ResponseWriter, r *http.Request) *Error {
		return From(apperr.Invalid("date", "Date and duration are required"), "test")
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var body struct {
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("error decoding body: %v", err)
	}
	if body.StatusCode != 400 || body.Message != "Date and duration are required" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestWrapNilWritesNothing(t *testing.T) {
	h := Wrap(func(w http.ResponseWriter, r *http.Request) *Error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}
