package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/godamri/helix-triggers/http/response"
	"github.com/godamri/helix-triggers/pkg/contextx"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{response.CodeInvalidArgument, http.StatusBadRequest},
		{response.CodeUnauthenticated, http.StatusUnauthorized},
		{response.CodePermissionDenied, http.StatusForbidden},
		{response.CodeNotFound, http.StatusNotFound},
		{response.CodeAlreadyExists, http.StatusConflict},
		{response.CodeResourceExhausted, http.StatusTooManyRequests},
		{response.CodeUnavailable, http.StatusServiceUnavailable},
		{response.CodeDeadlineExceeded, http.StatusGatewayTimeout},
		{response.CodeInternal, http.StatusInternalServerError},
		{"made-up", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := response.MapStatus(tt.code); got != tt.want {
			t.Errorf("MapStatus(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestErrorJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/callable/secureBlockUser", nil)
	r = r.WithContext(contextx.WithTraceID(r.Context(), "abc123"))
	w := httptest.NewRecorder()

	response.ErrorJSON(w, r, response.CodePermissionDenied, "Only Super Admins can block users.")

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	var env response.Envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Result != nil {
		t.Errorf("result = %v, want nil", env.Result)
	}
	if env.Error == nil || env.Error.Code != "permission-denied" || env.Error.Message != "Only Super Admins can block users." {
		t.Errorf("error = %+v", env.Error)
	}
	if env.Meta.TraceID != "abc123" {
		t.Errorf("trace id = %q, want abc123", env.Meta.TraceID)
	}
}

func TestErrorProblem(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.Header.Set("X-Trace-Id", "hdr")
	w := httptest.NewRecorder()

	response.ErrorProblem(w, r, response.CodeNotFound, "Not Found", "no route")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q", ct)
	}
	var p response.Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Instance != "/nope" || p.TraceID != "hdr" || p.Code != "not-found" {
		t.Errorf("problem = %+v", p)
	}
}
