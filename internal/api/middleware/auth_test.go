package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"alphaedge/pkg/crypto"
)

func authTarget() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAPIKeyAuthDisabledWhenNoHash(t *testing.T) {
	handler := APIKeyAuth("")(authTarget())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected pass-through with empty hash, got %d", rec.Code)
	}
}

func TestAPIKeyAuthAcceptsValidKey(t *testing.T) {
	hash, err := crypto.HashSecret("operator-key")
	if err != nil {
		t.Fatal(err)
	}
	handler := APIKeyAuth(hash)(authTarget())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", nil)
	req.Header.Set("X-API-Key", "operator-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 with valid key, got %d", rec.Code)
	}
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	hash, err := crypto.HashSecret("operator-key")
	if err != nil {
		t.Fatal(err)
	}
	handler := APIKeyAuth(hash)(authTarget())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", rec.Code)
	}
}

func TestAPIKeyAuthRejectsWrongKey(t *testing.T) {
	hash, err := crypto.HashSecret("operator-key")
	if err != nil {
		t.Fatal(err)
	}
	handler := APIKeyAuth(hash)(authTarget())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", nil)
	req.Header.Set("X-API-Key", "guessed-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong key, got %d", rec.Code)
	}
}
