package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:analyst|data_uploader, k2:bob:analyst")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected k1 to be valid")
	}
	if identity.Owner != "alice" {
		t.Fatalf("Owner = %q", identity.Owner)
	}
	if !identity.HasRole(RoleDataUploader) || !identity.HasRole(RoleAnalyst) {
		t.Fatalf("Roles = %v", identity.Roles)
	}

	identity, ok = validator.Validate(context.Background(), "k2")
	if !ok || identity.Owner != "bob" || identity.HasRole(RoleDataUploader) {
		t.Fatalf("k2 identity = %+v ok=%v", identity, ok)
	}
	if _, ok := validator.Validate(context.Background(), "nope"); ok {
		t.Fatal("unknown key should not validate")
	}
}

func TestStaticAPIKeyValidatorEmptySpec(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("  ")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if _, ok := validator.Validate(context.Background(), ""); ok {
		t.Fatal("empty validator should reject everything")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{
		"invalid",
		"k1::analyst",
		"k1:alice:",
		"k1:alice:admin",
		"k1:alice:analyst,k1:bob:analyst",
	} {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("NewStaticAPIKeyValidator(%q) expected error", spec)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:analyst")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for name, header := range map[string][2]string{
		"missing": {"", ""},
		"unknown": {"X-API-Key", "k2"},
		"basic":   {"Authorization", "Basic k1"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
		if header[0] != "" {
			req.Header.Set(header[0], header[1])
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want %d", name, rr.Code, http.StatusUnauthorized)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode body: %v", name, err)
		}
		if body["error_code"] != "UNAUTHORIZED" {
			t.Fatalf("%s: error_code = %v", name, body["error_code"])
		}
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:analyst")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if owner := OwnerFromContext(r.Context()); owner != "alice" {
			t.Errorf("owner = %q", owner)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("X-API-Key", "k1") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer k1") },
		func(r *http.Request) { r.Header.Set("Authorization", "bearer  k1") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
		set(req)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rr.Code)
		}
	}
}

func TestOwnerFromContextWithoutIdentity(t *testing.T) {
	if owner := OwnerFromContext(context.Background()); owner != "" {
		t.Fatalf("owner = %q, want empty", owner)
	}
}
