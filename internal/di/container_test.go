package di

import (
	"strings"
	"testing"

	"github.com/medleaf/api/internal/platform/config"
)

func TestNewEntityIDIsLowercaseULID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := newEntityID()
		if len(id) != 26 {
			t.Fatalf("expected 26 char ulid, got %q", id)
		}
		if id != strings.ToLower(id) {
			t.Fatalf("expected lowercase id, got %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestTraceProjectIDPrefersFirebase(t *testing.T) {
	cfg := config.Config{}
	cfg.Firebase.ProjectID = "medleaf-prod"
	cfg.Firestore.ProjectID = "medleaf-db"
	if got := traceProjectID(cfg); got != "medleaf-prod" {
		t.Fatalf("expected firebase project, got %q", got)
	}

	cfg.Firebase.ProjectID = ""
	if got := traceProjectID(cfg); got != "medleaf-db" {
		t.Fatalf("expected firestore fallback, got %q", got)
	}
}

func TestBuildOIDCMiddlewareDisabledWithoutJWKSURL(t *testing.T) {
	cfg := config.Config{}
	if mw := buildOIDCMiddleware(nil, cfg); mw != nil {
		t.Fatal("expected nil middleware when JWKS URL is unset")
	}

	cfg.Security.OIDC.JWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	cfg.Security.OIDC.Audience = "https://api.medleaf.example"
	if mw := buildOIDCMiddleware(nil, cfg); mw == nil {
		t.Fatal("expected middleware when JWKS URL is configured")
	}
}
