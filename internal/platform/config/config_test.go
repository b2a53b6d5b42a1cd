package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "ml-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "ml-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "ml-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventTopic != defaultOrderEventTopic {
		t.Errorf("unexpected default order topic: %s", cfg.PubSub.OrderEventTopic)
	}
	if cfg.Inventory.LowStockThreshold != defaultLowStockThreshold {
		t.Errorf("unexpected low stock threshold: %d", cfg.Inventory.LowStockThreshold)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Currency != defaultCurrency {
		t.Errorf("unexpected default currency: %s", cfg.Currency)
	}
	if len(cfg.Notifications.SupportedLocales) != 1 || cfg.Notifications.SupportedLocales[0] != "en" {
		t.Errorf("unexpected default locales: %v", cfg.Notifications.SupportedLocales)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_SERVER_READ_TIMEOUT":           "20s",
		"API_SERVER_IDLE_TIMEOUT":           "2m",
		"API_FIREBASE_PROJECT_ID":           "ml-prod",
		"API_FIRESTORE_PROJECT_ID":          "ml-fire",
		"API_PUBSUB_ORDER_TOPIC":            "orders-prod",
		"API_STORAGE_EXPORTS_BUCKET":        "exports-prod",
		"API_NOTIFICATIONS_AUTH_TOKEN":      "secret://notify/token",
		"API_NOTIFICATIONS_LOCALES":         "en, bn",
		"API_INVENTORY_LOW_STOCK_THRESHOLD": "10",
		"API_SECURITY_OIDC_AUDIENCE":        "https://service.example.com",
		"API_SECURITY_OIDC_ISSUERS":         "https://accounts.google.com, https://cloud.google.com/iap",
		"API_CURRENCY":                      "USD",
	}

	secrets := map[string]string{
		"secret://notify/token": "notify-token",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Firestore.ProjectID != "ml-fire" {
		t.Errorf("expected explicit firestore project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.OrderEventTopic != "orders-prod" {
		t.Errorf("unexpected order topic %s", cfg.PubSub.OrderEventTopic)
	}
	if cfg.Storage.ExportsBucket != "exports-prod" {
		t.Errorf("unexpected exports bucket %s", cfg.Storage.ExportsBucket)
	}
	if cfg.Notifications.AuthToken != "notify-token" {
		t.Errorf("expected resolved notification token, got %s", cfg.Notifications.AuthToken)
	}
	if len(cfg.Notifications.SupportedLocales) != 2 {
		t.Fatalf("expected 2 locales, got %v", cfg.Notifications.SupportedLocales)
	}
	if cfg.Inventory.LowStockThreshold != 10 {
		t.Errorf("unexpected low stock threshold %d", cfg.Inventory.LowStockThreshold)
	}
	if cfg.Security.OIDC.Audience != "https://service.example.com" {
		t.Errorf("unexpected oidc audience %s", cfg.Security.OIDC.Audience)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Currency != "USD" {
		t.Errorf("unexpected currency %s", cfg.Currency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=ml-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "ml-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":      "ml-dev",
		"API_NOTIFICATIONS_AUTH_TOKEN": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":      "ml-dev",
		"API_NOTIFICATIONS_AUTH_TOKEN": "sm://notify/token",
	}

	secrets := map[string]string{
		"secret://notify/token": "legacy-token",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.AuthToken != "legacy-token" {
		t.Fatalf("expected legacy token, got %s", cfg.Notifications.AuthToken)
	}
}
