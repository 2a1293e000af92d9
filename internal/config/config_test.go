package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "")
	t.Setenv("REALTIME_SEND_TIMEOUT", "")
	t.Setenv("CONTENT_BACKEND", "")

	cfg := Load()
	if cfg.AccessTTL != 30*time.Minute {
		t.Fatalf("expected 30m access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d refresh ttl, got %s", cfg.RefreshTTL)
	}
	if cfg.SendTimeout != 5*time.Second {
		t.Fatalf("expected 5s send timeout, got %s", cfg.SendTimeout)
	}
	if cfg.ContentBackend != "postgres" {
		t.Fatalf("expected postgres backend, got %q", cfg.ContentBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "5")
	t.Setenv("REALTIME_SEND_TIMEOUT", "250ms")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("CONTENT_BACKEND", "S3")

	cfg := Load()
	if cfg.AccessTTL != 5*time.Minute {
		t.Fatalf("expected 5m access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.SendTimeout != 250*time.Millisecond {
		t.Fatalf("expected 250ms send timeout, got %s", cfg.SendTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if !cfg.S3UseSSL || cfg.ContentBackend != "s3" {
		t.Fatalf("unexpected s3 settings %+v", cfg)
	}
}

func TestLoadIgnoresBadNumbers(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "soon")
	t.Setenv("REALTIME_SEND_TIMEOUT", "-1s")

	cfg := Load()
	if cfg.AccessTTL != 30*time.Minute || cfg.SendTimeout != 5*time.Second {
		t.Fatalf("expected fallbacks, got %s %s", cfg.AccessTTL, cfg.SendTimeout)
	}
}
