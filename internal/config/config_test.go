package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL",
		"JWT_SECRET", "ROOM_DELETE_POLICY", "REQUEST_TIMEOUT",
		"INVITE_CODE_ATTEMPTS", "JOIN_RETRIES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Env != "development" || !cfg.IsDevelopment() {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.RoomDeletePolicy != "creator" {
		t.Errorf("RoomDeletePolicy = %q, want creator", cfg.RoomDeletePolicy)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	if cfg.CodeAttempts != 5 || cfg.CASRetries != 5 {
		t.Errorf("retry bounds = %d/%d, want 5/5", cfg.CodeAttempts, cfg.CASRetries)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "staging")
	t.Setenv("ROOM_DELETE_POLICY", "participant")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("JOIN_RETRIES", "8")

	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "staging" {
		t.Errorf("got %q/%q", cfg.Port, cfg.Env)
	}
	if cfg.RoomDeletePolicy != "participant" {
		t.Errorf("RoomDeletePolicy = %q", cfg.RoomDeletePolicy)
	}
	if cfg.RequestTimeout != 2*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.CASRetries != 8 {
		t.Errorf("CASRetries = %d", cfg.CASRetries)
	}
}

func TestLoadPanicsWithoutSecretInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on missing JWT_SECRET in production")
		}
	}()
	Load()
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("JOIN_RETRIES", "many")

	cfg := Load()
	if cfg.RequestTimeout != 5*time.Second || cfg.CASRetries != 5 {
		t.Errorf("bad values must fall back to defaults, got %v/%d",
			cfg.RequestTimeout, cfg.CASRetries)
	}
}
