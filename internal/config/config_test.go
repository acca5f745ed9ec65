// internal/config/config_test.go
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driftpad.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.App.HTTP.Address() != ":8080" {
		t.Errorf("Expected default address ':8080', got '%s'", cfg.App.HTTP.Address())
	}
	if cfg.Workers.UndoDepth != 50 {
		t.Errorf("Expected default undo depth 50, got %d", cfg.Workers.UndoDepth)
	}
	if cfg.Auth.Enabled() {
		t.Error("Expected auth disabled by default")
	}
	if cfg.Redis.Enabled() || cfg.Blob.Enabled() {
		t.Error("Expected redis and blob disabled by default")
	}
	if cfg.State.Debounce() != 300*time.Millisecond {
		t.Errorf("Expected default debounce 300ms, got %v", cfg.State.Debounce())
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DRIFTPAD_DB", "/tmp/custom.db")
	path := writeConfig(t, `
app:
  log_level: warn
  http:
    port: 9090
store:
  path: ${DRIFTPAD_DB}
workers:
  width: 8
redis:
  url: redis://localhost:6379/0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.App.Level() != slog.LevelWarn {
		t.Errorf("Expected log level warn, got %v", cfg.App.Level())
	}
	if cfg.App.HTTP.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.App.HTTP.Port)
	}
	if cfg.Store.Path != "/tmp/custom.db" {
		t.Errorf("Expected env-expanded store path, got '%s'", cfg.Store.Path)
	}
	if cfg.Workers.Width != 8 {
		t.Errorf("Expected width 8, got %d", cfg.Workers.Width)
	}
	// Unset sections keep their defaults.
	if cfg.Workers.UndoDepth != 50 {
		t.Errorf("Expected default undo depth kept, got %d", cfg.Workers.UndoDepth)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.Channel != "driftpad:events" {
		t.Errorf("Expected redis enabled with default channel, got '%s'", cfg.Redis.Channel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected an error for a missing config file")
	}
}

func TestValidation(t *testing.T) {
	t.Run("BadPort", func(t *testing.T) {
		path := writeConfig(t, "app:\n  http:\n    port: 70000\n")
		if _, err := Load(path); err == nil {
			t.Fatal("Expected validation to reject the port")
		}
	})

	t.Run("TokenModeNeedsHash", func(t *testing.T) {
		path := writeConfig(t, "auth:\n  mode: token\n")
		_, err := Load(path)
		if err == nil {
			t.Fatal("Expected token mode without hash to fail")
		}
		if !strings.Contains(err.Error(), "token_hash is empty") {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("UnknownAuthMode", func(t *testing.T) {
		path := writeConfig(t, "auth:\n  mode: magic\n")
		if _, err := Load(path); err == nil {
			t.Fatal("Expected an unknown auth mode to fail")
		}
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		path := writeConfig(t, "app:\n  log_level: loud\n")
		if _, err := Load(path); err == nil {
			t.Fatal("Expected an unknown log level to fail")
		}
	})

	t.Run("BlobNeedsCredentials", func(t *testing.T) {
		path := writeConfig(t, "blob:\n  endpoint: localhost:9000\n")
		if _, err := Load(path); err == nil {
			t.Fatal("Expected blob config without credentials to fail")
		}
	})
}

func TestAuthModes(t *testing.T) {
	cfg := AuthConfig{Mode: "", TokenHash: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("Expected mode '%s', got '%s'", AuthModeDisabled, cfg.Mode)
	}

	cfg = AuthConfig{Mode: AuthModeToken, TokenHash: "$2a$10$abcdefg"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Token mode with hash should pass: %v", err)
	}
	if !cfg.Enabled() {
		t.Error("Expected token mode enabled")
	}
}
