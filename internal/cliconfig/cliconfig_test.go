package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManager_DefaultConfig(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerWithDir(dir)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.APIKey)
	}
	if cfg.TimeoutSeconds != 60 {
		t.Errorf("TimeoutSeconds = %d, want 60", cfg.TimeoutSeconds)
	}
}

func TestManager_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerWithDir(dir)

	cfg := &Config{
		BaseURL:        "https://agents.example.com",
		APIKey:         "sk-test",
		Project:        "prod",
		TimeoutSeconds: 90,
	}
	if err := m.Save(cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(m.ConfigPath()); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	loaded, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.BaseURL != "https://agents.example.com" {
		t.Errorf("BaseURL = %q", loaded.BaseURL)
	}
	if loaded.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", loaded.APIKey)
	}
	if loaded.Project != "prod" {
		t.Errorf("Project = %q", loaded.Project)
	}
	if loaded.TimeoutSeconds != 90 {
		t.Errorf("TimeoutSeconds = %d", loaded.TimeoutSeconds)
	}
}

func TestManager_JSONCCommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerWithDir(dir)

	content := `{
	// Self-hosted server.
	"baseUrl": "http://letta.internal:8283",
	/* key lives in the environment */
	"timeoutSeconds": 30,
}`
	if err := os.WriteFile(m.ConfigPath(), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BaseURL != "http://letta.internal:8283" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.TimeoutSeconds != 30 {
		t.Errorf("TimeoutSeconds = %d", cfg.TimeoutSeconds)
	}
}

func TestManager_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerWithDir(dir)

	if err := os.WriteFile(m.ConfigPath(), []byte(`{"apiKey": "sk-only"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIKey != "sk-only" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want default", cfg.BaseURL)
	}
	if cfg.TimeoutSeconds != 60 {
		t.Errorf("TimeoutSeconds = %d, want default", cfg.TimeoutSeconds)
	}
}

func TestManager_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerWithDir(dir)

	if err := os.WriteFile(m.ConfigPath(), []byte("{invalid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(); err == nil {
		t.Error("Load() should return error for corrupt config")
	}
}

func TestManager_SaveCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "config")
	m := NewManagerWithDir(dir)

	if err := m.Save(defaultConfig()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("config directory not created: %v", err)
	}
}

func TestManager_Paths(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerWithDir(dir)

	if m.ConfigDir() != dir {
		t.Errorf("ConfigDir() = %q, want %q", m.ConfigDir(), dir)
	}
	if m.ConfigPath() != filepath.Join(dir, "config.jsonc") {
		t.Errorf("ConfigPath() = %q", m.ConfigPath())
	}
	if m.LogsDir() != filepath.Join(dir, "logs") {
		t.Errorf("LogsDir() = %q", m.LogsDir())
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://127.0.0.1:9999")
	t.Setenv(EnvAPIKey, "sk-env")
	t.Setenv(EnvProject, "")

	cfg := &Config{BaseURL: "http://file.example", APIKey: "sk-file", Project: "file-project"}
	cfg.ApplyEnv()

	if cfg.BaseURL != "http://127.0.0.1:9999" {
		t.Errorf("BaseURL = %q, want env value", cfg.BaseURL)
	}
	if cfg.APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want env value", cfg.APIKey)
	}
	// Empty env vars leave file values in place.
	if cfg.Project != "file-project" {
		t.Errorf("Project = %q, want file value", cfg.Project)
	}
}

func TestConfig_Timeout(t *testing.T) {
	cfg := &Config{TimeoutSeconds: 45}
	if got := cfg.Timeout(); got != 45*time.Second {
		t.Errorf("Timeout() = %v, want 45s", got)
	}
}
