// Package cliconfig reads and writes the lettactl configuration file.
//
// The file lives at ~/.lettactl/config.jsonc and may carry comments and
// trailing commas. Environment variables override file values but are
// never written back.
package cliconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tailscale/hujson"
)

const (
	configDirName  = ".lettactl"
	configFileName = "config.jsonc"

	// Environment overrides, highest precedence.
	EnvBaseURL = "LETTA_BASE_URL"
	EnvAPIKey  = "LETTA_API_KEY"
	EnvProject = "LETTA_PROJECT"

	// DefaultBaseURL is a local Letta server.
	DefaultBaseURL = "http://localhost:8283"

	defaultTimeoutSeconds = 60
)

// Config holds the server connection settings.
type Config struct {
	BaseURL        string `json:"baseUrl,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	Project        string `json:"project,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ApplyEnv overlays LETTA_* environment variables onto the config.
// Call it after Load when building a client; skip it when editing the
// file, so environment values never end up persisted.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvProject); v != "" {
		c.Project = v
	}
}

// Manager handles reading and writing the lettactl configuration.
type Manager struct {
	configDir string
	mu        sync.RWMutex
}

// NewManager creates a Manager using the default config path (~/.lettactl/).
func NewManager() (*Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return &Manager{configDir: filepath.Join(home, configDirName)}, nil
}

// NewManagerWithDir creates a Manager using a custom config directory.
// Useful for testing.
func NewManagerWithDir(dir string) *Manager {
	return &Manager{configDir: dir}
}

// ConfigDir returns the configuration directory path.
func (m *Manager) ConfigDir() string {
	return m.configDir
}

// ConfigPath returns the full path to the config file.
func (m *Manager) ConfigPath() string {
	return filepath.Join(m.configDir, configFileName)
}

// LogsDir returns the path where debug logs are written.
func (m *Manager) LogsDir() string {
	return filepath.Join(m.configDir, "logs")
}

// Load reads the config from disk. Returns the default config if the
// file doesn't exist. Environment variables are not applied here; see
// Config.ApplyEnv.
func (m *Manager) Load() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := defaultConfig()
	data, err := os.ReadFile(m.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	return cfg, nil
}

// Save writes the config to disk, creating the directory if needed.
// The file is written as plain JSON; comments in an existing file are
// not preserved.
func (m *Manager) Save(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	// Write atomically: write to temp file then rename. 0600 because
	// the file can hold an API key.
	tmpPath := m.ConfigPath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmpPath, m.ConfigPath()); err != nil {
		_ = os.Remove(tmpPath) // clean up on failure
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		BaseURL:        DefaultBaseURL,
		TimeoutSeconds: defaultTimeoutSeconds,
	}
}
