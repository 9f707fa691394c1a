package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

const (
	DefaultConfigFilename = "config.json"
	DefaultMaxTokens      = 4096
	DefaultTemperature    = 0.7
	DefaultTimeout        = 120 * time.Second
)

// Agent describes one configured model endpoint. The bridge treats
// this as read-only input for the duration of a call.
type Agent struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	APIKey         string  `json:"api_key,omitempty"`
	Endpoint       string  `json:"endpoint,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
}

// Timeout returns the per-request timeout, falling back to the default.
func (a Agent) Timeout() time.Duration {
	if a.TimeoutSeconds > 0 {
		return time.Duration(a.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

type Config struct {
	Default string           `json:"default,omitempty"`
	Agents  map[string]Agent `json:"agents"`
}

// Agent looks up a named agent, falling back to the configured default
// when name is empty.
func (c *Config) Agent(name string) (Agent, error) {
	if name == "" {
		name = c.Default
	}
	if name == "" {
		return Agent{}, fmt.Errorf("no agent specified and no default configured")
	}
	agent, ok := c.Agents[name]
	if !ok {
		return Agent{}, fmt.Errorf("agent %q not found in configuration", name)
	}
	return agent, nil
}

// Manager loads and persists the configuration file, keeping the last
// loaded value available lock-free for concurrent readers.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Agents == nil {
		cfg.Agents = make(map[string]Agent)
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{Agents: make(map[string]Agent)}
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
