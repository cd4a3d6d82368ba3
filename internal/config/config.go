package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults used when the config file or a key is absent.
const (
	DefaultServerURL  = "http://localhost:4000"
	DefaultGatewayURL = "ws://localhost:4000/ws"
)

// Config represents the global ~/.orbit/config.toml.
type Config struct {
	ServerURL      string `toml:"server_url"`
	GatewayURL     string `toml:"gateway_url"`
	DefaultSession string `toml:"default_session"`
}

// Load reads config from the given path, fills in defaults, and applies
// ORBIT_* environment overrides. A missing file is not an error; the
// returned config then holds defaults and environment values only.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	cfg.applyEnv()
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ORBIT_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("ORBIT_GATEWAY_URL"); v != "" {
		c.GatewayURL = v
	}
	if v := os.Getenv("ORBIT_SESSION"); v != "" {
		c.DefaultSession = v
	}
}
