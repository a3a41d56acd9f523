package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied by Load for fields left unset in the profile config.
const (
	DefaultReconnectDelayMS = 5000
	DefaultTypingWindowMS   = 3000
	DefaultHistoryPageSize  = 50
)

// Global represents the global ~/.marketchat/config.toml.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// Config represents a per-profile config.toml.
type Config struct {
	// APIBaseURL is the REST backend, e.g. https://api.example.com/v1.
	APIBaseURL string `toml:"api_base_url"`
	// GatewayURL is the websocket gateway, e.g. wss://api.example.com/ws.
	GatewayURL string `toml:"gateway_url"`

	// Token is the bearer credential. TokenFile, if set, takes precedence
	// and names a file whose trimmed contents are the token.
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`

	// ReconnectDelayMS is the fixed delay between redial attempts. There is
	// deliberately no backoff: eventual reconnection wins over sophistication.
	ReconnectDelayMS int `toml:"reconnect_delay_ms"`
	// MaxReconnectAttempts caps redials after a drop. 0 means retry forever.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`

	// TypingWindowMS is the quiet window after which a counterpart is
	// considered to have stopped typing.
	TypingWindowMS int `toml:"typing_window_ms"`
	// HistoryPageSize is the page size used when fetching message history.
	HistoryPageSize int `toml:"history_page_size"`
}

// Load reads a profile config from the given path and applies defaults.
// Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectDelayMS <= 0 {
		cfg.ReconnectDelayMS = DefaultReconnectDelayMS
	}
	if cfg.TypingWindowMS <= 0 {
		cfg.TypingWindowMS = DefaultTypingWindowMS
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = DefaultHistoryPageSize
	}
	return &cfg, nil
}

// Save writes a profile config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return write(path, cfg)
}

// LoadGlobal reads the global config from the given path.
func LoadGlobal(path string) (*Global, error) {
	var g Global
	_, err := toml.DecodeFile(path, &g)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveGlobal writes the global config to the given path.
func SaveGlobal(path string, g *Global) error {
	return write(path, g)
}

func write(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
