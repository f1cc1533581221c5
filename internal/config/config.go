package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatrelay/config.toml.
type Config struct {
	DefaultProfile string         `toml:"default_profile"`
	Server         ServerConfig   `toml:"server"`
	User           UserConfig     `toml:"user"`
	Realtime       RealtimeConfig `toml:"realtime"`
	Pipeline       PipelineConfig `toml:"pipeline"`
}

// ServerConfig locates the backend.
type ServerConfig struct {
	BaseURL string `toml:"base_url"`
	// TokenFile overrides the profile's default token path.
	TokenFile string `toml:"token_file"`
	// Cookie is sent as ambient credentials when no token file exists.
	Cookie string `toml:"cookie"`
}

// UserConfig identifies the local user; outbound messages are attributed to it.
type UserConfig struct {
	ID    string `toml:"id"`
	Name  string `toml:"name"`
	Image string `toml:"image"`
}

type RealtimeConfig struct {
	ReconnectInterval Duration `toml:"reconnect_interval"`
	DialTimeout       Duration `toml:"dial_timeout"`
	// ReadLimit caps the size of one inbound frame in bytes.
	ReadLimit int64 `toml:"read_limit"`
}

type PipelineConfig struct {
	MaxAttempts  int      `toml:"max_attempts"`
	BackoffBase  Duration `toml:"backoff_base"`
	DrainDelay   Duration `toml:"drain_delay"`
	HistoryLimit int      `toml:"history_limit"`
}

// Duration is a time.Duration written as a Go duration string ("3s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{BaseURL: "http://localhost:8080"},
		Realtime: RealtimeConfig{
			ReconnectInterval: Duration{3 * time.Second},
			DialTimeout:       Duration{10 * time.Second},
			ReadLimit:         1 << 20,
		},
		Pipeline: PipelineConfig{
			MaxAttempts:  3,
			BackoffBase:  Duration{time.Second},
			DrainDelay:   Duration{100 * time.Millisecond},
			HistoryLimit: 50,
		},
	}
}

// Load reads config from the given path on top of the defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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
