// internal/config/config.go
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config is the full service configuration. Sections left out of the YAML
// file keep their defaults from NewDefaultConfig.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Store   StoreConfig       `yaml:"store"`
	State   StateConfig       `yaml:"state"`
	Auth    AuthConfig        `yaml:"auth"`
	AI      AIConfig          `yaml:"ai"`
	Workers WorkersConfig     `yaml:"workers"`
	Redis   RedisConfig       `yaml:"redis"`
	Blob    BlobConfig        `yaml:"blob"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.State.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.AI.Validate(); err != nil {
		return err
	}
	if err := c.Workers.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	return c.Blob.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel string     `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Level parses the configured log level ("debug", "info", "warn", "error",
// including slog offsets like "warn+2").
func (c *ApplicationConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.Required, validation.By(func(v interface{}) error {
			var l slog.Level
			return l.UnmarshalText([]byte(v.(string)))
		})),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration. The WebSocket endpoint shares
// this listener.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns the HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the SQLite workspace store location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// StateConfig holds checkpoint state persistence settings. Compression is a
// zstd level (1 fastest to 22 smallest); DebounceMS is how long the state
// watcher waits for a session file to settle before reloading it.
type StateConfig struct {
	Dir         string `yaml:"dir"`
	Compression int    `yaml:"compression"`
	DebounceMS  int    `yaml:"debounce_ms"`
}

// Debounce returns the watcher debounce window.
func (c *StateConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Validate validates the state configuration.
func (c *StateConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Compression, validation.Required, validation.Min(1), validation.Max(22)),
		validation.Field(&c.DebounceMS, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; TokenHash must hold the bcrypt
//     hash of the token (see the hash-token command).
type AuthConfig struct {
	Mode      string `yaml:"mode"`
	TokenHash string `yaml:"token_hash"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.TokenHash == "" {
		return fmt.Errorf("auth: mode is %q but token_hash is empty", AuthModeToken)
	}
	return nil
}

// Enabled returns true when authentication is active.
func (c *AuthConfig) Enabled() bool {
	return c.Mode == AuthModeToken
}

// AIConfig points the chat service at its completion backend. With an
// empty Endpoint chat requests fail cleanly while the rest of the
// workspace keeps working.
type AIConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Timeout returns the completion request timeout.
func (c *AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Validate validates the AI configuration.
func (c *AIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TimeoutSec, validation.Min(0)),
	)
}

// WorkersConfig bounds the tree mutator's background work: pool width for
// bulk operations, retry count for ambiguous creates, undo stack depth.
type WorkersConfig struct {
	Width     int `yaml:"width"`
	Retries   int `yaml:"retries"`
	UndoDepth int `yaml:"undo_depth"`
}

// Validate validates the workers configuration.
func (c *WorkersConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Width, validation.Required, validation.Min(1)),
		validation.Field(&c.Retries, validation.Min(0)),
		validation.Field(&c.UndoDepth, validation.Required, validation.Min(1)),
	)
}

// RedisConfig enables cross-instance event fanout when URL is set.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// Enabled returns true when fanout is configured.
func (c *RedisConfig) Enabled() bool {
	return c.URL != ""
}

// Validate validates the redis configuration.
func (c *RedisConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Channel, validation.Required),
	)
}

// BlobConfig enables object-store offload for binary file content when
// Endpoint is set.
type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled returns true when blob offload is configured.
func (c *BlobConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Validate validates the blob configuration.
func (c *BlobConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.AccessKey, validation.Required),
		validation.Field(&c.SecretKey, validation.Required),
		validation.Field(&c.Bucket, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: "info",
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path: "./data/driftpad.db",
		},
		State: StateConfig{
			Dir:         "./data/state",
			Compression: 3,
			DebounceMS:  300,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		AI: AIConfig{
			TimeoutSec: 120,
		},
		Workers: WorkersConfig{
			Width:     4,
			Retries:   2,
			UndoDepth: 50,
		},
		Redis: RedisConfig{
			Channel: "driftpad:events",
		},
	}
}

// Load reads a YAML config file over the defaults, expanding ${VAR}
// references from the environment before parsing. An empty filename returns
// the validated defaults.
func Load(filename string) (*Config, error) {
	cfg := NewDefaultConfig()
	if filename == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
