// Package config loads chatsim settings from a YAML file and CHATSIM_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppName names the config, state and env namespaces.
const AppName = "chatsim"

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
}

// ProviderConfig points at the OpenAI-compatible completions server.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	Model          string        `mapstructure:"model" validate:"required"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ClosureTimeout time.Duration `mapstructure:"closure_timeout" validate:"gt=0"`
	MaxTokens      int           `mapstructure:"max_tokens" validate:"min=1,max=8192"`
}

// EngineConfig tunes turn generation.
type EngineConfig struct {
	Window              int     `mapstructure:"window" validate:"min=1"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"gt=0,lte=1"`
}

// StoreConfig selects the session backend. An empty Path resolves to a
// location under the XDG state directory.
type StoreConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=file sqlite"`
	Path    string        `mapstructure:"path"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Project  string `mapstructure:"project"`
}

// SetDefaults registers the default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:48080")

	v.SetDefault("provider.base_url", "http://localhost:1234/v1")
	v.SetDefault("provider.model", "openai/gpt-oss-20b")
	v.SetDefault("provider.timeout", 120*time.Second)
	v.SetDefault("provider.closure_timeout", 60*time.Second)
	v.SetDefault("provider.max_tokens", 600)

	v.SetDefault("engine.window", 12)
	v.SetDefault("engine.similarity_threshold", 0.92)

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "")
	v.SetDefault("store.ttl", 6*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:6006")
	v.SetDefault("telemetry.project", AppName)
}

// Load reads configuration. If path is empty, ./chatsim.yaml and then the
// XDG config file are tried; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath(cfg.Store.Backend)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile is the XDG location of the user config file.
func ConfigFile() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DefaultStorePath returns the session storage location for a backend.
func DefaultStorePath(backend string) string {
	if backend == "sqlite" {
		return filepath.Join(xdg.StateHome, AppName, "sessions.db")
	}
	return filepath.Join(xdg.StateHome, AppName, "sessions")
}

func findConfigFile() string {
	for _, candidate := range []string{AppName + ".yaml", ConfigFile()} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks field constraints and reports the first failure.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("invalid config: %s failed %q (value %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return fmt.Errorf("invalid config: %w", err)
}
