package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all host configuration.
type Config struct {
	Server     ServerConfig
	Extensions ExtensionsConfig
	Runtime    RuntimeConfig
	Logging    LogConfig
}

// ServerConfig holds control API server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"7420"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// ExtensionsConfig holds on-disk package layout configuration.
type ExtensionsConfig struct {
	Dir        string `envconfig:"EXTENSIONS_DIR" default:"./extensions"`
	BuiltinDir string `envconfig:"BUILTIN_EXTENSIONS_DIR" default:""`
}

// RuntimeConfig holds extension runtime process configuration.
type RuntimeConfig struct {
	Binary            string        `envconfig:"RUNTIME_BIN" default:"./extruntime"`
	StartupTimeout    time.Duration `envconfig:"RUNTIME_STARTUP_TIMEOUT" default:"10s"`
	ShutdownGrace     time.Duration `envconfig:"RUNTIME_SHUTDOWN_GRACE" default:"5s"`
	ActivationTimeout time.Duration `envconfig:"RUNTIME_ACTIVATION_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("EXTHOST", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "7420",
			Host: "127.0.0.1",
		},
		Extensions: ExtensionsConfig{
			Dir: "./extensions",
		},
		Runtime: RuntimeConfig{
			Binary:            "./extruntime",
			StartupTimeout:    10 * time.Second,
			ShutdownGrace:     5 * time.Second,
			ActivationTimeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
