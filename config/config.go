// Package config loads process configuration from VIMY_FARM_* environment
// variables and command-line flags.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the farm process configuration. Flags override the
// environment.
type Config struct {
	SocketPath     string        `env:"VIMY_FARM_SOCKET"          envDefault:"/tmp/vimy-farm.sock"`
	DBPath         string        `env:"VIMY_FARM_DB"`
	HTTPAddr       string        `env:"VIMY_FARM_HTTP_ADDR"       envDefault:"localhost:8090"`
	RequestTimeout time.Duration `env:"VIMY_FARM_REQUEST_TIMEOUT" envDefault:"30s"`
	SettingsFile   string        `env:"VIMY_FARM_SETTINGS_FILE"`
	LogLevel       slog.Level    `env:"VIMY_FARM_LOG_LEVEL"       envDefault:"info"`
	OTelEndpoint   string        `env:"VIMY_FARM_OTEL_ENDPOINT"`
	OTelEnabled    bool          `env:"VIMY_FARM_OTEL_ENABLED"    envDefault:"true"`
}

// Parse reads the environment, then applies flags from args.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "unix socket the game client connects to")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path (empty keeps state in memory)")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "event feed listen address (empty disables the feed)")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "timeout for requests to the game client")
	fs.StringVar(&cfg.SettingsFile, "settings", cfg.SettingsFile, "yaml file of settings applied at startup")
	fs.TextVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.SocketPath == "" {
		return Config{}, fmt.Errorf("socket path is required")
	}
	if cfg.RequestTimeout <= 0 {
		return Config{}, fmt.Errorf("request timeout must be positive, got %s", cfg.RequestTimeout)
	}
	return cfg, nil
}

// LoadSettings reads a yaml mapping of setting keys to values. Keys use the
// same names as the settings schema, for example:
//
//	presetName: Farm
//	maxDistance: 20
//	randomBase: 3
func LoadSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var changes map[string]any
	if err := yaml.Unmarshal(data, &changes); err != nil {
		return nil, fmt.Errorf("decode settings file %s: %w", path, err)
	}
	if changes == nil {
		changes = map[string]any{}
	}
	return changes, nil
}
