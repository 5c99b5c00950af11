package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config stores environment-driven settings for the gate server.
type Config struct {
	// ConfigPath is the path to the YAML gate configuration file.
	ConfigPath string `env:"POP_CONFIG" envDefault:"config.yaml"`
	// LogLevel sets the logger level.
	LogLevel string `env:"POP_LOG_LEVEL" envDefault:"info"`
	// Lang selects the message language for denial templates.
	Lang string `env:"POP_LANG" envDefault:"en"`
	// ShutdownTimeout controls graceful shutdown duration.
	ShutdownTimeout time.Duration `env:"POP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses environment variables into Config.
func Load() (Config, error) {
	return env.ParseAs[Config]()
}
