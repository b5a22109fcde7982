// Package config loads tally's runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every setting of the tally service.
type Config struct {
	Port            int           `env:"PORT" envDefault:"5000"`
	OwnerID         string        `env:"TALLY_OWNER_ID"`
	AllowedSenders  []string      `env:"TALLY_ALLOWED_SENDERS" envSeparator:","`
	CommandPrefix   string        `env:"TALLY_COMMAND_PREFIX" envDefault:"."`
	MaxExpression   int           `env:"TALLY_MAX_EXPRESSION_LENGTH" envDefault:"256"`
	MaxComplexity   int           `env:"TALLY_MAX_COMPLEXITY" envDefault:"512"`
	MaxWSClients    int           `env:"TALLY_MAX_WS_CLIENTS" envDefault:"100"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"` // debug or info
	ShutdownTimeout time.Duration `env:"TALLY_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if strings.TrimSpace(c.CommandPrefix) == "" {
		return errors.New("TALLY_COMMAND_PREFIX must not be blank")
	}
	if c.MaxExpression < 0 {
		return fmt.Errorf("invalid TALLY_MAX_EXPRESSION_LENGTH %d", c.MaxExpression)
	}
	if c.MaxComplexity < 0 {
		return fmt.Errorf("invalid TALLY_MAX_COMPLEXITY %d", c.MaxComplexity)
	}
	if c.MaxWSClients <= 0 {
		return fmt.Errorf("invalid TALLY_MAX_WS_CLIENTS %d", c.MaxWSClients)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

// Senders returns the allow-listed sender IDs: the owner followed by any
// additional allowed senders.
func (c Config) Senders() []string {
	var ids []string
	if id := strings.TrimSpace(c.OwnerID); id != "" {
		ids = append(ids, id)
	}
	for _, s := range c.AllowedSenders {
		if s = strings.TrimSpace(s); s != "" {
			ids = append(ids, s)
		}
	}
	return ids
}

// Debug reports whether debug logging is enabled.
func (c Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}
