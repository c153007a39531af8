// Package config reads CLI defaults from the environment. Command-line flags
// override every value loaded here.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env holds the STORETEST_* environment defaults.
type Env struct {
	// Timeout overrides the timeout of every scenario when non-zero.
	Timeout time.Duration `env:"STORETEST_TIMEOUT"`

	// Format is the output format: text or json.
	Format string `env:"STORETEST_FORMAT" envDefault:"text"`

	// ReportDB is the path of the run report database. Empty disables recording.
	ReportDB string `env:"STORETEST_REPORT_DB"`

	// Verbose enables debug logging.
	Verbose bool `env:"STORETEST_VERBOSE"`
}

// Load parses the environment into an Env and validates it.
func Load() (Env, error) {
	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Env{}, err
	}
	return cfg, nil
}

// Validate checks value ranges env.Parse cannot express.
func (e Env) Validate() error {
	if e.Format != "text" && e.Format != "json" {
		return fmt.Errorf("STORETEST_FORMAT must be text or json, got %q", e.Format)
	}
	if e.Timeout < 0 {
		return fmt.Errorf("STORETEST_TIMEOUT must not be negative, got %s", e.Timeout)
	}
	return nil
}
