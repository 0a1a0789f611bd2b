// Package config loads process settings from the environment.
//
// Every field reads DEPLUG_<FIELD_NAME>; command-line flags override the
// loaded values. Fields use split_words, not envconfig tags: a tag also
// reads the unprefixed variable, and HOME must not leak in.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/dshills/deplug/internal/logging"
)

// Prefix is the environment variable prefix.
const Prefix = "DEPLUG"

// Config holds process settings.
type Config struct {
	// Home is the data root. Profiles live under Home/profiles and
	// installed packages under Home/packages. Defaults to
	// $XDG_DATA_HOME/deplug or ~/.local/share/deplug.
	Home string `split_words:"true"`

	Profile string `split_words:"true" default:"default"`

	// Catalog is a directory holding an index.yaml. Empty disables
	// remote listings and install.
	Catalog string `split_words:"true"`

	HookTimeout    time.Duration `split_words:"true" default:"10s"`
	RefreshTimeout time.Duration `split_words:"true" default:"30s"`

	LogLevel string `split_words:"true" default:"info"`
	LogDev   bool   `split_words:"true" default:"false"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Home == "" {
		home, err := DefaultHome()
		if err != nil {
			return nil, err
		}
		cfg.Home = home
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when the environment is empty,
// except that Home is left unset.
func Default() *Config {
	return &Config{
		Profile:        "default",
		HookTimeout:    10 * time.Second,
		RefreshTimeout: 30 * time.Second,
		LogLevel:       "info",
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	var errs []error
	if c.Home == "" {
		errs = append(errs, errors.New("home directory is not set"))
	}
	if c.HookTimeout < 0 {
		errs = append(errs, fmt.Errorf("hook timeout %s is negative", c.HookTimeout))
	}
	if c.RefreshTimeout < 0 {
		errs = append(errs, fmt.Errorf("refresh timeout %s is negative", c.RefreshTimeout))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PackagesDir is where installed packages live.
func (c *Config) PackagesDir() string {
	return filepath.Join(c.Home, "packages")
}

// Logging converts the log settings for the logging package.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Development = c.LogDev
	return cfg
}

// DefaultHome returns $XDG_DATA_HOME/deplug, falling back to
// ~/.local/share/deplug.
func DefaultHome() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "deplug"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "deplug"), nil
}
