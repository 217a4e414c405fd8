// Package config loads devspace settings from config.yaml and the
// environment.
//
// Every key has a default, so the server starts with no file at all. Any key
// can be overridden from the environment with the DEVSPACE_ prefix and dots
// replaced by underscores: ledger.driver becomes DEVSPACE_LEDGER_DRIVER.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration of the devspace server.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

		// InstanceID owns the runs this server starts in a shared ledger.
		// Empty means the host name.
		InstanceID string `mapstructure:"instance_id"`
	} `mapstructure:"server"`

	// Ledger selects the run ledger backend: memory, sqlite or mysql.
	Ledger struct {
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"ledger"`

	// Workspace holds projects, files and conversations. An empty DSN keeps
	// them in memory.
	Workspace struct {
		PostgresDSN string `mapstructure:"postgres_dsn"`
	} `mapstructure:"workspace"`

	AI struct {
		Provider string `mapstructure:"provider"`
		APIKey   string `mapstructure:"api_key"`
		Model    string `mapstructure:"model"`
		BaseURL  string `mapstructure:"base_url"`
	} `mapstructure:"ai"`

	GitHub struct {
		Token     string  `mapstructure:"token"`
		BaseURL   string  `mapstructure:"base_url"`
		RateLimit float64 `mapstructure:"rate_limit"`
		RateBurst int     `mapstructure:"rate_burst"`
	} `mapstructure:"github"`

	Uploads struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"uploads"`

	Stream struct {
		Heartbeat    time.Duration `mapstructure:"heartbeat"`
		ReleaseGrace time.Duration `mapstructure:"release_grace"`
	} `mapstructure:"stream"`

	Workflow struct {
		MaxRetries  int           `mapstructure:"max_retries"`
		StepTimeout time.Duration `mapstructure:"step_timeout"`
		LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
	} `mapstructure:"workflow"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Tracing struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"tracing"`
}

var defaults = map[string]any{
	"server.addr":             ":8080",
	"server.shutdown_timeout": 30 * time.Second,
	"server.instance_id":      "",
	"ledger.driver":           "memory",
	"ledger.path":             "devspace.db",
	"ledger.dsn":              "",
	"workspace.postgres_dsn":  "",
	"ai.provider":             "mock",
	"ai.api_key":              "",
	"ai.model":                "",
	"ai.base_url":             "",
	"github.token":            "",
	"github.base_url":         "",
	"github.rate_limit":       10.0,
	"github.rate_burst":       10,
	"uploads.dir":             "uploads",
	"stream.heartbeat":        15 * time.Second,
	"stream.release_grace":    30 * time.Second,
	"workflow.max_retries":    1,
	"workflow.step_timeout":   time.Duration(0),
	"workflow.lease_ttl":      time.Minute,
	"log.level":               "info",
	"log.format":              "text",
	"tracing.enabled":         false,
}

// New returns a viper instance with defaults and environment binding set
// up. file is an explicit config path; when empty, config.yaml is searched
// for in . and ./config.
func New(file string) *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("DEVSPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A missing config.yaml is not an error when
// no file was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings and the fields they require.
func (c *Config) Validate() error {
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	switch c.Ledger.Driver {
	case "memory":
	case "sqlite":
		if c.Ledger.Path == "" {
			return errors.New("config: ledger.path is required for the sqlite ledger")
		}
	case "mysql":
		if c.Ledger.DSN == "" {
			return errors.New("config: ledger.dsn is required for the mysql ledger")
		}
	default:
		return fmt.Errorf("config: unknown ledger.driver %q (want memory, sqlite or mysql)", c.Ledger.Driver)
	}

	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	switch c.AI.Provider {
	case "mock":
	case "openai", "anthropic", "google":
		if c.AI.APIKey == "" {
			return fmt.Errorf("config: ai.api_key is required for provider %s", c.AI.Provider)
		}
	default:
		return fmt.Errorf("config: unknown ai.provider %q", c.AI.Provider)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q (want text or json)", c.Log.Format)
	}
	if c.Workflow.MaxRetries < 0 {
		return errors.New("config: workflow.max_retries must not be negative")
	}
	if c.Workflow.LeaseTTL <= 0 {
		return errors.New("config: workflow.lease_ttl must be positive")
	}
	return nil
}
