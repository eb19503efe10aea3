// Package config loads application settings and form/workflow definition
// files, and keeps the schema registry in sync with the definition files on
// a schedule.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/document"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FORMFLOW_STORE_DSN.
const EnvPrefix = "FORMFLOW"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Settings is the application configuration.
type Settings struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Store struct {
		Driver      string `mapstructure:"driver"`
		DSN         string `mapstructure:"dsn"`
		TablePrefix string `mapstructure:"table_prefix"`
		Migrate     bool   `mapstructure:"migrate"`
	} `mapstructure:"store"`
	Definitions struct {
		Paths          []string `mapstructure:"paths"`
		ReloadSchedule string   `mapstructure:"reload_schedule"`
	} `mapstructure:"definitions"`
	Validation struct {
		UnknownFields string `mapstructure:"unknown_fields"`
	} `mapstructure:"validation"`
	Hooks struct {
		FailureMode string `mapstructure:"failure_mode"`
	} `mapstructure:"hooks"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Retry struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		BaseDelay   time.Duration `mapstructure:"base_delay"`
		Factor      float64       `mapstructure:"factor"`
		MaxDelay    time.Duration `mapstructure:"max_delay"`
	} `mapstructure:"retry"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Runtime bool `mapstructure:"runtime"`
	} `mapstructure:"metrics"`
}

var defaults = map[string]any{
	"server.addr":                 ":8080",
	"server.shutdown_timeout":     "10s",
	"store.driver":                DriverMemory,
	"store.dsn":                   "",
	"store.table_prefix":          "formflow",
	"store.migrate":               true,
	"definitions.paths":           []string{},
	"definitions.reload_schedule": "",
	"validation.unknown_fields":   string(document.RejectUnknown),
	"hooks.failure_mode":          "fail_open",
	"log.level":                   "info",
	"log.format":                  "console",
	"retry.max_attempts":          3,
	"retry.base_delay":            "25ms",
	"retry.factor":                2.0,
	"retry.max_delay":             "1s",
	"metrics.enabled":             true,
	"metrics.runtime":             true,
}

// LoadSettings reads path (YAML, TOML or JSON, by extension) when it is not
// empty, then applies FORMFLOW_* environment overrides over the defaults.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	// a comma separated env override arrives as a single element
	if len(s.Definitions.Paths) == 1 && strings.Contains(s.Definitions.Paths[0], ",") {
		s.Definitions.Paths = splitList(s.Definitions.Paths[0])
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks settings that would otherwise fail late.
func (s *Settings) Validate() error {
	var errs []error
	switch s.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(s.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", s.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, sqlite, postgres", s.Store.Driver))
	}
	if _, err := document.ParseUnknownFieldPolicy(s.Validation.UnknownFields); err != nil {
		errs = append(errs, fmt.Errorf("validation.unknown_fields: %w", err))
	}
	if s.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if s.Definitions.ReloadSchedule != "" && len(s.Definitions.Paths) == 0 {
		errs = append(errs, fmt.Errorf("definitions.reload_schedule needs definitions.paths"))
	}
	return errors.Join(errs...)
}

// UnknownFieldPolicy returns the parsed validation policy.
func (s *Settings) UnknownFieldPolicy() document.UnknownFieldPolicy {
	policy, _ := document.ParseUnknownFieldPolicy(s.Validation.UnknownFields)
	return policy
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
