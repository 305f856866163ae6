// Package config loads the asmdump configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jtang613/gometa/internal/logging"
)

// Decoding strategies.
const (
	StrategyTables  = "tables"
	StrategyInspect = "inspect"
)

// Config is the asmdump configuration.
type Config struct {
	Log       LogConfig    `yaml:"log"`
	Strategy  string       `yaml:"strategy"`
	ProbeDirs []string     `yaml:"probe_dirs"`
	Output    OutputConfig `yaml:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// OutputConfig configures JSON output.
type OutputConfig struct {
	Pretty bool `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:      LogConfig{Level: "warn"},
		Strategy: StrategyTables,
		Output:   OutputConfig{Pretty: true},
	}
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	//nolint:gosec // G304: path comes from the command line.
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError collects every invalid field.
type MultiValidationError struct {
	Errors []ValidationError
}

func (e *MultiValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

// Validate checks field values.
func (c *Config) Validate() error {
	var errs []ValidationError

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unknown level %q", c.Log.Level),
		})
	}

	if c.Strategy != StrategyTables && c.Strategy != StrategyInspect {
		errs = append(errs, ValidationError{
			Field:   "strategy",
			Message: "strategy must be 'tables' or 'inspect'",
		})
	}

	for i, dir := range c.ProbeDirs {
		if strings.TrimSpace(dir) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("probe_dirs[%d]", i),
				Message: "probe directory must not be empty",
			})
		}
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}

// LoggingConfig converts the log section for the logging package.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Pretty
	return cfg
}
