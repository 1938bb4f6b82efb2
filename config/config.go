// elMeta: a parallel engine for multi-sample sequencing read pipelines.
// Copyright (c) 2026 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elmeta/blob/master/LICENSE.txt>.

// Package config loads the configuration of an elmeta run from a
// configuration file, a .env file, ELMETA_ environment variables, and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/exascience/elmeta/internal"
)

// EnvPrefix is the prefix of environment variables that set
// configuration keys. Nested keys use underscores, as in
// ELMETA_LOG_LEVEL.
const EnvPrefix = "ELMETA"

// Log configures the run logger.
type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	Path   string `mapstructure:"path"`
}

// Primers configures primer clipping and trimming. A zero search
// distance searches whole reads; a zero ReverseSearchDistance means
// SearchDistance.
type Primers struct {
	Forward               string  `mapstructure:"forward" validate:"omitempty,iupac"`
	Reverse               string  `mapstructure:"reverse" validate:"omitempty,iupac"`
	MismatchPercent       float64 `mapstructure:"mismatch_percent" validate:"gte=0,lte=100"`
	SearchDistance        int     `mapstructure:"search_distance" validate:"gte=0"`
	ReverseSearchDistance int     `mapstructure:"reverse_search_distance" validate:"gte=0"`
	OverlapMin            int     `mapstructure:"overlap_min" validate:"gte=1"`
}

// Parameters holds the numeric thresholds of the built-in workflows.
type Parameters struct {
	MinLength        int     `mapstructure:"min_length" validate:"gte=0"`
	MateLengthMin    int     `mapstructure:"mate_length_min" validate:"gte=0"`
	QualityMin       int     `mapstructure:"quality_min" validate:"gte=0,lte=93"`
	QualityLengthMin int     `mapstructure:"quality_length_min" validate:"gte=1"`
	MeanScoreMin     float64 `mapstructure:"mean_score_min" validate:"gte=0"`
	LocalScoreMin    float64 `mapstructure:"local_score_min" validate:"gte=0"`
	ScoreWindow      int     `mapstructure:"score_window" validate:"gte=1"`
	MinCount         int     `mapstructure:"min_count" validate:"gte=1"`
	Separator        string  `mapstructure:"separator" validate:"required"`
	Chimeras         bool    `mapstructure:"chimeras"`
	Classify         bool    `mapstructure:"classify"`
}

// Config is the configuration of an elmeta run.
type Config struct {
	Workflow      string            `mapstructure:"workflow" validate:"required,workflow"`
	Manifest      string            `mapstructure:"manifest" validate:"required"`
	OutputDir     string            `mapstructure:"output_dir" validate:"required"`
	PoolSize      int               `mapstructure:"pool_size" validate:"min=1,max=256"`
	AtomicOutputs bool              `mapstructure:"atomic_outputs"`
	Log           Log               `mapstructure:"log"`
	Primers       Primers           `mapstructure:"primers"`
	Parameters    Parameters        `mapstructure:"parameters"`
	Tools         map[string]string `mapstructure:"tools"`
}

func defaultPoolSize() int {
	n := runtime.GOMAXPROCS(0)
	if n > 256 {
		n = 256
	}
	return n
}

var defaults = map[string]interface{}{
	"workflow":                        "",
	"manifest":                        "samples.txt",
	"output_dir":                      ".",
	"atomic_outputs":                  false,
	"log.level":                       "info",
	"log.format":                      "console",
	"log.path":                        "",
	"primers.forward":                 "",
	"primers.reverse":                 "",
	"primers.mismatch_percent":        20.0,
	"primers.search_distance":         0,
	"primers.reverse_search_distance": 0,
	"primers.overlap_min":             1,
	"parameters.min_length":           100,
	"parameters.mate_length_min":      50,
	"parameters.quality_min":          20,
	"parameters.quality_length_min":   3,
	"parameters.mean_score_min":       25.0,
	"parameters.local_score_min":      15.0,
	"parameters.score_window":         5,
	"parameters.min_count":            2,
	"parameters.separator":            "~",
	"parameters.chimeras":             true,
	"parameters.classify":             true,
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"workflow":       "workflow",
	"manifest":       "manifest",
	"output-dir":     "output_dir",
	"pool-size":      "pool_size",
	"atomic-outputs": "atomic_outputs",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-path":       "log.path",
}

// AddFlags adds the command-line flags that override configuration
// keys, plus --config and --env-file.
func AddFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "configuration file (yaml, toml, or json)")
	flags.String("env-file", "", "file with ELMETA_ environment variables")
	flags.StringP("workflow", "w", "", "workflow to run")
	flags.StringP("manifest", "m", "", "sample manifest")
	flags.StringP("output-dir", "o", "", "output directory")
	flags.IntP("pool-size", "j", 0, "number of samples processed in parallel")
	flags.Bool("atomic-outputs", false, "only keep outputs of successful steps")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
	flags.String("log-path", "", "directory for log files")
}

// A LoadOption changes how Load finds its inputs.
type LoadOption func(*loader)

type loader struct {
	configFile string
	envFile    string
	flags      *pflag.FlagSet
	workflows  []string
}

// WithConfigFile sets an explicit configuration file.
func WithConfigFile(path string) LoadOption {
	return func(l *loader) { l.configFile = path }
}

// WithEnvFile sets an explicit .env file.
func WithEnvFile(path string) LoadOption {
	return func(l *loader) { l.envFile = path }
}

// WithFlags lets the changed flags of a flag set created with AddFlags
// override the other sources. The --config and --env-file flags select
// the configuration and .env files.
func WithFlags(flags *pflag.FlagSet) LoadOption {
	return func(l *loader) { l.flags = flags }
}

// WithWorkflows sets the valid values of the workflow key.
func WithWorkflows(names ...string) LoadOption {
	return func(l *loader) { l.workflows = names }
}

// Load loads and validates a configuration.
func Load(opts ...LoadOption) (*Config, error) {
	var l loader
	for _, opt := range opts {
		opt(&l)
	}
	if l.flags != nil {
		if f := l.flags.Lookup("config"); f != nil && f.Changed {
			l.configFile = f.Value.String()
		}
		if f := l.flags.Lookup("env-file"); f != nil && f.Changed {
			l.envFile = f.Value.String()
		}
	}

	switch {
	case l.envFile != "":
		if err := godotenv.Load(l.envFile); err != nil {
			return nil, fmt.Errorf("%w, while loading env file %v", err, l.envFile)
		}
	case internal.Exists(".env"):
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("%w, while loading env file .env", err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("pool_size", defaultPoolSize())
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w, while reading configuration file %v", err, l.configFile)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if l.flags != nil {
		for name, key := range flagKeys {
			if f := l.flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w, while decoding configuration", err)
	}
	if err := cfg.Validate(l.workflows...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func iupac(fl validator.FieldLevel) bool {
	for _, c := range fl.Field().String() {
		if !strings.ContainsRune("ACGTUWSMKRYBDHVNacgtuwsmkrybdhvn", c) {
			return false
		}
	}
	return true
}

func newValidator(workflows []string) *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return field.Tag.Get("mapstructure")
	})
	_ = validate.RegisterValidation("iupac", iupac)
	_ = validate.RegisterValidation("workflow", func(fl validator.FieldLevel) bool {
		if len(workflows) == 0 {
			return true
		}
		name := fl.Field().String()
		for _, w := range workflows {
			if w == name {
				return true
			}
		}
		return false
	})
	return validate
}

func message(e validator.FieldError, workflows []string) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + e.Param()
	case "max", "lte":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "workflow":
		return "must be one of: " + strings.Join(workflows, " ")
	case "iupac":
		return "must be a nucleotide sequence in IUPAC notation"
	default:
		return "is invalid"
	}
}

// Validate checks the configuration. If workflows are given, the
// workflow key must name one of them.
func (cfg *Config) Validate(workflows ...string) error {
	err := newValidator(workflows).Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, e := range fieldErrors {
		name := strings.TrimPrefix(e.Namespace(), "Config.")
		messages = append(messages, name+" "+message(e, workflows))
	}
	return fmt.Errorf("invalid configuration: %v", strings.Join(messages, "; "))
}

// Tool returns the external command configured under the given name.
// The command line may contain {name} placeholders and a trailing
// "> path" redirection.
func (cfg *Config) Tool(name string) (internal.Tool, error) {
	line, ok := cfg.Tools[name]
	if !ok || strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("no command configured for tool %v", name)
	}
	return internal.ParseCommand(line), nil
}

// ToolNames returns the names of all configured tools, sorted.
func (cfg *Config) ToolNames() []string {
	names := make([]string, 0, len(cfg.Tools))
	for name := range cfg.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ManifestPath returns the manifest path, with a relative path taken
// relative to the working directory.
func (cfg *Config) ManifestPath() (string, error) {
	return internal.FullPathname(os.ExpandEnv(cfg.Manifest))
}
