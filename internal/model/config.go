package model

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	root   cue.Value
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	root = cueCtx.CompileBytes(cueSource)
	if root.Err() != nil {
		panic(root.Err())
	}

	if err := root.Validate(); err != nil {
		panic(err)
	}

	schema = root.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Worker  Worker  `json:"worker" yaml:"worker"`
	Service Service `json:"service" yaml:"service"`
	Jobs    []Job   `json:"jobs,omitempty" yaml:"jobs,omitempty"`
}

// Worker describes how to invoke the data collection worker.
type Worker struct {
	Dir           string            `json:"dir,omitempty" yaml:"dir,omitempty"` // empty => discover
	Command       []string          `json:"command" yaml:"command"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout       string            `json:"timeout" yaml:"timeout"`
	Grace         string            `json:"grace" yaml:"grace"`
	Settle        string            `json:"settle" yaml:"settle"`
	ExpectOutputs bool              `json:"expect_outputs" yaml:"expect_outputs"`
	Platforms     map[string]string `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	Modes         map[string]string `json:"modes,omitempty" yaml:"modes,omitempty"`
}

type Service struct {
	Verbose  bool     `json:"verbose" yaml:"verbose"`
	Log      string   `json:"log" yaml:"log"` // "stderr"|"stdout"|"discard"|path
	Listen   string   `json:"listen" yaml:"listen"`
	History  string   `json:"history,omitempty" yaml:"history,omitempty"` // sqlite file
	Dir      string   `json:"dir,omitempty" yaml:"dir,omitempty"`         // execution summaries
	Metrics  bool     `json:"metrics" yaml:"metrics"`
	Debug    bool     `json:"debug" yaml:"debug"`
	Resolver Resolver `json:"resolver" yaml:"resolver"`
}

// Resolver configures the short link resolver used for detail requests.
type Resolver struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Rate      float64 `json:"rate" yaml:"rate"`
	Burst     int     `json:"burst" yaml:"burst"`
	Timeout   string  `json:"timeout" yaml:"timeout"`
	Retries   int     `json:"retries" yaml:"retries"`
	UserAgent string  `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// Job is a request started on a schedule. Exactly one of Cron and Every is set.
type Job struct {
	Name    string    `json:"name" yaml:"name"`
	Cron    string    `json:"cron,omitempty" yaml:"cron,omitempty"`
	Every   string    `json:"every,omitempty" yaml:"every,omitempty"`
	Request RawFields `json:"request" yaml:"request"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, &ConfigError{Err: err, Issues: issues(err)}
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if err := out.Check(); err != nil {
		return Config{}, err
	}

	return out, nil
}

// DefaultConfig is the configuration with every default of the schema applied.
func DefaultConfig() Config {
	cfg, err := LoadConfig(strings.NewReader("version: 0\n"))
	if err != nil {
		panic(err)
	}
	return cfg
}

// Check validates what the schema can not express.
func (c Config) Check() error {
	var errs []error
	for _, d := range []struct{ name, value string }{
		{"worker.timeout", c.Worker.Timeout},
		{"worker.grace", c.Worker.Grace},
		{"worker.settle", c.Worker.Settle},
		{"service.resolver.timeout", c.Service.Resolver.Timeout},
	} {
		if _, err := ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}

	names := make(map[string]struct{}, len(c.Jobs))
	for i, j := range c.Jobs {
		if _, dup := names[j.Name]; dup {
			errs = append(errs, fmt.Errorf("jobs.%d: duplicate name %q", i, j.Name))
		}
		names[j.Name] = struct{}{}
		if _, err := j.Definition(); err != nil {
			errs = append(errs, fmt.Errorf("jobs.%d: %w", i, err))
		}
		if _, err := Validate(j.Request); err != nil {
			errs = append(errs, fmt.Errorf("jobs.%d.request: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Durations returns parsed timeout, grace and settle values.
func (w Worker) Durations() (timeout, grace, settle time.Duration, err error) {
	if timeout, err = ParseDuration(w.Timeout); err != nil {
		return
	}
	if grace, err = ParseDuration(w.Grace); err != nil {
		return
	}
	settle, err = ParseDuration(w.Settle)
	return
}

// FlagTable returns the default table with the configured overrides.
func (w Worker) FlagTable() FlagTable {
	platforms := make(map[Platform]string, len(w.Platforms))
	for k, v := range w.Platforms {
		platforms[Platform(k)] = v
	}
	modes := make(map[Mode]string, len(w.Modes))
	for k, v := range w.Modes {
		modes[Mode(k)] = v
	}
	return DefaultFlagTable().With(platforms, modes)
}

// JobDefinition is a parsed job schedule.
type JobDefinition struct {
	Cron  string
	Every time.Duration
}

func (j Job) Definition() (JobDefinition, error) {
	switch {
	case j.Cron != "" && j.Every != "":
		return JobDefinition{}, errors.New("cron and every are mutually exclusive")
	case j.Cron != "":
		if err := ParseCron(j.Cron); err != nil {
			return JobDefinition{}, fmt.Errorf("cron: %w", err)
		}
		return JobDefinition{Cron: j.Cron}, nil
	case j.Every != "":
		d, err := ParseDuration(j.Every)
		if err != nil {
			return JobDefinition{}, fmt.Errorf("every: %w", err)
		}
		if d <= 0 {
			return JobDefinition{}, errors.New("every: must be positive")
		}
		return JobDefinition{Every: d}, nil
	}
	return JobDefinition{}, errors.New("one of cron or every is required")
}
