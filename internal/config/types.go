package config

import (
	"time"

	"github.com/mattjoyce/pxshell/internal/render"
)

// Config represents the complete pxshell configuration file.
type Config struct {
	Service   ServiceConfig `yaml:"service"`
	Pool      PoolConfig    `yaml:"pool"`
	Execution ExecutionFile `yaml:"execution"`
	History   HistoryConfig `yaml:"history"`
	API       APIConfig     `yaml:"api"`
	Magics    MagicsConfig  `yaml:"magics"`

	// SourcePath is the absolute path the config was loaded from ("" for defaults).
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// PoolConfig defines the local engine pool.
type PoolConfig struct {
	Engines int               `yaml:"engines"`
	Shell   string            `yaml:"shell"`
	WorkDir string            `yaml:"work_dir"`
	Env     map[string]string `yaml:"env,omitempty"`
	// KillGrace is how long Close waits after SIGTERM before SIGKILL.
	KillGrace time.Duration `yaml:"kill_grace"`
}

// ExecutionFile holds the dispatcher defaults as written in the file.
// Converted into ExecutionSettings by (*Config).ExecutionSettings.
type ExecutionFile struct {
	Targets           string  `yaml:"targets"`
	Block             bool    `yaml:"block"`
	StreamOutput      bool    `yaml:"stream_output"`
	Verbose           bool    `yaml:"verbose"`
	ProgressAfter     float64 `yaml:"progress_after"` // seconds
	SignalOnInterrupt string  `yaml:"signal_on_interrupt"`
	GroupOutputs      string  `yaml:"group_outputs"`
}

// HistoryConfig defines the submission log.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig defines the read-only status API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// APIKey is an optional bearer token; empty leaves the API open on its listen address.
	APIKey string `yaml:"api_key"`
}

// MagicsConfig defines the interactive command surface.
type MagicsConfig struct {
	// Suffix is appended to every magic name (%px<suffix>) so several pools can coexist.
	Suffix string `yaml:"suffix"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "pxshell",
			LogLevel:  "warn",
			LogFormat: "json",
		},
		Pool: PoolConfig{
			Engines:   4,
			Shell:     "/bin/sh",
			WorkDir:   "./data/engines",
			KillGrace: 5 * time.Second,
		},
		Execution: ExecutionFile{
			Targets:           "all",
			Block:             true,
			StreamOutput:      true,
			ProgressAfter:     2,
			SignalOnInterrupt: "SIGINT",
			GroupOutputs:      "type",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./data/history.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8765",
		},
	}
}

// ExecutionSettings parses the execution section into typed settings.
func (c *Config) ExecutionSettings() (ExecutionSettings, error) {
	targets, err := ParseSelector(c.Execution.Targets)
	if err != nil {
		return ExecutionSettings{}, err
	}
	sig, err := ParseSignal(c.Execution.SignalOnInterrupt)
	if err != nil {
		return ExecutionSettings{}, err
	}
	group, err := render.ParseGroupBy(c.Execution.GroupOutputs)
	if err != nil {
		return ExecutionSettings{}, &ConfigError{Field: "group_outputs", Value: c.Execution.GroupOutputs, Reason: err.Error()}
	}
	return ExecutionSettings{
		Targets:         targets,
		Block:           c.Execution.Block,
		StreamOutput:    c.Execution.StreamOutput,
		Verbose:         c.Execution.Verbose,
		ProgressAfter:   SecondsToDuration(c.Execution.ProgressAfter),
		InterruptSignal: sig,
		GroupBy:         group,
	}, nil
}
