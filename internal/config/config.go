// Package config loads and validates fuel's declarative configuration.
// Configuration lives in .fuel/config.yaml and maps logical agent names to
// drivers, routes complexity to agents, and tunes daemon behavior.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/fuelsh/fuel/pkg/models"
)

// Defaults applied when keys are absent from the config file.
const (
	DefaultMaxRetries           = 3
	DefaultShutdownGraceSeconds = 10
	DefaultIntervalSeconds      = 5
	DefaultTaskTimeoutSeconds   = 3600
	DefaultClientBufferBytes    = 1 << 20
	DefaultMaxConcurrent        = 1
)

// AgentConfig maps a logical agent name to a concrete driver invocation.
type AgentConfig struct {
	// Driver is the agent family (claude, codex, opencode, amp, cursor-agent).
	Driver string `mapstructure:"driver"`
	// Command overrides the driver's binary, if set.
	Command string `mapstructure:"command"`
	// Model is passed via the driver's model flag, if the driver has one.
	Model string `mapstructure:"model"`
	// Args are extra argv tokens appended after the driver defaults.
	Args []string `mapstructure:"args"`
	// Env overlays additional environment variables on the child.
	Env map[string]string `mapstructure:"env"`
	// MaxConcurrent caps simultaneous children for this agent.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// ComplexityConfig routes task complexity to a logical agent name.
type ComplexityConfig struct {
	Trivial  string `mapstructure:"trivial"`
	Simple   string `mapstructure:"simple"`
	Moderate string `mapstructure:"moderate"`
	Complex  string `mapstructure:"complex"`
}

// Config holds all configuration for the consume daemon.
type Config struct {
	// Primary is the logical agent for general work and fallback.
	Primary string `mapstructure:"primary"`
	// Complexity routes complexity buckets to agents.
	Complexity ComplexityConfig `mapstructure:"complexity"`
	// Review is the reviewer agent; empty disables review.
	Review string `mapstructure:"review"`
	// Reality is the reality-index updater; empty disables it.
	Reality string `mapstructure:"reality"`
	// Agents maps logical names to driver invocations.
	Agents map[string]AgentConfig `mapstructure:"agents"`
	// EpicMirrors enables per-epic isolated working copies.
	EpicMirrors bool `mapstructure:"epic_mirrors"`
	// TaskReview enables the review stage after work tasks.
	TaskReview bool `mapstructure:"task_review"`
	// RereviewAutoClosed re-enables review for reopened auto-closed tasks.
	RereviewAutoClosed bool `mapstructure:"rereview_auto_closed"`
	// MaxRetries caps transient retries before a task needs a human.
	MaxRetries int `mapstructure:"max_retries"`
	// ShutdownGraceSeconds is the SIGTERM-to-SIGKILL window on stop.
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
	// IntervalSeconds is the scheduler tick interval.
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// TaskTimeoutSeconds is the per-run hard timeout.
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds"`
	// ClientBufferBytes bounds a client's pending IPC send buffer.
	ClientBufferBytes int `mapstructure:"client_buffer_bytes"`
}

// Load reads configuration from the given path. A missing file yields the
// defaults; a malformed or invalid file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyAgentDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("task_review", true)
	v.SetDefault("epic_mirrors", false)
	v.SetDefault("rereview_auto_closed", false)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("shutdown_grace_seconds", DefaultShutdownGraceSeconds)
	v.SetDefault("interval_seconds", DefaultIntervalSeconds)
	v.SetDefault("task_timeout_seconds", DefaultTaskTimeoutSeconds)
	v.SetDefault("client_buffer_bytes", DefaultClientBufferBytes)
}

func applyAgentDefaults(cfg *Config) {
	for name, ac := range cfg.Agents {
		if ac.MaxConcurrent <= 0 {
			ac.MaxConcurrent = DefaultMaxConcurrent
			cfg.Agents[name] = ac
		}
	}
}

// Validate checks cross-field consistency. The daemon refuses to start on a
// validation error, and a running daemon keeps its previous config when a
// reload fails validation.
func (c *Config) Validate() error {
	if c.Primary == "" {
		return fmt.Errorf("config: primary agent is required")
	}
	if _, ok := c.Agents[c.Primary]; !ok {
		return fmt.Errorf("config: primary agent %q is not defined under agents", c.Primary)
	}
	if c.Review != "" {
		if _, ok := c.Agents[c.Review]; !ok {
			return fmt.Errorf("config: review agent %q is not defined under agents", c.Review)
		}
	}
	if c.Reality != "" {
		if _, ok := c.Agents[c.Reality]; !ok {
			return fmt.Errorf("config: reality agent %q is not defined under agents", c.Reality)
		}
	}
	for _, name := range []string{c.Complexity.Trivial, c.Complexity.Simple, c.Complexity.Moderate, c.Complexity.Complex} {
		if name == "" {
			continue
		}
		if _, ok := c.Agents[name]; !ok {
			return fmt.Errorf("config: complexity route %q is not defined under agents", name)
		}
	}
	for name, ac := range c.Agents {
		if ac.Driver == "" {
			return fmt.Errorf("config: agent %q has no driver", name)
		}
	}
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("config: interval_seconds must be positive")
	}
	return nil
}

// AgentForComplexity resolves the logical agent for a complexity bucket,
// falling back to the primary agent.
func (c *Config) AgentForComplexity(cx models.Complexity) string {
	var name string
	switch cx {
	case models.ComplexityTrivial:
		name = c.Complexity.Trivial
	case models.ComplexitySimple:
		name = c.Complexity.Simple
	case models.ComplexityModerate:
		name = c.Complexity.Moderate
	case models.ComplexityComplex:
		name = c.Complexity.Complex
	}
	if name == "" {
		return c.Primary
	}
	return name
}

// ReviewEnabled reports whether finished work goes through review: the
// stage must be on and a reviewer configured. An empty review agent
// disables the stage entirely.
func (c *Config) ReviewEnabled() bool {
	return c.TaskReview && c.Review != ""
}

// RealityAgent resolves the reality-index agent, falling back to primary.
func (c *Config) RealityAgent() string {
	if c.Reality != "" {
		return c.Reality
	}
	return c.Primary
}

// Interval returns the scheduler tick interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ShutdownGrace returns the SIGTERM-to-SIGKILL window as a duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// TaskTimeout returns the per-run hard timeout as a duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// AgentLimits returns the per-agent max concurrency map.
func (c *Config) AgentLimits() map[string]int {
	limits := make(map[string]int, len(c.Agents))
	for name, ac := range c.Agents {
		limits[name] = ac.MaxConcurrent
	}
	return limits
}
