package config

import (
	"fmt"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1broseidon/focusgov/internal/control"
	"github.com/1broseidon/focusgov/internal/platform"
	"github.com/1broseidon/focusgov/internal/tree"
)

// Window sources.
const (
	SourceSway = "sway"
	SourceX11  = "x11"
)

// What to do when fetching the window tree fails.
const (
	TreeFetchFatal = "fatal"
	TreeFetchSkip  = "skip"
)

// PriorityConfig configures the nice-value backend.
type PriorityConfig struct {
	Unthrottled int `yaml:"unthrottled"`
	Throttled   int `yaml:"throttled"`
}

// QuotaConfig configures the systemd CPU quota backend.
type QuotaConfig struct {
	// Bus is "user" (default) or "system".
	Bus string `yaml:"bus"`
	// ThrottledUSec is CPUQuotaPerSecUSec for throttled units; 100000 is 10%
	// of one CPU.
	ThrottledUSec uint64 `yaml:"throttled_usec"`
	// IgnoreUnits are unit name globs that are never touched.
	IgnoreUnits []string `yaml:"ignore_units,omitempty"`
}

// Config is the effective daemon configuration.
type Config struct {
	Source           string         `yaml:"source"`
	SwaySocket       string         `yaml:"sway_socket,omitempty"`
	Display          string         `yaml:"display,omitempty"`
	Backend          string         `yaml:"backend"`
	Triggers         []string       `yaml:"triggers"`
	WalkPolicy       string         `yaml:"walk_policy"`
	TreeFetchFailure string         `yaml:"tree_fetch_failure"`
	Parallelism      int            `yaml:"parallelism"`
	// RescanInterval walks the tree periodically even without events; 0
	// disables it.
	RescanInterval   time.Duration  `yaml:"rescan_interval"`
	LogLevel         string         `yaml:"log_level"`
	LogFormat        string         `yaml:"log_format"`
	Priority         PriorityConfig `yaml:"priority"`
	Quota            QuotaConfig    `yaml:"quota"`
	MetricsListen    string         `yaml:"metrics_listen,omitempty"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	prio := control.DefaultPriorityConfig()
	quota := control.DefaultQuotaConfig()
	return &Config{
		Source:           SourceSway,
		Backend:          control.BackendQuota,
		Triggers:         platform.DefaultTriggers(),
		WalkPolicy:       tree.PolicyContinue.String(),
		TreeFetchFailure: TreeFetchFatal,
		Parallelism:      1,
		LogLevel:         "info",
		LogFormat:        "auto",
		Priority: PriorityConfig{
			Unthrottled: prio.Unthrottled,
			Throttled:   prio.Throttled,
		},
		Quota: QuotaConfig{
			Bus:           string(quota.Bus),
			ThrottledUSec: quota.ThrottledUSec,
			IgnoreUnits:   quota.IgnoreUnits,
		},
	}
}

// Validate checks every field; the first problem is returned as a
// *ValidationError naming the YAML path.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceSway, SourceX11:
	default:
		return &ValidationError{Path: "source", Err: fmt.Errorf("source must be one of: sway, x11")}
	}
	if _, err := control.ParseBackend(c.Backend); err != nil {
		return &ValidationError{Path: "backend", Err: err}
	}
	if len(c.Triggers) == 0 {
		return &ValidationError{Path: "triggers", Err: fmt.Errorf("triggers must not be empty")}
	}
	if _, err := platform.NewTriggerSet(c.Triggers); err != nil {
		return &ValidationError{Path: "triggers", Err: err}
	}
	if _, err := tree.ParsePolicy(c.WalkPolicy); err != nil {
		return &ValidationError{Path: "walk_policy", Err: err}
	}
	switch c.TreeFetchFailure {
	case TreeFetchFatal, TreeFetchSkip:
	default:
		return &ValidationError{Path: "tree_fetch_failure", Err: fmt.Errorf("tree_fetch_failure must be one of: fatal, skip")}
	}
	if c.Parallelism < 1 || c.Parallelism > 64 {
		return &ValidationError{Path: "parallelism", Err: fmt.Errorf("parallelism must be between 1 and 64")}
	}
	if c.RescanInterval != 0 && c.RescanInterval < time.Second {
		return &ValidationError{Path: "rescan_interval", Err: fmt.Errorf("rescan_interval must be 0 or at least 1s")}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warn, error")}
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		return &ValidationError{Path: "log_format", Err: fmt.Errorf("log_format must be one of: auto, text, json")}
	}
	if err := c.PriorityControl().Validate(); err != nil {
		return &ValidationError{Path: "priority", Err: err}
	}
	for _, pattern := range c.Quota.IgnoreUnits {
		if _, err := path.Match(pattern, ""); err != nil {
			return &ValidationError{Path: "quota.ignore_units", Err: fmt.Errorf("bad pattern %q: %w", pattern, err)}
		}
	}
	if err := c.QuotaControl().Validate(); err != nil {
		return &ValidationError{Path: "quota", Err: err}
	}
	if c.MetricsListen != "" && !strings.Contains(c.MetricsListen, ":") {
		return &ValidationError{Path: "metrics_listen", Err: fmt.Errorf("metrics_listen must be host:port")}
	}
	return nil
}

// BackendName returns the normalized backend name. Only valid after Validate.
func (c *Config) BackendName() string {
	name, _ := control.ParseBackend(c.Backend)
	return name
}

// TriggerSet returns the parsed triggers. Only valid after Validate.
func (c *Config) TriggerSet() platform.TriggerSet {
	set, _ := platform.NewTriggerSet(c.Triggers)
	return set
}

// WalkOptions returns the walker options. Only valid after Validate.
func (c *Config) WalkOptions() tree.Options {
	policy, _ := tree.ParsePolicy(c.WalkPolicy)
	return tree.Options{Policy: policy, Parallelism: c.Parallelism}
}

// PriorityControl converts the priority section for the control package.
func (c *Config) PriorityControl() control.PriorityConfig {
	return control.PriorityConfig{
		Unthrottled: c.Priority.Unthrottled,
		Throttled:   c.Priority.Throttled,
	}
}

// QuotaControl converts the quota section for the control package.
func (c *Config) QuotaControl() control.QuotaConfig {
	return control.QuotaConfig{
		Bus:           control.Bus(c.Quota.Bus),
		ThrottledUSec: c.Quota.ThrottledUSec,
		IgnoreUnits:   append([]string(nil), c.Quota.IgnoreUnits...),
	}
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
