package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildEffectiveConfig applies raw onto DefaultConfig. Values are normalized
// (trimmed, lower-cased enums) but not validated.
func BuildEffectiveConfig(raw RawConfig) *Config {
	cfg := DefaultConfig()

	if raw.Source != nil {
		cfg.Source = normalizeEnum(*raw.Source)
	}
	if raw.SwaySocket != nil {
		cfg.SwaySocket = strings.TrimSpace(*raw.SwaySocket)
	}
	if raw.Display != nil {
		cfg.Display = strings.TrimSpace(*raw.Display)
	}
	if raw.Backend != nil {
		cfg.Backend = normalizeEnum(*raw.Backend)
	}
	if raw.Triggers != nil {
		cfg.Triggers = make([]string, 0, len(raw.Triggers))
		for _, t := range raw.Triggers {
			cfg.Triggers = append(cfg.Triggers, normalizeEnum(t))
		}
	}
	if raw.WalkPolicy != nil {
		cfg.WalkPolicy = normalizeEnum(*raw.WalkPolicy)
	}
	if raw.TreeFetchFailure != nil {
		cfg.TreeFetchFailure = normalizeEnum(*raw.TreeFetchFailure)
	}
	cfg.Parallelism = derefInt(raw.Parallelism, cfg.Parallelism)
	if raw.RescanInterval != nil {
		cfg.RescanInterval = *raw.RescanInterval
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = normalizeEnum(*raw.LogLevel)
	}
	if raw.LogFormat != nil {
		cfg.LogFormat = normalizeEnum(*raw.LogFormat)
	}

	if raw.Priority != nil {
		cfg.Priority.Unthrottled = derefInt(raw.Priority.Unthrottled, cfg.Priority.Unthrottled)
		cfg.Priority.Throttled = derefInt(raw.Priority.Throttled, cfg.Priority.Throttled)
	}
	if raw.Quota != nil {
		if raw.Quota.Bus != nil {
			cfg.Quota.Bus = normalizeEnum(*raw.Quota.Bus)
		}
		if raw.Quota.ThrottledUSec != nil {
			cfg.Quota.ThrottledUSec = *raw.Quota.ThrottledUSec
		}
		if raw.Quota.IgnoreUnits != nil {
			cfg.Quota.IgnoreUnits = append([]string(nil), raw.Quota.IgnoreUnits...)
		}
	}
	if raw.MetricsListen != nil {
		cfg.MetricsListen = strings.TrimSpace(*raw.MetricsListen)
	}
	return cfg
}

func normalizeEnum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func derefInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
