package config

import "time"

// Raw* types mirror the YAML file. Pointer fields distinguish "unset" from a
// zero value so only keys present in the file override the defaults.

type RawPriority struct {
	Unthrottled *int `yaml:"unthrottled"`
	Throttled   *int `yaml:"throttled"`
}

type RawQuota struct {
	Bus           *string  `yaml:"bus"`
	ThrottledUSec *uint64  `yaml:"throttled_usec"`
	IgnoreUnits   []string `yaml:"ignore_units"`
}

type RawConfig struct {
	Source           *string        `yaml:"source"`
	SwaySocket       *string        `yaml:"sway_socket"`
	Display          *string        `yaml:"display"`
	Backend          *string        `yaml:"backend"`
	Triggers         []string       `yaml:"triggers"`
	WalkPolicy       *string        `yaml:"walk_policy"`
	TreeFetchFailure *string        `yaml:"tree_fetch_failure"`
	Parallelism      *int           `yaml:"parallelism"`
	RescanInterval   *time.Duration `yaml:"rescan_interval"`
	LogLevel         *string        `yaml:"log_level"`
	LogFormat        *string        `yaml:"log_format"`
	Priority         *RawPriority   `yaml:"priority"`
	Quota            *RawQuota      `yaml:"quota"`
	MetricsListen    *string        `yaml:"metrics_listen"`
}
