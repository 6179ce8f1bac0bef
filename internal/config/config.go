package config

import (
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/telemetry"
)

const (
	DefaultLogLevel = "info"

	defaultInterval          = 2
	defaultDiscoveryInterval = 5
	defaultProbeTimeoutMs    = 500
	defaultStaleMultiplier   = 3
	defaultFailureThreshold  = 3
	defaultToolsDir          = "tools"
	defaultShmPath           = "/dev/shm/sysdeck-telemetry"
)

// RuleConfig is one detection rule for a companion tool, evaluated in
// declared order.
type RuleConfig struct {
	Kind    string `mapstructure:"kind"`
	Pattern string `mapstructure:"pattern"`
}

// ToolConfig describes one companion tool the discovery engine tracks.
type ToolConfig struct {
	ID           string       `mapstructure:"id"`
	Name         string       `mapstructure:"name"`
	Rules        []RuleConfig `mapstructure:"rules"`
	ProcessNames []string     `mapstructure:"process_names"`

	// Capability optionally names a UI capability gated on this tool.
	Capability string `mapstructure:"capability"`
	// RequireRunning demands the tool be running, not merely installed,
	// for the capability to be enabled.
	RequireRunning bool `mapstructure:"require_running"`
	// CapabilityKinds additionally require a healthy backend for one of
	// these metric kinds.
	CapabilityKinds []string `mapstructure:"capability_kinds"`
}

type Config struct {
	Interval          int                 `mapstructure:"interval"`
	DiscoveryInterval int                 `mapstructure:"discovery_interval"`
	ProbeTimeoutMs    int                 `mapstructure:"probe_timeout_ms"`
	StaleMultiplier   int                 `mapstructure:"stale_multiplier"`
	FailureThreshold  int                 `mapstructure:"failure_threshold"`
	ToolsDir          string              `mapstructure:"tools_dir"`
	ShmPath           string              `mapstructure:"shm_path"`
	LogLevel          string              `mapstructure:"log_level"`
	History           bool                `mapstructure:"history"`
	Database          string              `mapstructure:"database"`
	Chains            map[string][]string `mapstructure:"chains"`
	Tools             []ToolConfig        `mapstructure:"tool"`
}

var validRuleKinds = map[string]bool{
	"managed-folder-name": true,
	"known-path":          true,
	"path-lookup":         true,
	"shortcut-target":     true,
}

func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("discovery_interval", defaultDiscoveryInterval)
	v.SetDefault("probe_timeout_ms", defaultProbeTimeoutMs)
	v.SetDefault("stale_multiplier", defaultStaleMultiplier)
	v.SetDefault("failure_threshold", defaultFailureThreshold)
	v.SetDefault("tools_dir", defaultToolsDir)
	v.SetDefault("shm_path", defaultShmPath)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("history", false)
	v.SetDefault("database", "")

	flags := pflag.NewFlagSet("sysdeckd", pflag.ContinueOnError)
	configFile := flags.String("config", "", "Path to configuration file")
	flags.String("log-level", "", "Log level (debug, info, warning, error)")
	flags.Int("interval", 0, "Seconds between telemetry poll cycles")
	flags.Int("discovery-interval", 0, "Seconds between tool discovery passes")
	flags.String("tools-dir", "", "Managed folder scanned for companion tools")
	flags.Bool("history", false, "Record telemetry snapshots to the database")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	switch {
	case *configFile != "":
		v.SetConfigFile(*configFile)
	case os.Getenv("SYSDECK_CONFIG") != "":
		v.SetConfigFile(os.Getenv("SYSDECK_CONFIG"))
	default:
		v.SetConfigName("sysdeck")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/sysdeck")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// Flags override file values.
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "log-level":
			v.Set("log_level", f.Value.String())
		case "interval":
			v.Set("interval", f.Value.String())
		case "discovery-interval":
			v.Set("discovery_interval", f.Value.String())
		case "tools-dir":
			v.Set("tools_dir", f.Value.String())
		case "history":
			v.Set("history", f.Value.String())
		}
	})

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the daemon cannot safely start with.
// These are the only fatal errors in the system; everything downstream
// degrades instead of failing.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.DiscoveryInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.DiscoveryInterval)
	}
	if c.ProbeTimeoutMs <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "probe_timeout_ms must be positive")
	}
	if c.StaleMultiplier < 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "stale_multiplier must be at least 1")
	}
	if c.FailureThreshold < 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "failure_threshold must be at least 1")
	}

	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.History && c.Database == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "history enabled but no database path set")
	}

	seen := make(map[string]bool, len(c.Tools))
	for i := range c.Tools {
		tool := &c.Tools[i]
		if tool.ID == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "tool with empty id")
		}
		if seen[tool.ID] {
			return errFactory.WithData(errors.ErrInvalidConfig, "duplicate tool id: "+tool.ID)
		}
		seen[tool.ID] = true
		if len(tool.Rules) == 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, "tool has no detection rules: "+tool.ID)
		}
		for _, rule := range tool.Rules {
			if !validRuleKinds[rule.Kind] {
				return errFactory.WithData(errors.ErrInvalidConfig, "unknown rule kind: "+rule.Kind)
			}
			if rule.Pattern == "" {
				return errFactory.WithData(errors.ErrInvalidConfig, "rule with empty pattern: "+tool.ID)
			}
		}
		for _, name := range tool.CapabilityKinds {
			if _, err := telemetry.ParseMetricKind(name); err != nil {
				return errFactory.WithData(errors.ErrInvalidConfig, "unknown capability kind: "+name)
			}
		}
	}

	for kind, chain := range c.Chains {
		if _, err := telemetry.ParseMetricKind(kind); err != nil {
			return err
		}
		if len(chain) == 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, "empty backend chain: "+kind)
		}
	}

	return nil
}
