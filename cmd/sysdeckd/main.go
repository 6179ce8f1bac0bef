package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sysdeck/sysdeck/internal/capability"
	"github.com/sysdeck/sysdeck/internal/config"
	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/history"
	"github.com/sysdeck/sysdeck/internal/logger"
	"github.com/sysdeck/sysdeck/internal/pid"
	"github.com/sysdeck/sysdeck/internal/probe"
	"github.com/sysdeck/sysdeck/internal/telemetry"
	"github.com/sysdeck/sysdeck/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(config.DefaultLogLevel, logger.IsService())
		logger.FatalWithCode(err).Msg("Failed to load config")
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.FatalWithCode(err).Msg("Failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	if err := run(cfg); err != nil {
		logger.ErrorWithCode(err).Msg("Daemon exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	toolsDir := resolveToolsDir(cfg.ToolsDir)
	if err := os.MkdirAll(toolsDir, 0o755); err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}

	probes := buildProbes(cfg)
	chains, err := buildChains(cfg, probes)
	if err != nil {
		return err
	}

	cache := telemetry.NewCache()
	agg, err := telemetry.NewAggregator(telemetry.AggregatorConfig{
		Interval:         time.Duration(cfg.Interval) * time.Second,
		ProbeTimeout:     time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
		StaleMultiplier:  cfg.StaleMultiplier,
		FailureThreshold: cfg.FailureThreshold,
	}, cache, chains)
	if err != nil {
		return err
	}

	identities, err := buildIdentities(cfg)
	if err != nil {
		return err
	}

	store := tools.NewStore()
	resolver := &tools.Resolver{
		ToolsDir:   toolsDir,
		ExtractDir: filepath.Join(toolsDir, ".extract"),
	}
	extractor := tools.NewExtractor(resolver.ExtractDir)
	engine := tools.NewEngine(tools.EngineConfig{
		Interval: time.Duration(cfg.DiscoveryInterval) * time.Second,
	}, store, resolver, extractor, tools.NewProcessScanner(), identities)

	publisher := capability.NewPublisher(buildCapabilityRules(cfg), agg.ProbeKinds())
	publisher.Subscribe(func(set capability.Set) {
		logger.Info().Interface("capabilities", set).Msg("Capability set changed")
	})

	store.Subscribe(func(id string, oldStatus, newStatus tools.Status) {
		logger.Info().
			Str("tool", id).
			Str("from", oldStatus.String()).
			Str("to", newStatus.String()).
			Msg("Tool status changed")
		publisher.UpdateTools(store.Snapshot())
	})
	agg.SubscribeHealth(func(health map[string]telemetry.BackendHealth) {
		publisher.UpdateHealth(health)
	})

	// Seed the baseline set so consumers see capabilities before the first
	// status or health transition.
	publisher.UpdateHealth(agg.Health())

	recorder, err := history.NewService(history.Config{
		Enabled:      cfg.History,
		DBPath:       cfg.Database,
		BatchSize:    16,
		BatchTimeout: 30,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	agg.Subscribe(func(snapshot telemetry.Snapshot) {
		if err := recorder.Record(ctx, snapshot); err != nil {
			logger.Debug().Err(err).Msg("History record failed")
		}
	})

	logger.Info().
		Int("interval", cfg.Interval).
		Int("discovery_interval", cfg.DiscoveryInterval).
		Str("tools_dir", toolsDir).
		Int("tools", len(identities)).
		Msg("Starting sysdeckd")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		agg.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()
	wg.Wait()

	agg.Close()
	if err := recorder.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close history recorder")
	}
	logger.Info().Msg("Exiting...")

	return nil
}

// resolveToolsDir anchors a relative managed folder next to the executable.
func resolveToolsDir(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}

	exe, err := os.Executable()
	if err != nil {
		return dir
	}

	return filepath.Join(filepath.Dir(exe), dir)
}

func buildProbes(cfg *config.Config) map[string]telemetry.Probe {
	all := []telemetry.Probe{
		probe.NewNVML(),
		probe.NewCPU(),
		probe.NewMemory(),
		probe.NewSensors(),
		probe.NewSharedMem(cfg.ShmPath),
	}

	out := make(map[string]telemetry.Probe, len(all))
	for _, p := range all {
		out[p.ID()] = p
	}

	return out
}

// defaultChains prefers the rich companion-tool block, then dedicated
// sensor interfaces, then coarse OS counters. Hosts differ on which source
// is best, so the config [chains] table overrides any of these.
func defaultChains() map[string][]string {
	return map[string][]string{
		"core-temperature":      {"shm", "os-sensors"},
		"package-temperature":   {"shm", "os-sensors"},
		"gpu-temperature":       {"shm", "nvml"},
		"cpu-load-percent":      {"os-cpu"},
		"per-core-load-percent": {"os-cpu"},
		"memory-used-bytes":     {"os-memory"},
		"memory-total-bytes":    {"os-memory"},
		"fan-rpm":               {"shm"},
		"fan-duty-percent":      {"shm", "nvml"},
		"clock-speed-mhz":       {"shm", "nvml", "os-cpu"},
	}
}

func buildChains(cfg *config.Config, probes map[string]telemetry.Probe) (map[telemetry.MetricKind][]telemetry.Probe, error) {
	errFactory := errors.New()

	spec := cfg.Chains
	if len(spec) == 0 {
		spec = defaultChains()
	}

	chains := make(map[telemetry.MetricKind][]telemetry.Probe, len(spec))
	for kindName, ids := range spec {
		kind, err := telemetry.ParseMetricKind(kindName)
		if err != nil {
			return nil, err
		}

		chain := make([]telemetry.Probe, 0, len(ids))
		for _, id := range ids {
			p, ok := probes[id]
			if !ok {
				return nil, errFactory.WithData(telemetry.ErrUnknownBackend, id)
			}
			chain = append(chain, p)
		}
		chains[kind] = chain
	}

	return chains, nil
}

func buildIdentities(cfg *config.Config) ([]tools.Identity, error) {
	identities := make([]tools.Identity, 0, len(cfg.Tools))

	for _, tc := range cfg.Tools {
		rules := make([]tools.DetectionRule, 0, len(tc.Rules))
		for _, rc := range tc.Rules {
			kind, err := tools.ParseRuleKind(rc.Kind)
			if err != nil {
				return nil, err
			}
			rules = append(rules, tools.DetectionRule{Kind: kind, Pattern: rc.Pattern})
		}

		identities = append(identities, tools.Identity{
			ID:           tc.ID,
			Name:         tc.Name,
			Rules:        rules,
			ProcessNames: tc.ProcessNames,
		})
	}

	return identities, nil
}

func buildCapabilityRules(cfg *config.Config) []capability.Rule {
	rules := []capability.Rule{
		{Name: "cpu-telemetry", Kinds: []telemetry.MetricKind{telemetry.KindCPULoad}},
		{Name: "memory-telemetry", Kinds: []telemetry.MetricKind{telemetry.KindMemoryUsed}},
		{Name: "gpu-telemetry", Kinds: []telemetry.MetricKind{telemetry.KindGPUTemperature}},
		{Name: "fan-telemetry", Kinds: []telemetry.MetricKind{telemetry.KindFanRPM, telemetry.KindFanDuty}},
	}

	for _, tc := range cfg.Tools {
		if tc.Capability == "" {
			continue
		}

		kinds := make([]telemetry.MetricKind, 0, len(tc.CapabilityKinds))
		for _, name := range tc.CapabilityKinds {
			if kind, err := telemetry.ParseMetricKind(name); err == nil {
				kinds = append(kinds, kind)
			}
		}

		rules = append(rules, capability.Rule{
			Name:           tc.Capability,
			Tool:           tc.ID,
			RequireRunning: tc.RequireRunning,
			Kinds:          kinds,
		})
	}

	return rules
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
