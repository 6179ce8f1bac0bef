package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/logger"
)

const defaultDebounce = 500 * time.Millisecond

type EngineConfig struct {
	// Interval between full reconciliation passes.
	Interval time.Duration
	// Debounce coalesces a burst of filesystem events into one pass.
	Debounce time.Duration
}

// Engine reconciles tool descriptor state against the filesystem and the
// process list. It is the single writer of the store: both the timer path
// and the filesystem-notification path funnel into the same reconciliation
// routine on the engine goroutine, so the two redundant triggers cannot
// race each other.
type Engine struct {
	cfg       EngineConfig
	store     *Store
	resolver  *Resolver
	extractor *Extractor
	scanner   Scanner
	tools     []Identity
}

func NewEngine(cfg EngineConfig, store *Store, resolver *Resolver, extractor *Extractor, scanner Scanner, tools []Identity) *Engine {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	return &Engine{
		cfg:       cfg,
		store:     store,
		resolver:  resolver,
		extractor: extractor,
		scanner:   scanner,
		tools:     tools,
	}
}

// Run executes reconciliation until ctx is cancelled. The managed folder is
// both watched and re-scanned on the interval; the periodic pass is
// intentional redundancy against missed notifications.
func (e *Engine) Run(ctx context.Context) {
	watcher := e.startWatcher()
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	debounce := time.NewTimer(e.cfg.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	e.Reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Reconcile(ctx)
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			debounce.Reset(e.cfg.Debounce)
		case <-debounce.C:
			e.Reconcile(ctx)
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			logger.Debug().Err(err).Msg("Managed folder watch error")
		}
	}
}

// startWatcher sets up the fsnotify watch on the managed folder. Watch
// failure is not fatal; the interval pass still covers changes.
func (e *Engine) startWatcher() *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().
			Str("error_code", string(ErrWatchFailed)).
			Err(err).
			Msg("Managed folder watch unavailable, relying on periodic scan")
		return nil
	}

	if err := watcher.Add(e.resolver.ToolsDir); err != nil {
		logger.Warn().
			Str("error_code", string(ErrWatchFailed)).
			Str("dir", e.resolver.ToolsDir).
			Err(err).
			Msg("Managed folder watch unavailable, relying on periodic scan")
		watcher.Close()
		return nil
	}

	return watcher
}

// Reconcile recomputes a full descriptor for every tool and applies it to
// the store. A failure for one tool never affects the others.
func (e *Engine) Reconcile(ctx context.Context) {
	now := time.Now()

	for _, tool := range e.tools {
		if ctx.Err() != nil {
			return
		}

		d := e.check(ctx, tool, now)
		if e.store.Apply(d) {
			logger.Debug().
				Str("tool", d.ID).
				Str("status", d.Status.String()).
				Str("path", d.Path).
				Msg("Tool state changed")
		}
	}
}

func (e *Engine) check(ctx context.Context, tool Identity, now time.Time) Descriptor {
	// Unpack any archive dropped for this tool before rule evaluation so
	// the managed-folder rule can see the extracted payload.
	if archive, ok := e.findArchive(tool); ok {
		if _, err := e.extractor.Extract(tool.ID, archive); err != nil {
			if errors.CodeOf(err) != ErrExtractionInFlight {
				logger.Warn().
					Str("tool", tool.ID).
					Str("archive", archive).
					Str("error_code", string(errors.CodeOf(err))).
					Err(err).
					Msg("Archive extraction failed")
			}
		}
	}

	path, ok := e.resolver.Resolve(tool)
	if !ok {
		return Descriptor{ID: tool.ID, Status: StatusAbsent, CheckedAt: now}
	}

	status := StatusInstalled
	running, err := e.scanner.Running(ctx, path, tool.ProcessNames)
	if err != nil {
		logger.Debug().Str("tool", tool.ID).Err(err).Msg("Process scan failed")
	} else if running {
		status = StatusRunning
	}

	return Descriptor{ID: tool.ID, Path: path, Status: status, CheckedAt: now}
}

// findArchive looks for a managed-folder archive belonging to the tool: its
// stem matches the tool id or one of the tool's managed-folder name globs.
func (e *Engine) findArchive(tool Identity) (string, bool) {
	entries, err := os.ReadDir(e.resolver.ToolsDir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if entry.IsDir() || !IsArchive(entry.Name()) {
			continue
		}

		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if stem == tool.ID || matchesManagedRule(tool, stem) {
			return filepath.Join(e.resolver.ToolsDir, entry.Name()), true
		}
	}

	return "", false
}

func matchesManagedRule(tool Identity, stem string) bool {
	for _, rule := range tool.Rules {
		if rule.Kind != RuleManagedFolder {
			continue
		}
		if ok, _ := filepath.Match(rule.Pattern, stem); ok {
			return true
		}
		// Patterns usually name the executable; match its stem too.
		patternStem := strings.TrimSuffix(rule.Pattern, filepath.Ext(rule.Pattern))
		if ok, _ := filepath.Match(patternStem, stem); ok {
			return true
		}
	}

	return false
}
