package tools

import (
	"context"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sysdeck/sysdeck/internal/errors"
)

// Scanner decides whether a resolved tool is currently running. Injected so
// reconciliation is testable without real processes.
type Scanner interface {
	// Running reports whether a live process matches the executable at
	// exePath or one of its alternate process names.
	Running(ctx context.Context, exePath string, alternates []string) (bool, error)
}

// ProcessScanner matches against the live OS process list.
type ProcessScanner struct{}

func NewProcessScanner() *ProcessScanner {
	return &ProcessScanner{}
}

func (s *ProcessScanner) Running(ctx context.Context, exePath string, alternates []string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, errors.New().Wrap(ErrProcessScan, err)
	}

	names := make(map[string]bool, len(alternates)+1)
	names[filepath.Base(exePath)] = true
	for _, alt := range alternates {
		names[alt] = true
	}

	for _, p := range procs {
		if name, err := p.NameWithContext(ctx); err == nil && names[name] {
			return true, nil
		}
		if exe, err := p.ExeWithContext(ctx); err == nil && exe == exePath {
			return true, nil
		}
	}

	return false, nil
}
