package tools

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sysdeck/sysdeck/internal/logger"
)

// Resolver evaluates a tool's detection rules in declared order and returns
// the first executable path that resolves. A rule that fails falls through
// to the next one; exhausting all rules means the tool is absent, never an
// error.
type Resolver struct {
	// ToolsDir is the managed folder.
	ToolsDir string
	// ExtractDir holds per-tool archive extraction output.
	ExtractDir string
}

// Resolve returns the resolved executable path for the tool, or ok=false
// when no rule matched.
func (r *Resolver) Resolve(identity Identity) (string, bool) {
	for _, rule := range identity.Rules {
		path, ok := r.evaluate(identity, rule)
		if ok {
			return path, true
		}
	}

	return "", false
}

func (r *Resolver) evaluate(identity Identity, rule DetectionRule) (string, bool) {
	switch rule.Kind {
	case RuleManagedFolder:
		if path, ok := matchInDir(r.ToolsDir, rule.Pattern); ok {
			return path, true
		}

		return matchInTree(filepath.Join(r.ExtractDir, identity.ID), rule.Pattern)

	case RuleKnownPath:
		path := os.ExpandEnv(rule.Pattern)
		if isRegularFile(path) {
			return path, true
		}

		return "", false

	case RulePathLookup:
		path, err := exec.LookPath(rule.Pattern)
		if err != nil {
			return "", false
		}

		return path, true

	case RuleShortcutTarget:
		target, err := filepath.EvalSymlinks(os.ExpandEnv(rule.Pattern))
		if err != nil {
			// Dangling or unreadable link; fall through.
			return "", false
		}
		if isRegularFile(target) {
			return target, true
		}

		return "", false

	default:
		logger.Debug().Str("tool", identity.ID).Str("kind", string(rule.Kind)).Msg("Skipping unknown rule kind")
		return "", false
	}
}

// matchInDir matches a name glob against the direct entries of dir.
func matchInDir(dir, pattern string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(pattern, entry.Name()); ok {
			return filepath.Join(dir, entry.Name()), true
		}
	}

	return "", false
}

// matchInTree matches a name glob anywhere under root. Extracted archives
// often nest their payload a directory deep.
func matchInTree(root, pattern string) (string, bool) {
	var found string

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			found = path
			return filepath.SkipAll
		}

		return nil
	})

	return found, found != ""
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
