package tools

import (
	"time"

	"github.com/sysdeck/sysdeck/internal/errors"
)

// RuleKind selects one detection strategy. Adding a detection method means
// adding a kind here and a case to the resolver, not branching logic at
// call sites.
type RuleKind string

const (
	// RuleManagedFolder matches an executable dropped into the managed
	// folder (or unpacked into its extraction area) by name glob.
	RuleManagedFolder RuleKind = "managed-folder-name"
	// RuleKnownPath checks a concrete installation path; environment
	// variables in the pattern are expanded.
	RuleKnownPath RuleKind = "known-path"
	// RulePathLookup searches the system PATH for the executable.
	RulePathLookup RuleKind = "path-lookup"
	// RuleShortcutTarget resolves a link file to its target without
	// invoking it. A dangling link is rule failure.
	RuleShortcutTarget RuleKind = "shortcut-target"
)

// ParseRuleKind validates a configuration string against the closed set.
func ParseRuleKind(s string) (RuleKind, error) {
	switch kind := RuleKind(s); kind {
	case RuleManagedFolder, RuleKnownPath, RulePathLookup, RuleShortcutTarget:
		return kind, nil
	default:
		return "", errors.New().WithData(ErrUnknownRuleKind, s)
	}
}

// DetectionRule is one ordered detection step for a tool.
type DetectionRule struct {
	Kind    RuleKind
	Pattern string
}

// Identity is the immutable description of a companion tool.
type Identity struct {
	ID    string
	Name  string
	Rules []DetectionRule
	// ProcessNames are alternate executable names the tool may run
	// under, e.g. an elevated helper.
	ProcessNames []string
}

// Status is the lifecycle state of a tool on this host.
type Status int8

const (
	StatusAbsent Status = iota
	StatusInstalled
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusInstalled:
		return "installed"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Descriptor is the store's record for one tool. Replaced whole, never
// mutated in place.
type Descriptor struct {
	ID        string
	Path      string
	Status    Status
	CheckedAt time.Time
}

// sameState reports whether two descriptors are value-equal apart from the
// check timestamp. Used to suppress no-op store churn.
func (d Descriptor) sameState(other Descriptor) bool {
	return d.ID == other.ID && d.Path == other.Path && d.Status == other.Status
}
