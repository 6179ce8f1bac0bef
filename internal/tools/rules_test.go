package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

func TestResolveManagedFolderName(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "fanctl.exe"))

	r := &Resolver{ToolsDir: dir, ExtractDir: filepath.Join(dir, ".extract")}
	path, ok := r.Resolve(Identity{
		ID:    "fanctl",
		Rules: []DetectionRule{{Kind: RuleManagedFolder, Pattern: "fanctl*"}},
	})

	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "fanctl.exe"), path)
}

func TestResolveManagedFolderSearchesExtractionTree(t *testing.T) {
	dir := t.TempDir()
	extract := filepath.Join(dir, ".extract")
	writeExecutable(t, filepath.Join(extract, "fanctl", "bin", "fanctl.exe"))

	r := &Resolver{ToolsDir: dir, ExtractDir: extract}
	path, ok := r.Resolve(Identity{
		ID:    "fanctl",
		Rules: []DetectionRule{{Kind: RuleManagedFolder, Pattern: "fanctl.exe"}},
	})

	require.True(t, ok)
	assert.Equal(t, filepath.Join(extract, "fanctl", "bin", "fanctl.exe"), path)
}

func TestResolveKnownPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "bench")
	writeExecutable(t, exe)

	r := &Resolver{ToolsDir: t.TempDir()}
	path, ok := r.Resolve(Identity{
		ID:    "bench",
		Rules: []DetectionRule{{Kind: RuleKnownPath, Pattern: exe}},
	})

	require.True(t, ok)
	assert.Equal(t, exe, path)
}

func TestResolveKnownPathExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "bench")
	writeExecutable(t, exe)
	t.Setenv("SYSDECK_TEST_HOME", dir)

	r := &Resolver{ToolsDir: t.TempDir()}
	path, ok := r.Resolve(Identity{
		ID:    "bench",
		Rules: []DetectionRule{{Kind: RuleKnownPath, Pattern: "$SYSDECK_TEST_HOME/bench"}},
	})

	require.True(t, ok)
	assert.Equal(t, exe, path)
}

func TestResolveShortcutTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real-tool")
	writeExecutable(t, target)
	link := filepath.Join(dir, "tool-link")
	require.NoError(t, os.Symlink(target, link))

	r := &Resolver{ToolsDir: t.TempDir()}
	path, ok := r.Resolve(Identity{
		ID:    "tool",
		Rules: []DetectionRule{{Kind: RuleShortcutTarget, Pattern: link}},
	})

	require.True(t, ok)
	assert.Equal(t, target, path)
}

func TestResolveBrokenShortcutFallsThrough(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "dangling")
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), link))

	fallback := filepath.Join(dir, "fallback")
	writeExecutable(t, fallback)

	r := &Resolver{ToolsDir: t.TempDir()}
	path, ok := r.Resolve(Identity{
		ID: "tool",
		Rules: []DetectionRule{
			{Kind: RuleShortcutTarget, Pattern: link},
			{Kind: RuleKnownPath, Pattern: fallback},
		},
	})

	require.True(t, ok, "broken link falls through to the next rule")
	assert.Equal(t, fallback, path)
}

func TestResolveExhaustedRulesMeansAbsent(t *testing.T) {
	r := &Resolver{ToolsDir: t.TempDir()}
	_, ok := r.Resolve(Identity{
		ID: "ghost",
		Rules: []DetectionRule{
			{Kind: RuleManagedFolder, Pattern: "ghost*"},
			{Kind: RuleKnownPath, Pattern: "/nonexistent/ghost"},
			{Kind: RulePathLookup, Pattern: "sysdeck-test-no-such-binary"},
		},
	})

	assert.False(t, ok)
}

func TestResolveRuleOrderWins(t *testing.T) {
	dir := t.TempDir()
	managed := filepath.Join(dir, "tool.exe")
	writeExecutable(t, managed)

	other := filepath.Join(t.TempDir(), "tool.exe")
	writeExecutable(t, other)

	r := &Resolver{ToolsDir: dir, ExtractDir: filepath.Join(dir, ".extract")}
	path, ok := r.Resolve(Identity{
		ID: "tool",
		Rules: []DetectionRule{
			{Kind: RuleManagedFolder, Pattern: "tool*"},
			{Kind: RuleKnownPath, Pattern: other},
		},
	})

	require.True(t, ok)
	assert.Equal(t, managed, path, "first resolving rule wins")
}

func TestParseRuleKind(t *testing.T) {
	for _, valid := range []string{"managed-folder-name", "known-path", "path-lookup", "shortcut-target"} {
		_, err := ParseRuleKind(valid)
		assert.NoError(t, err, valid)
	}

	_, err := ParseRuleKind("registry-lookup")
	assert.Error(t, err)
}
