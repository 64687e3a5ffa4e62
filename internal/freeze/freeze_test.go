package freeze

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ylck/marge-bot/internal/model"
)

// testLogger returns a logger that discards all output, keeping test
// output clean.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFile is a test helper creating a file in dir.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestBumpRequirements_RunsFreezerAndVerifies exercises the happy path:
// the (fake) freezer produces a fully pinned file and verification
// passes. The fake tools are small shell commands, mirroring how the
// real pipeline drives pip-compile.
func TestBumpRequirements_RunsFreezerAndVerifies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, SourceFile, "requests\nConfigArgParse>=0.10\n")

	p := &Pipeline{
		Dir: dir,
		FreezeCommand: []string{"sh", "-c",
			"printf 'requests==2.21.0\\nconfigargparse==0.12.0\\nidna==2.8\\n' > " + FrozenFile},
		Log: testLogger(),
	}

	err := p.BumpRequirements(context.Background(), false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, FrozenFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "requests==2.21.0")
}

// TestBumpRequirements_FailsOnUnpinnedOutput verifies that a freezer
// leaving a requirement unpinned fails with ExitFreezeFailed.
func TestBumpRequirements_FailsOnUnpinnedOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, SourceFile, "requests\nmaya\n")

	p := &Pipeline{
		Dir: dir,
		FreezeCommand: []string{"sh", "-c",
			"printf 'requests==2.21.0\\n' > " + FrozenFile},
		Log: testLogger(),
	}

	err := p.BumpRequirements(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maya")

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitFreezeFailed, cliErr.Code)
}

// TestBumpRequirements_SkipsWhenFresh verifies the staleness check: with
// a frozen file newer than the source, the freezer is not invoked at all
// (a freezer of "false" would fail the run if it were), but verification
// still runs against the existing file.
func TestBumpRequirements_SkipsWhenFresh(t *testing.T) {
	dir := t.TempDir()
	sourcePath := writeFile(t, dir, SourceFile, "requests\n")
	writeFile(t, dir, FrozenFile, "requests==2.21.0\n")

	// Backdate the source so the frozen file is unambiguously newer.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(sourcePath, old, old))

	p := &Pipeline{
		Dir:           dir,
		FreezeCommand: []string{"false"},
		Log:           testLogger(),
	}

	assert.NoError(t, p.BumpRequirements(context.Background(), false))
}

// TestBumpRequirements_ForceRegenerates verifies that --force runs the
// freezer even when the frozen file is fresh.
func TestBumpRequirements_ForceRegenerates(t *testing.T) {
	dir := t.TempDir()
	sourcePath := writeFile(t, dir, SourceFile, "requests\n")
	writeFile(t, dir, FrozenFile, "requests==2.21.0\n")

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(sourcePath, old, old))

	p := &Pipeline{
		Dir: dir,
		FreezeCommand: []string{"sh", "-c",
			"printf 'requests==2.22.0\\n' > " + FrozenFile},
		Log: testLogger(),
	}

	require.NoError(t, p.BumpRequirements(context.Background(), true))

	data, err := os.ReadFile(filepath.Join(dir, FrozenFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "2.22.0", "force should regenerate the frozen file")
}

// TestBumpRequirements_FreezerFailure verifies that a failing freezer
// surfaces its output in the error.
func TestBumpRequirements_FreezerFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, SourceFile, "requests\n")

	p := &Pipeline{
		Dir:           dir,
		FreezeCommand: []string{"sh", "-c", "echo resolution impossible >&2; exit 1"},
		Log:           testLogger(),
	}

	err := p.BumpRequirements(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolution impossible")
}

// TestBumpSources_GeneratesAndSeedsOverride verifies the generator runs,
// requirements.nix is checked for, and the override skeleton is seeded.
func TestBumpSources_GeneratesAndSeedsOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, SourceFile, "requests\n")

	p := &Pipeline{
		Dir:            dir,
		SourcesCommand: []string{"sh", "-c", "echo '{}' > " + NixFile},
		Log:            testLogger(),
	}

	require.NoError(t, p.BumpSources(context.Background()))

	// The nix expression was produced by the generator.
	_, err := os.Stat(filepath.Join(dir, NixFile))
	assert.NoError(t, err)

	// The override file was seeded with the empty overlay.
	data, err := os.ReadFile(filepath.Join(dir, OverrideFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "self: super: { }")
}

// TestBumpSources_PreservesExistingOverride verifies that an existing
// override file is never overwritten.
func TestBumpSources_PreservesExistingOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, SourceFile, "requests\n")
	writeFile(t, dir, OverrideFile, "# hand-maintained overrides\n")

	p := &Pipeline{
		Dir:            dir,
		SourcesCommand: []string{"sh", "-c", "echo '{}' > " + NixFile},
		Log:            testLogger(),
	}

	require.NoError(t, p.BumpSources(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, OverrideFile))
	require.NoError(t, err)
	assert.Equal(t, "# hand-maintained overrides\n", string(data))
}

// TestBumpSources_FailsWhenGeneratorProducesNothing verifies the
// post-condition on requirements.nix.
func TestBumpSources_FailsWhenGeneratorProducesNothing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, SourceFile, "requests\n")

	p := &Pipeline{
		Dir:            dir,
		SourcesCommand: []string{"true"},
		Log:            testLogger(),
	}

	err := p.BumpSources(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), NixFile)
}

// TestBumpSources_RequiresSourceFile verifies the missing-input error.
func TestBumpSources_RequiresSourceFile(t *testing.T) {
	p := &Pipeline{
		Dir:            t.TempDir(),
		SourcesCommand: []string{"true"},
		Log:            testLogger(),
	}

	err := p.BumpSources(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), SourceFile)
}
