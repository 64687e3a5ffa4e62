package gitutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ylck/marge-bot/internal/model"
)

// setupTestRepo creates a temporary directory with an initialized Git
// repository containing a single commit on a known branch, so branch and
// SHA queries have something deterministic to report.
//
// A repo-level user identity is configured so `git commit` works in CI
// environments without a global Git configuration.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	runTestGit(t, dir, "init", "--initial-branch", "master")
	runTestGit(t, dir, "config", "user.email", "test@example.com")
	runTestGit(t, dir, "config", "user.name", "Test User")

	initialFile := filepath.Join(dir, "README.md")
	err := os.WriteFile(initialFile, []byte("# Test Repo\n"), 0644)
	require.NoError(t, err, "failed to create initial file")

	runTestGit(t, dir, "add", ".")
	runTestGit(t, dir, "commit", "-m", "initial commit")

	return dir
}

// runTestGit is a test helper that runs a git command in the specified
// directory and fails the test immediately on a non-zero exit status.
func runTestGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, string(output))
	return string(output)
}

func TestCurrentBranch(t *testing.T) {
	repoPath := setupTestRepo(t)

	branch, err := CurrentBranch(repoPath)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)

	runTestGit(t, repoPath, "checkout", "-b", "release/0.9.4")
	branch, err = CurrentBranch(repoPath)
	require.NoError(t, err)
	assert.Equal(t, "release/0.9.4", branch)
}

// TestCurrentBranch_DetachedHead verifies that a detached HEAD (the
// state most CI checkouts leave the repo in) reports "HEAD" rather than
// failing.
func TestCurrentBranch_DetachedHead(t *testing.T) {
	repoPath := setupTestRepo(t)
	sha, err := ShortSHA(repoPath)
	require.NoError(t, err)

	runTestGit(t, repoPath, "checkout", "--detach", sha)

	branch, err := CurrentBranch(repoPath)
	require.NoError(t, err)
	assert.Equal(t, "HEAD", branch)
}

func TestShortSHA(t *testing.T) {
	repoPath := setupTestRepo(t)

	sha, err := ShortSHA(repoPath)
	require.NoError(t, err)
	assert.NotEmpty(t, sha)
	assert.LessOrEqual(t, len(sha), 12)

	// A new commit moves HEAD.
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, "version"), []byte("0.9.4\n"), 0644))
	runTestGit(t, repoPath, "add", ".")
	runTestGit(t, repoPath, "commit", "-m", "add version file")

	newSHA, err := ShortSHA(repoPath)
	require.NoError(t, err)
	assert.NotEqual(t, sha, newSHA)
}

func TestIsDirty(t *testing.T) {
	repoPath := setupTestRepo(t)

	dirty, err := IsDirty(repoPath)
	require.NoError(t, err)
	assert.False(t, dirty, "fresh repo should be clean")

	// An untracked file counts as dirty.
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, "scratch.txt"), []byte("wip\n"), 0644))
	dirty, err = IsDirty(repoPath)
	require.NoError(t, err)
	assert.True(t, dirty)

	// A modified tracked file counts too.
	runTestGit(t, repoPath, "add", ".")
	runTestGit(t, repoPath, "commit", "-m", "track scratch file")
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, "scratch.txt"), []byte("changed\n"), 0644))
	dirty, err = IsDirty(repoPath)
	require.NoError(t, err)
	assert.True(t, dirty)
}

// TestNotARepo verifies that git failures surface as CLIError with the
// git exit code.
func TestNotARepo(t *testing.T) {
	_, err := CurrentBranch(t.TempDir())
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitGitError, cliErr.Code)
}
