// Package gitutil provides the git queries the release pipeline needs.
//
// It wraps the git CLI (via os/exec) rather than using a Go git library,
// because the values it reads (current branch, HEAD SHA, working tree
// status) must match what git itself reports in the CI environment that
// runs these commands.
//
// All errors from git commands are wrapped in model.CLIError with
// ExitGitError so the CLI layer maps them to the right exit code.
package gitutil

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/ylck/marge-bot/internal/model"
)

// CurrentBranch returns the name of the branch HEAD is on, or "HEAD"
// when the repository is in a detached HEAD state (as many CI systems
// check out commits).
//
// This value is the default for VERSION when no explicit version is
// given to dockerize/docker-push.
func CurrentBranch(repoPath string) (string, error) {
	out, err := runGit(repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ShortSHA returns the abbreviated commit SHA of HEAD.
func ShortSHA(repoPath string) (string, error) {
	out, err := runGit(repoPath, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsDirty reports whether the working tree has uncommitted changes,
// including untracked files. docker-push refuses to publish from a dirty
// tree so that published images always correspond to a commit.
func IsDirty(repoPath string) (bool, error) {
	out, err := runGit(repoPath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// runGit executes a git command in the given repository directory and
// returns its stdout.
func runGit(repoPath string, args ...string) (string, error) {
	// Prepend -C <repoPath> to make git operate in the target directory.
	// -C is handled by git itself and works correctly with all subcommands.
	fullArgs := append([]string{"-C", repoPath}, args...)

	// #nosec G204 — args are constructed internally, not from user input
	cmd := exec.Command("git", fullArgs...)

	// Capture stdout and stderr separately so stderr can be included in
	// error messages while stdout is returned on success.
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		message := fmt.Sprintf("git %s failed", strings.Join(args, " "))
		if stderrStr != "" {
			message = fmt.Sprintf("%s: %s", message, stderrStr)
		}
		return "", model.WrapCLIError(model.ExitGitError, message, err)
	}

	return stdout.String(), nil
}
