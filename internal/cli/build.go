// Package cli — build.go implements the "marge-bot build" command.
//
// build runs the configured package build command (nix-build by default)
// in the repository directory and verifies the expected output link
// appears. This replaces the Makefile's default "marge-bot" target.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ylck/marge-bot/internal/model"
)

// NewBuildCommand creates the "build" cobra command.
func NewBuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the package",
		Long: `Build the package using the configured build command
(by default "nix-build -A marge-bot") and verify that the output link
appears.

Examples:
  marge-bot build
  marge-bot build --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context())
		},
	}
}

// runBuild executes the package build and checks its output link.
func runBuild(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	argv := cfg.Build.Command
	if len(argv) == 0 {
		return model.NewCLIError(model.ExitConfigError, "no build command configured")
	}

	log.Info("building package", "command", strings.Join(argv, " "))

	// #nosec G204 — argv comes from the tool's own configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	// The build tool's output goes straight to the terminal: nix-build
	// progress is long-running and users want to see it live.
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return model.WrapCLIError(model.ExitBuildFailed,
			fmt.Sprintf("%s failed", argv[0]), err)
	}

	resultLink := filepath.Join(workDir, cfg.Build.ResultLink)
	if _, err := os.Lstat(resultLink); err != nil {
		return model.WrapCLIError(model.ExitBuildFailed,
			fmt.Sprintf("build succeeded but %q was not created", cfg.Build.ResultLink), err)
	}

	if IsJSONOutput() {
		printJSON(map[string]string{"result": resultLink})
	} else {
		fmt.Printf("Built %s\n", resultLink)
	}
	return nil
}
