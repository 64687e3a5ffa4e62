// Package cli — bump.go implements the dependency bumping commands:
// "bump-sources" (regenerate the nix expressions), "bump-requirements"
// (regenerate and verify the frozen requirements), and "bump" (both, in
// that order).
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ylck/marge-bot/internal/config"
	"github.com/ylck/marge-bot/internal/freeze"
)

// newPipeline wires a freeze.Pipeline from the loaded configuration.
func newPipeline(cfg *config.Config, log *slog.Logger) *freeze.Pipeline {
	return &freeze.Pipeline{
		Dir:            workDir,
		FreezeCommand:  cfg.Build.FreezeCommand,
		SourcesCommand: cfg.Build.SourcesCommand,
		Log:            log,
	}
}

// NewBumpCommand creates the "bump" cobra command, which runs
// bump-sources followed by bump-requirements.
func NewBumpCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "bump",
		Short: "Regenerate nix expressions and frozen requirements",
		Long: `Run bump-sources and then bump-requirements: regenerate
requirements.nix from requirements.txt, then regenerate and verify
requirements_frozen.txt.

Examples:
  marge-bot bump
  marge-bot bump --force`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			pipeline := newPipeline(cfg, log)

			if err := pipeline.BumpSources(cmd.Context()); err != nil {
				return err
			}
			return finishBumpRequirements(cmd.Context(), pipeline, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false,
		"Regenerate the frozen requirements even when up to date")

	return cmd
}

// NewBumpSourcesCommand creates the "bump-sources" cobra command.
func NewBumpSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bump-sources",
		Short: "Regenerate the nix expressions",
		Long: `Regenerate requirements.nix from requirements.txt using the
configured generator. requirements_override.nix is seeded with an empty
overlay if it does not exist, and never overwritten.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			if err := newPipeline(cfg, log).BumpSources(cmd.Context()); err != nil {
				return err
			}

			if IsJSONOutput() {
				printJSON(map[string]string{"generated": freeze.NixFile})
			} else {
				fmt.Printf("Regenerated %s\n", freeze.NixFile)
			}
			return nil
		},
	}
}

// NewBumpRequirementsCommand creates the "bump-requirements" cobra command.
func NewBumpRequirementsCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "bump-requirements",
		Short: "Regenerate and verify the frozen requirements",
		Long: `Regenerate requirements_frozen.txt using the configured freezer
and verify that every requirement from requirements.txt is pinned to an
exact version in the output.

Regeneration is skipped when the frozen file is newer than
requirements.txt; pass --force to regenerate regardless. Verification
always runs.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			return finishBumpRequirements(cmd.Context(), newPipeline(cfg, log), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false,
		"Regenerate the frozen requirements even when up to date")

	return cmd
}

// finishBumpRequirements runs the bump-requirements step and prints the
// outcome. Shared between "bump" and "bump-requirements".
func finishBumpRequirements(ctx context.Context, pipeline *freeze.Pipeline, force bool) error {
	if err := pipeline.BumpRequirements(ctx, force); err != nil {
		return err
	}

	if IsJSONOutput() {
		printJSON(map[string]string{"generated": freeze.FrozenFile, "verified": "true"})
	} else {
		fmt.Printf("Verified %s\n", freeze.FrozenFile)
	}
	return nil
}
