// Package cli — dockerize.go implements the "marge-bot dockerize"
// command.
//
// dockerize builds the container image, tagged with VERSION (the
// --version flag, the VERSION environment variable, or the sanitized
// current branch name, in that order), and writes a YAML build manifest
// recording the build's provenance.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ylck/marge-bot/internal/docker"
	"github.com/ylck/marge-bot/internal/gitutil"
	"github.com/ylck/marge-bot/internal/model"
	"github.com/ylck/marge-bot/internal/release"
)

// dockerizeFlags holds the flag values for the dockerize command.
type dockerizeFlags struct {
	// version overrides the VERSION used for the image tag.
	version string
}

// NewDockerizeCommand creates the "dockerize" cobra command.
func NewDockerizeCommand() *cobra.Command {
	flags := &dockerizeFlags{}

	cmd := &cobra.Command{
		Use:   "dockerize",
		Short: "Build the container image",
		Long: `Build the container image from the repository's Dockerfile,
tagged with VERSION. VERSION defaults to the current branch name,
sanitized into a valid image tag.

A build manifest (YAML) is written next to the image recording the
build id, version, branch, commit and dirty state.

Examples:
  marge-bot dockerize
  marge-bot dockerize --version 0.9.4
  VERSION=0.9.4 marge-bot dockerize`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDockerize(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.version, "version", "",
		"Image tag (default: VERSION env var, then current branch name)")

	return cmd
}

// runDockerize builds the image and writes the build manifest.
func runDockerize(ctx context.Context, flags *dockerizeFlags) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	version, err := resolveVersion(flags.version)
	if err != nil {
		return err
	}

	ref := model.ImageRef{
		Registry: cfg.Registry.Host,
		Name:     cfg.Registry.Image,
		Tag:      version,
	}
	if err := ref.Validate(); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid image reference", err)
	}

	// Verify the daemon is reachable before starting a long build.
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}

	// Provenance is captured before the build: the manifest should
	// describe the tree the image was actually built from.
	branch, err := gitutil.CurrentBranch(workDir)
	if err != nil {
		return err
	}
	commit, err := gitutil.ShortSHA(workDir)
	if err != nil {
		return err
	}
	dirty, err := gitutil.IsDirty(workDir)
	if err != nil {
		return err
	}

	log.Info("building image", "image", ref.String(), "branch", branch, "commit", commit)

	if err := docker.BuildImage(ctx, workDir, cfg.Build.Dockerfile, ref); err != nil {
		return err
	}

	manifest := release.NewManifest(ref, branch, commit, dirty)
	manifestPath := filepath.Join(workDir, cfg.Build.ManifestPath)
	if err := release.WriteManifest(manifestPath, manifest); err != nil {
		return model.WrapCLIError(model.ExitGeneralError,
			"failed to write build manifest", err)
	}
	log.Debug("wrote build manifest", "path", manifestPath, "build_id", manifest.BuildID)

	if IsJSONOutput() {
		printJSON(manifest)
	} else {
		fmt.Printf("Built %s (build %s)\n", ref.String(), manifest.BuildID)
		if dirty {
			fmt.Println("Warning: working tree was dirty; this image cannot be pushed as-is")
		}
	}
	return nil
}
