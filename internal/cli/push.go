// Package cli — push.go implements the "marge-bot docker-push" command.
//
// docker-push publishes the image built by dockerize: it re-tags the
// local VERSION image with every tag listed in the version file (plus
// "latest" when on the release branch) and pushes all of them. The
// working tree must be clean, so every published image corresponds to a
// commit.
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

// pushFlags holds the flag values for the docker-push command.
type pushFlags struct {
	// version overrides the VERSION identifying the local source image.
	version string

	// allowDirty skips the clean working tree check.
	allowDirty bool

	// skipLatest suppresses the "latest" tag even on the release branch.
	skipLatest bool
}

// NewDockerPushCommand creates the "docker-push" cobra command.
func NewDockerPushCommand() *cobra.Command {
	flags := &pushFlags{}

	cmd := &cobra.Command{
		Use:   "docker-push",
		Short: "Publish the container image",
		Long: `Tag the locally built VERSION image with each tag from the
version file and push all tags to the registry. On the release branch,
"latest" is pushed as well.

When a build manifest from dockerize is present, the push is refused if
it records a dirty build or a commit other than HEAD.

Registry credentials are taken from the DOCKER_USERNAME and
DOCKER_PASSWORD environment variables.

Examples:
  marge-bot docker-push
  marge-bot docker-push --version 0.9.4
  marge-bot docker-push --skip-latest`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDockerPush(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.version, "version", "",
		"Source image tag (default: VERSION env var, then current branch name)")
	cmd.Flags().BoolVar(&flags.allowDirty, "allow-dirty", false,
		"Push even when the working tree has uncommitted changes")
	cmd.Flags().BoolVar(&flags.skipLatest, "skip-latest", false,
		"Never push the \"latest\" tag")

	return cmd
}

// runDockerPush tags and pushes all release tags of the built image.
func runDockerPush(ctx context.Context, flags *pushFlags) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	// Published images must be reproducible from a commit.
	dirty, err := gitutil.IsDirty(workDir)
	if err != nil {
		return err
	}
	if dirty && !flags.allowDirty {
		return model.NewCLIError(model.ExitPushFailed,
			"working tree has uncommitted changes; commit them or pass --allow-dirty")
	}

	version, err := resolveVersion(flags.version)
	if err != nil {
		return err
	}

	source := model.ImageRef{
		Registry: cfg.Registry.Host,
		Name:     cfg.Registry.Image,
		Tag:      version,
	}
	if err := source.Validate(); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid image reference", err)
	}

	// Cross-check the dockerize manifest: the local image must have been
	// built from the commit being published. A missing manifest is
	// tolerated (the image may have been built elsewhere), a stale or
	// dirty one is not.
	manifestPath := filepath.Join(workDir, cfg.Build.ManifestPath)
	if manifest, err := release.ReadManifest(manifestPath); err == nil {
		if manifest.Dirty && !flags.allowDirty {
			return model.NewCLIError(model.ExitPushFailed,
				fmt.Sprintf("build %s was made from a dirty tree; rebuild from a commit or pass --allow-dirty",
					manifest.BuildID))
		}
		commit, err := gitutil.ShortSHA(workDir)
		if err != nil {
			return err
		}
		if manifest.Commit != commit {
			return model.NewCLIError(model.ExitPushFailed,
				fmt.Sprintf("image was built from commit %s but HEAD is %s; run dockerize again",
					manifest.Commit, commit))
		}
	} else {
		log.Debug("no build manifest, skipping provenance check",
			"path", manifestPath, "reason", err)
	}

	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}

	exists, err := cli.ImageExists(ctx, source)
	if err != nil {
		return err
	}
	if !exists {
		return model.NewCLIError(model.ExitPushFailed,
			fmt.Sprintf("image %q not found locally; run dockerize first", source.String()))
	}

	// The version file lists the tags to publish, one per line.
	tags, err := release.ReadVersionFile(filepath.Join(workDir, cfg.Build.VersionFile))
	if err != nil {
		return model.WrapCLIError(model.ExitPushFailed, "cannot determine release tags", err)
	}

	// "latest" only moves from the release branch, so feature branch
	// pushes cannot hijack it.
	if !flags.skipLatest {
		branch, err := gitutil.CurrentBranch(workDir)
		if err != nil {
			return err
		}
		if branch == cfg.Registry.ReleaseBranch {
			tags = append(tags, "latest")
		} else {
			log.Info("not on release branch, skipping \"latest\"",
				"branch", branch, "release_branch", cfg.Registry.ReleaseBranch)
		}
	}

	auth := docker.RegistryAuth{
		Username:      cfg.Registry.Username,
		Password:      cfg.Registry.Password,
		ServerAddress: cfg.Registry.Host,
	}
	if auth.Username == "" {
		log.Warn("no registry credentials configured, pushing anonymously")
	}

	log.Info("pushing image", "image", source.String(), "tags", tags)

	if err := cli.PushAll(ctx, source, tags, auth); err != nil {
		return err
	}

	if IsJSONOutput() {
		printJSON(map[string]any{"image": source.String(), "pushed": tags})
	} else {
		for _, tag := range tags {
			fmt.Printf("Pushed %s\n", source.WithTag(tag).String())
		}
	}
	return nil
}
