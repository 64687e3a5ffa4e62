// Package cli — clean.go implements the "marge-bot clean" command.
//
// clean removes the artifacts generated by the other commands. It never
// touches the hand-maintained inputs: requirements.txt and
// requirements_override.nix survive a clean.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ylck/marge-bot/internal/freeze"
	"github.com/ylck/marge-bot/internal/model"
)

// NewCleanCommand creates the "clean" cobra command.
func NewCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove generated artifacts",
		Long: `Remove the files generated by the release pipeline:
requirements_frozen.txt, requirements.nix, the build output link, the
dist directory and the build manifest.

requirements.txt and requirements_override.nix are hand-maintained and
are never removed.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean()
		},
	}
}

// runClean removes each generated artifact that exists.
func runClean() error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	targets := []string{
		freeze.FrozenFile,
		freeze.NixFile,
		cfg.Build.ResultLink,
		cfg.Build.ManifestPath,
		"dist",
	}

	var removed []string
	for _, target := range targets {
		path := filepath.Join(workDir, target)

		// Lstat, not Stat: the build output link may dangle.
		if _, err := os.Lstat(path); os.IsNotExist(err) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			return model.WrapCLIError(model.ExitGeneralError,
				fmt.Sprintf("failed to remove %s", target), err)
		}
		log.Debug("removed artifact", "path", path)
		removed = append(removed, target)
	}

	if IsJSONOutput() {
		if removed == nil {
			removed = []string{}
		}
		printJSON(map[string][]string{"removed": removed})
	} else if len(removed) == 0 {
		fmt.Println("Nothing to clean")
	} else {
		for _, target := range removed {
			fmt.Printf("Removed %s\n", target)
		}
	}
	return nil
}
