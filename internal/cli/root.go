// Package cli implements the cobra-based commands of the marge-bot
// release tooling.
//
// Each subcommand mirrors one target of the historical release Makefile
// (build, clean, bump, bump-sources, bump-requirements, dockerize,
// docker-push) and is defined in its own file. The approvals command
// group exposes the merge-request approvals operations. This file
// defines the root command, global flags and error/exit-code handling.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ylck/marge-bot/internal/config"
	"github.com/ylck/marge-bot/internal/gitutil"
	"github.com/ylck/marge-bot/internal/model"
	"github.com/ylck/marge-bot/internal/project"
)

// Global flag variables bound to persistent flags on the root command.
var (
	// jsonOutput switches command output to JSON for machine consumption.
	jsonOutput bool

	// verbose enables debug-level logging on stderr.
	verbose bool

	// workDir is the repository directory the commands operate in.
	workDir string

	// configPath optionally names an explicit config file.
	configPath string
)

// Version, Commit and Date are set at build time via ldflags and
// injected from the main package.
var (
	// Version is the semantic version of the binary.
	Version = "dev"

	// Commit is the git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "marge-bot",
		Short: "Release tooling for the marge-bot project",
		Long: `marge-bot drives the project's release pipeline: freezing Python
dependencies, regenerating the nix expressions, building and publishing
the container image, and tracking merge-request approvals on GitLab.

Each subcommand corresponds to one step of the release process and is
safe to run standalone or from CI.`,

		// Errors are formatted by Execute, so cobra's automatic usage
		// and error printing are silenced.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", ".", "Repository directory to operate in")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./marge-bot.yaml)")

	rootCmd.AddCommand(NewBuildCommand())
	rootCmd.AddCommand(NewCleanCommand())
	rootCmd.AddCommand(NewBumpCommand())
	rootCmd.AddCommand(NewBumpSourcesCommand())
	rootCmd.AddCommand(NewBumpRequirementsCommand())
	rootCmd.AddCommand(NewDockerizeCommand())
	rootCmd.AddCommand(NewDockerPushCommand())
	rootCmd.AddCommand(NewApprovalsCommand())

	return rootCmd
}

// Execute runs the root command and translates errors into exit codes.
// CLIError values carry their own code; anything else exits 1.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		if cliErr, ok := err.(*model.CLIError); ok {
			printError(cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// setup loads the layered configuration (file, environment, per-repo
// settings) and builds the logger every command shares.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	// Per-repository settings override the machine configuration.
	settings, err := project.Load(workDir)
	if err != nil {
		return nil, nil, model.WrapCLIError(model.ExitConfigError,
			"failed to load repository settings", err)
	}
	settings.Apply(cfg)

	if verbose {
		cfg.Log.Level = "debug"
	}

	return cfg, config.SetupLogger(cfg), nil
}

// resolveVersion determines the VERSION used for image tags, in priority
// order: the --version flag, the VERSION environment variable, and
// finally the current git branch name sanitized into a valid tag.
func resolveVersion(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("VERSION"); env != "" {
		return env, nil
	}

	branch, err := gitutil.CurrentBranch(workDir)
	if err != nil {
		return "", err
	}
	return model.SanitizeTag(branch), nil
}

// printError outputs an error message in text or JSON format, matching
// the --json global flag. Errors go to stderr in both modes; stdout is
// reserved for successful command output.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		if underlying != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", message)
		}
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("failed to encode output", err)
		return
	}
	fmt.Println(string(data))
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}
