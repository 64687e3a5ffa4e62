// Package config loads marge-bot release tooling configuration.
//
// Configuration is resolved in three layers, later layers overriding
// earlier ones:
//  1. Built-in defaults (suitable for the upstream smarkets/marge-bot repo)
//  2. An optional marge-bot.yaml file in the working directory or in
//     $HOME/.config/marge-bot/
//  3. Environment variables with the MARGE_ prefix, plus the historical
//     unprefixed DOCKER_USERNAME, DOCKER_PASSWORD and VERSION variables
//     kept for compatibility with existing CI jobs.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/ylck/marge-bot/internal/model"
)

// Config holds all tool configuration.
type Config struct {
	Registry RegistryConfig `mapstructure:"registry"`
	Build    BuildConfig    `mapstructure:"build"`
	GitLab   GitLabConfig   `mapstructure:"gitlab"`
	Log      LogConfig      `mapstructure:"log"`
}

// RegistryConfig holds container registry and image naming configuration.
type RegistryConfig struct {
	// Host is the registry host. Empty means Docker Hub.
	Host string `mapstructure:"host"`

	// Image is the repository name, e.g. "smarkets/marge-bot".
	Image string `mapstructure:"image"`

	// ReleaseBranch is the branch from which the "latest" tag may be
	// pushed. Pushes from other branches only publish the version tags.
	ReleaseBranch string `mapstructure:"release_branch"`

	// Username authenticates pushes. Read from DOCKER_USERNAME.
	Username string `mapstructure:"username"`

	// Password authenticates pushes. Read from DOCKER_PASSWORD.
	Password string `mapstructure:"password"`
}

// BuildConfig holds package build and dependency freezing configuration.
type BuildConfig struct {
	// Command is the argv of the package build step invoked by the
	// "build" command, e.g. ["nix-build", "-A", "marge-bot"].
	Command []string `mapstructure:"command"`

	// ResultLink is the output link the package build is expected to
	// produce, verified after the build command exits successfully.
	ResultLink string `mapstructure:"result_link"`

	// SourcesCommand is the argv of the nix expression generator invoked
	// by "bump-sources" to regenerate requirements.nix.
	SourcesCommand []string `mapstructure:"sources_command"`

	// FreezeCommand is the argv of the freezer invoked by
	// "bump-requirements" to regenerate requirements_frozen.txt.
	FreezeCommand []string `mapstructure:"freeze_command"`

	// Dockerfile is the path of the Dockerfile used by "dockerize".
	Dockerfile string `mapstructure:"dockerfile"`

	// ManifestPath is where "dockerize" writes the YAML build manifest.
	ManifestPath string `mapstructure:"manifest_path"`

	// VersionFile is the file whose lines provide tags for docker-push.
	VersionFile string `mapstructure:"version_file"`
}

// GitLabConfig holds GitLab API access configuration for the approvals
// commands.
type GitLabConfig struct {
	// BaseURL is the GitLab instance URL, e.g. "https://gitlab.com".
	BaseURL string `mapstructure:"base_url"`

	// Token is a private token with api scope. For the approvals restore
	// command it additionally needs sudo rights.
	Token string `mapstructure:"token"`

	// DefaultBranch is the branch CODEOWNERS is read from on CE.
	DefaultBranch string `mapstructure:"default_branch"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the optional config file and environment.
// An explicit configPath skips the search paths; an empty one searches
// the working directory and $HOME/.config/marge-bot.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Defaults match the upstream marge-bot repository layout.
	v.SetDefault("registry.host", "")
	v.SetDefault("registry.image", "smarkets/marge-bot")
	v.SetDefault("registry.release_branch", "master")
	// Keys without a meaningful default still need to be registered:
	// viper only consults the environment during Unmarshal for keys it
	// knows about, so a secret with no SetDefault would never be read
	// from MARGE_* variables.
	v.SetDefault("registry.username", "")
	v.SetDefault("registry.password", "")
	v.SetDefault("gitlab.token", "")
	v.SetDefault("build.command", []string{"nix-build", "-A", "marge-bot"})
	v.SetDefault("build.result_link", "result")
	v.SetDefault("build.sources_command", []string{"pypi2nix", "-r", "requirements.txt"})
	v.SetDefault("build.freeze_command", []string{
		"pip-compile", "--no-header", "--output-file", "requirements_frozen.txt", "requirements.txt",
	})
	v.SetDefault("build.dockerfile", "Dockerfile")
	v.SetDefault("build.manifest_path", "marge-bot-build.yaml")
	v.SetDefault("build.version_file", "version")
	v.SetDefault("gitlab.base_url", "https://gitlab.com")
	v.SetDefault("gitlab.default_branch", "master")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// An explicitly named config file must exist and parse.
			return nil, model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("failed to read config file %q", configPath), err)
		}
	} else {
		v.SetConfigName("marge-bot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/marge-bot")
		}
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine (defaults apply); a malformed one is not.
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, model.WrapCLIError(model.ExitConfigError,
					"failed to parse config file", err)
			}
		}
	}

	// Environment overrides: MARGE_REGISTRY_IMAGE, MARGE_GITLAB_TOKEN, ...
	v.SetEnvPrefix("MARGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			"failed to unmarshal config", err)
	}

	// The registry credentials historically come from unprefixed variables
	// set by CI. They win over config file values so that rotating a CI
	// secret never requires a repo change.
	if u := os.Getenv("DOCKER_USERNAME"); u != "" {
		cfg.Registry.Username = u
	}
	if p := os.Getenv("DOCKER_PASSWORD"); p != "" {
		cfg.Registry.Password = p
	}

	return &cfg, nil
}

// SetupLogger creates a slog.Logger with the configured level and format.
// Logs go to stderr; stdout is reserved for command output.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
