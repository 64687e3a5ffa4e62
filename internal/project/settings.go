// Package project loads optional per-repository settings from a
// .marge-bot.jsonc file in the repository root.
//
// These settings let a repository override registry and branch defaults
// without touching the machine-level marge-bot.yaml configuration. The
// file uses JSONC (JSON with comments), so comments are stripped with
// github.com/tidwall/jsonc before parsing with encoding/json.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/ylck/marge-bot/internal/config"
)

// SettingsFile is the per-repository settings file name.
const SettingsFile = ".marge-bot.jsonc"

// Settings are the per-repository overrides. Every field is optional;
// the zero value means "keep the configured default".
type Settings struct {
	// Image overrides the repository name the image is built as.
	Image string `json:"image,omitempty"`

	// Registry overrides the registry host.
	Registry string `json:"registry,omitempty"`

	// ReleaseBranch overrides the branch "latest" is published from.
	ReleaseBranch string `json:"releaseBranch,omitempty"`

	// DefaultBranch overrides the branch CODEOWNERS is read from.
	DefaultBranch string `json:"defaultBranch,omitempty"`
}

// Load reads the settings file from the given repository directory.
// A missing file returns empty settings and no error.
func Load(dir string) (*Settings, error) {
	path := filepath.Join(dir, SettingsFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", SettingsFile, err)
	}

	var settings Settings
	// jsonc.ToJSON strips comments and trailing commas, producing strict
	// JSON for the standard decoder.
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", SettingsFile, err)
	}

	return &settings, nil
}

// Apply merges the settings into the configuration, in place. Only
// non-empty fields override.
func (s *Settings) Apply(cfg *config.Config) {
	if s.Image != "" {
		cfg.Registry.Image = s.Image
	}
	if s.Registry != "" {
		cfg.Registry.Host = s.Registry
	}
	if s.ReleaseBranch != "" {
		cfg.Registry.ReleaseBranch = s.ReleaseBranch
	}
	if s.DefaultBranch != "" {
		cfg.GitLab.DefaultBranch = s.DefaultBranch
	}
}
