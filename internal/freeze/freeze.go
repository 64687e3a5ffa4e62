// freeze.go implements the bump-sources and bump-requirements steps:
// staleness checks, external tool invocation, and post-conditions on the
// generated files.
package freeze

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ylck/marge-bot/internal/model"
)

// overrideSkeleton is written to requirements_override.nix when the file
// does not exist yet. It is an empty overlay; maintainers fill it in when
// a generated package needs patching. An existing file is never touched.
const overrideSkeleton = `{ pkgs, python }:

self: super: { }
`

// Pipeline runs the dependency-freezing steps in a repository directory.
type Pipeline struct {
	// Dir is the repository root all file paths are relative to.
	Dir string

	// FreezeCommand is the argv regenerating FrozenFile from SourceFile.
	FreezeCommand []string

	// SourcesCommand is the argv regenerating NixFile from SourceFile.
	SourcesCommand []string

	// Log receives progress messages. Must not be nil.
	Log *slog.Logger
}

// path resolves a pipeline file name against the repository root.
func (p *Pipeline) path(name string) string {
	return filepath.Join(p.Dir, name)
}

// BumpRequirements regenerates requirements_frozen.txt by running the
// configured freezer, then verifies that every requirement from
// requirements.txt is pinned exactly in the output.
//
// When force is false and the frozen file is already newer than the
// source, the regeneration is skipped (the verification still runs, so a
// hand-edited frozen file cannot silently drop pins).
func (p *Pipeline) BumpRequirements(ctx context.Context, force bool) error {
	source, err := ParseFile(p.path(SourceFile))
	if err != nil {
		return model.WrapCLIError(model.ExitFreezeFailed,
			"failed to parse "+SourceFile, err)
	}
	p.Log.Debug("parsed requirements", "file", SourceFile, "count", len(source))

	if force || p.stale(FrozenFile, SourceFile) {
		if err := p.run(ctx, p.FreezeCommand); err != nil {
			return err
		}
		p.Log.Info("regenerated frozen requirements", "file", FrozenFile)
	} else {
		p.Log.Info("frozen requirements are up to date", "file", FrozenFile)
	}

	frozenFile, err := os.Open(p.path(FrozenFile))
	if err != nil {
		return model.WrapCLIError(model.ExitFreezeFailed,
			fmt.Sprintf("freezer did not produce %s", FrozenFile), err)
	}
	defer frozenFile.Close()

	frozen, err := Parse(frozenFile)
	if err != nil {
		return model.WrapCLIError(model.ExitFreezeFailed,
			"failed to parse "+FrozenFile, err)
	}

	if err := VerifyPins(source, frozen); err != nil {
		return model.WrapCLIError(model.ExitFreezeFailed,
			"pin verification failed", err)
	}
	p.Log.Info("verified pins", "requirements", len(source), "pins", len(frozen))

	return nil
}

// BumpSources regenerates requirements.nix by running the configured
// generator and writes the override skeleton if no override file exists.
func (p *Pipeline) BumpSources(ctx context.Context) error {
	if _, err := os.Stat(p.path(SourceFile)); err != nil {
		return model.WrapCLIError(model.ExitFreezeFailed,
			SourceFile+" not found", err)
	}

	if err := p.run(ctx, p.SourcesCommand); err != nil {
		return err
	}

	if _, err := os.Stat(p.path(NixFile)); err != nil {
		return model.WrapCLIError(model.ExitFreezeFailed,
			fmt.Sprintf("generator did not produce %s", NixFile), err)
	}
	p.Log.Info("regenerated nix expressions", "file", NixFile)

	// The override file is hand-maintained once it exists; only seed it.
	if _, err := os.Stat(p.path(OverrideFile)); os.IsNotExist(err) {
		if err := os.WriteFile(p.path(OverrideFile), []byte(overrideSkeleton), 0o644); err != nil {
			return model.WrapCLIError(model.ExitFreezeFailed,
				"failed to write "+OverrideFile, err)
		}
		p.Log.Info("seeded override skeleton", "file", OverrideFile)
	}

	return nil
}

// stale reports whether target is missing or older than any of inputs.
func (p *Pipeline) stale(target string, inputs ...string) bool {
	targetInfo, err := os.Stat(p.path(target))
	if err != nil {
		return true
	}
	for _, input := range inputs {
		inputInfo, err := os.Stat(p.path(input))
		if err != nil {
			// A missing input will fail later with a better error.
			continue
		}
		if inputInfo.ModTime().After(targetInfo.ModTime()) {
			return true
		}
	}
	return false
}

// run executes an external tool in the repository directory, capturing
// combined output for the error message on failure.
func (p *Pipeline) run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return model.NewCLIError(model.ExitConfigError, "empty tool command configured")
	}

	p.Log.Debug("running tool", "argv", strings.Join(argv, " "))

	// #nosec G204 — argv comes from the tool's own configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = p.Dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return model.WrapCLIError(
			model.ExitFreezeFailed,
			fmt.Sprintf("%s failed: %s", argv[0], strings.TrimSpace(string(output))),
			err,
		)
	}

	return nil
}
