// Package freeze implements the dependency-freezing half of the release
// pipeline: parsing requirements.txt, invoking the configured freezer and
// nix expression generator, and verifying that the frozen output pins
// every requirement exactly.
//
// The resolver itself is deliberately external (pip-compile, pypi2nix or
// whatever the repo configures); this package owns the orchestration and
// the verification of its output.
package freeze

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Well-known file names of the freezing pipeline, matching the upstream
// repository layout.
const (
	// SourceFile is the hand-maintained requirements input.
	SourceFile = "requirements.txt"

	// FrozenFile is the fully pinned output of bump-requirements.
	FrozenFile = "requirements_frozen.txt"

	// NixFile is the generated nix expression for the dependency set.
	NixFile = "requirements.nix"

	// OverrideFile holds hand-maintained nix overrides layered on top of
	// NixFile. It is generated as a skeleton once and never overwritten.
	OverrideFile = "requirements_override.nix"
)

// Requirement is a single parsed entry from a requirements file.
type Requirement struct {
	// Name is the distribution name as written, e.g. "ConfigArgParse".
	Name string

	// Extras lists the requested extras, e.g. ["socks"] for
	// "requests[socks]".
	Extras []string

	// Specifier is the raw version constraint, e.g. ">=2.0,<3" or
	// "==0.12.0". Empty when the requirement is unconstrained.
	Specifier string

	// Line is the 1-based line number in the file the entry came from.
	Line int
}

// Pinned reports whether the requirement is pinned to an exact version
// with a single "==" clause.
func (r Requirement) Pinned() bool {
	return strings.HasPrefix(r.Specifier, "==") && !strings.Contains(r.Specifier, ",")
}

// PinnedVersion returns the exact version of a pinned requirement, or ""
// when the requirement is not an exact pin.
func (r Requirement) PinnedVersion() string {
	if !r.Pinned() {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(r.Specifier, "=="))
}

// CanonicalName returns the PEP 503 normalized distribution name: runs
// of "-", "_" and "." collapse to a single "-" and the result is
// lowercased. Pin verification compares canonical names so that
// "ConfigArgParse" in the source matches "configargparse" in the frozen
// output.
func (r Requirement) CanonicalName() string {
	return CanonicalName(r.Name)
}

// canonicalRuns matches the character runs PEP 503 collapses.
var canonicalRuns = regexp.MustCompile(`[-_.]+`)

// CanonicalName normalizes a distribution name per PEP 503.
func CanonicalName(name string) string {
	return strings.ToLower(canonicalRuns.ReplaceAllString(name, "-"))
}

// requirementLine captures "name[extras]specifier" at the start of a
// requirement line. Environment markers (after ";") and trailing options
// are ignored by the first capture group boundaries.
var requirementLine = regexp.MustCompile(
	`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(\[[^\]]*\])?\s*([<>=!~].*)?$`)

// directReference matches a PEP 508 direct reference ("name @ url").
// These install from a URL instead of an index and carry no version
// specifier, so like editable installs they are skipped rather than
// verified.
var directReference = regexp.MustCompile(
	`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?\s*(\[[^\]]*\])?\s*@\s*\S`)

// ParseFile parses a requirements file, following "-r" includes relative
// to the file's directory. Editable installs ("-e"), other option lines
// and direct references ("name @ url") are skipped: they name source
// trees or URLs, not pinnable distributions.
func ParseFile(path string) ([]Requirement, error) {
	seen := map[string]bool{}
	return parseFile(path, seen)
}

// parseFile is the recursive worker for ParseFile. The seen set breaks
// include cycles.
func parseFile(path string, seen map[string]bool) ([]Requirement, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, nil
	}
	seen[abs] = true

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open requirements file: %w", err)
	}
	defer f.Close()

	reqs, err := parse(f, filepath.Dir(path), seen)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reqs, nil
}

// Parse parses requirement lines from r without following "-r" includes.
// This is the entry point for frozen output, which must be self-contained.
func Parse(r io.Reader) ([]Requirement, error) {
	return parse(r, "", nil)
}

// parse reads requirement lines from r. dir is the base for resolving
// "-r" includes; a nil seen set disables include following (used when
// parsing frozen output, which must be self-contained).
func parse(r io.Reader, dir string, seen map[string]bool) ([]Requirement, error) {
	var reqs []Requirement

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		// Option lines: includes are followed, everything else skipped.
		if strings.HasPrefix(line, "-") {
			if (strings.HasPrefix(line, "-r ") || strings.HasPrefix(line, "--requirement ")) && seen != nil {
				include := strings.TrimSpace(strings.TrimPrefix(
					strings.TrimPrefix(line, "--requirement "), "-r "))
				included, err := parseFile(filepath.Join(dir, include), seen)
				if err != nil {
					return nil, err
				}
				reqs = append(reqs, included...)
			}
			continue
		}

		// Environment markers don't affect pinning; drop them.
		if i := strings.Index(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		// Direct references point at URLs, not index versions.
		if directReference.MatchString(line) {
			continue
		}

		m := requirementLine.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("line %d: cannot parse requirement %q", lineNo, line)
		}

		req := Requirement{
			Name:      m[1],
			Specifier: strings.ReplaceAll(strings.TrimSpace(m[3]), " ", ""),
			Line:      lineNo,
		}
		if m[2] != "" {
			for _, extra := range strings.Split(strings.Trim(m[2], "[]"), ",") {
				if extra = strings.TrimSpace(extra); extra != "" {
					req.Extras = append(req.Extras, extra)
				}
			}
		}
		reqs = append(reqs, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return reqs, nil
}

// stripComment removes a trailing "#" comment and surrounding whitespace.
// A "#" only starts a comment at the beginning of the line or after
// whitespace, so URL fragments inside a requirement survive.
func stripComment(line string) string {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return ""
	}
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			line = line[:i]
			break
		}
	}
	return strings.TrimSpace(line)
}

// VerifyPins checks that every requirement parsed from the source file
// appears in the frozen file with an exact "==" pin. All violations are
// reported together so a single run surfaces the full set.
func VerifyPins(source, frozen []Requirement) error {
	pins := make(map[string]string, len(frozen))
	for _, req := range frozen {
		if req.Pinned() {
			pins[req.CanonicalName()] = req.PinnedVersion()
		}
	}

	var problems []string
	for _, req := range source {
		if _, ok := pins[req.CanonicalName()]; !ok {
			problems = append(problems, fmt.Sprintf(
				"%s (line %d) is not pinned in the frozen output", req.Name, req.Line))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("frozen requirements are incomplete:\n  %s",
			strings.Join(problems, "\n  "))
	}
	return nil
}
