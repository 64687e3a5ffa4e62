// Package release handles the build manifest and the version file that
// connect dockerize to docker-push.
//
// dockerize writes a YAML manifest recording what was built and from
// which commit; docker-push reads the version file to learn which tags
// to publish. Keeping both as plain files in the working tree means the
// two commands can run in separate CI jobs without shared state.
package release

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ylck/marge-bot/internal/model"
)

// NewManifest assembles a build manifest for the given image build.
func NewManifest(image model.ImageRef, branch, commit string, dirty bool) *model.BuildManifest {
	return &model.BuildManifest{
		BuildID: uuid.NewString(),
		Image:   image.String(),
		Version: image.Tag,
		Branch:  branch,
		Commit:  commit,
		Dirty:   dirty,
		BuiltAt: time.Now().UTC(),
	}
}

// WriteManifest writes the manifest as YAML to the given path.
func WriteManifest(path string, m *model.BuildManifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal build manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write build manifest: %w", err)
	}
	return nil
}

// ReadManifest reads a YAML build manifest from the given path.
func ReadManifest(path string) (*model.BuildManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build manifest: %w", err)
	}
	var m model.BuildManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse build manifest: %w", err)
	}
	return &m, nil
}

// ReadVersionFile reads the tags to publish from the version file: one
// tag per line, blank lines and "#" comments ignored. Each tag must be
// syntactically valid; a single bad line fails the whole read so that a
// typo cannot cause a partial release.
func ReadVersionFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read version file: %w", err)
	}
	defer f.Close()

	var tags []string
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := model.ValidateTag(line); err != nil {
			return nil, fmt.Errorf("version file line %d: %w", lineNo, err)
		}
		tags = append(tags, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read version file: %w", err)
	}

	if len(tags) == 0 {
		return nil, fmt.Errorf("version file %s contains no tags", path)
	}

	return tags, nil
}
