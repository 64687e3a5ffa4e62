package release

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ylck/marge-bot/internal/model"
)

func TestNewManifest(t *testing.T) {
	ref := model.ImageRef{Name: "smarkets/marge-bot", Tag: "0.9.4"}
	m := NewManifest(ref, "master", "abc1234", false)

	assert.NotEmpty(t, m.BuildID)
	assert.Equal(t, "smarkets/marge-bot:0.9.4", m.Image)
	assert.Equal(t, "0.9.4", m.Version)
	assert.Equal(t, "master", m.Branch)
	assert.Equal(t, "abc1234", m.Commit)
	assert.False(t, m.Dirty)
	assert.WithinDuration(t, time.Now().UTC(), m.BuiltAt, time.Minute)

	// Build ids are unique per invocation.
	assert.NotEqual(t, m.BuildID, NewManifest(ref, "master", "abc1234", false).BuildID)
}

func TestWriteReadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marge-bot-build.yaml")
	ref := model.ImageRef{Registry: "registry.example.com", Name: "smarkets/marge-bot", Tag: "0.9.4"}
	written := NewManifest(ref, "release/0.9.4", "abc1234", true)

	require.NoError(t, WriteManifest(path, written))

	read, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, written.BuildID, read.BuildID)
	assert.Equal(t, "registry.example.com/smarkets/marge-bot:0.9.4", read.Image)
	assert.Equal(t, "release/0.9.4", read.Branch)
	assert.True(t, read.Dirty)
	assert.True(t, written.BuiltAt.Equal(read.BuiltAt))
}

func TestReadManifest_Missing(t *testing.T) {
	_, err := ReadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func writeVersionFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "version")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadVersionFile(t *testing.T) {
	path := writeVersionFile(t, "# tags to publish\n0.9.4\n\n0.9\n")

	tags, err := ReadVersionFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.9.4", "0.9"}, tags)
}

func TestReadVersionFile_InvalidTagFailsWholeRead(t *testing.T) {
	path := writeVersionFile(t, "0.9.4\nnot a tag\n0.9\n")

	_, err := ReadVersionFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadVersionFile_EmptyIsError(t *testing.T) {
	path := writeVersionFile(t, "# only comments\n\n")

	_, err := ReadVersionFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tags")
}

func TestReadVersionFile_Missing(t *testing.T) {
	_, err := ReadVersionFile(filepath.Join(t.TempDir(), "version"))
	require.Error(t, err)
}
