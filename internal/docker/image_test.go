package docker

import (
	"strings"
	"testing"

	"github.com/docker/docker/api/types/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistryAuthEncode verifies that credentials roundtrip through the
// X-Registry-Auth wire encoding, and that an empty username yields the
// empty string the SDK treats as anonymous.
func TestRegistryAuthEncode(t *testing.T) {
	auth := RegistryAuth{
		Username:      "releaser",
		Password:      "hunter2",
		ServerAddress: "registry.example.com",
	}

	encoded, err := auth.encode()
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := registry.DecodeAuthConfig(encoded)
	require.NoError(t, err)
	assert.Equal(t, "releaser", decoded.Username)
	assert.Equal(t, "hunter2", decoded.Password)
	assert.Equal(t, "registry.example.com", decoded.ServerAddress)
}

func TestRegistryAuthEncode_Anonymous(t *testing.T) {
	encoded, err := RegistryAuth{}.encode()
	require.NoError(t, err)
	assert.Empty(t, encoded)
}

// TestDrainPushStream verifies the in-stream error detection: the Docker
// API reports push failures inside the progress stream rather than as an
// HTTP error.
func TestDrainPushStream(t *testing.T) {
	ok := `{"status":"Preparing","id":"abc"}
{"status":"Pushed","id":"abc"}
{"status":"latest: digest: sha256:deadbeef size: 1234"}
`
	require.NoError(t, drainPushStream(strings.NewReader(ok)))
	require.NoError(t, drainPushStream(strings.NewReader("")))
}

func TestDrainPushStream_Error(t *testing.T) {
	failed := `{"status":"Preparing","id":"abc"}
{"errorDetail":{"message":"denied: requested access to the resource is denied"},"error":"denied"}
`
	err := drainPushStream(strings.NewReader(failed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestDrainPushStream_Malformed(t *testing.T) {
	err := drainPushStream(strings.NewReader("{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}
