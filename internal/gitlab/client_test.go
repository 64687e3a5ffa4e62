package gitlab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a logger that discards all output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient starts an httptest server with the given handler and
// returns a Client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "secret-token", testLogger())
}

// TestGet verifies authentication headers, URL construction and JSON
// decoding of a successful GET.
func TestGet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v4/projects/42", r.URL.Path)
		assert.Equal(t, "secret-token", r.Header.Get("PRIVATE-TOKEN"))
		assert.Empty(t, r.Header.Get("Sudo"))

		fmt.Fprint(w, `{"id": 42, "name": "marge-bot"}`)
	})

	var out struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	err := client.Get(context.Background(), "/projects/42", &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out.ID)
	assert.Equal(t, "marge-bot", out.Name)
}

// TestPostSudo verifies the impersonation header is sent.
func TestPostSudo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "11", r.Header.Get("Sudo"))
		w.WriteHeader(http.StatusCreated)
	})

	err := client.PostSudo(context.Background(), "/projects/42/merge_requests/7/approve", 11, nil)
	assert.NoError(t, err)
}

// TestAPIError verifies that non-2xx responses become APIError values
// carrying the status and body, and that IsNotFound matches 404s.
func TestAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "404 Project Not Found"}`)
	})

	err := client.Get(context.Background(), "/projects/9999", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Project Not Found")
}

// TestServerVersion verifies the version probe and that its result is
// cached: the endpoint must be hit exactly once across repeated calls.
func TestServerVersion(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/version", r.URL.Path)
		calls++
		fmt.Fprint(w, `{"version": "11.2.3-ee"}`)
	})

	for i := 0; i < 3; i++ {
		version, err := client.ServerVersion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Version{Major: 11, Minor: 2, Patch: 3, EE: true}, version)
	}

	assert.Equal(t, 1, calls, "version must be probed once and cached")
}

// TestRepoFileContent verifies base64 decoding and the ref query
// parameter of the repository files endpoint.
func TestRepoFileContent(t *testing.T) {
	content := "* @alice @bob\n"

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/42/repository/files/CODEOWNERS", r.URL.Path)
		assert.Equal(t, "master", r.URL.Query().Get("ref"))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		})
	})

	got, found, err := client.RepoFileContent(context.Background(), 42, "CODEOWNERS", "master")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, content, string(got))
}

// TestRepoFileContent_NotFound verifies that a missing file is reported
// via the found flag, not as an error.
func TestRepoFileContent_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "404 File Not Found"}`)
	})

	_, found, err := client.RepoFileContent(context.Background(), 42, "CODEOWNERS", "master")
	require.NoError(t, err)
	assert.False(t, found)
}

// TestRetry verifies that transient server errors are retried.
func TestRetry(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ok": true}`)
	})

	err := client.Get(context.Background(), "/projects/42", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "the 502 should have been retried")
}
