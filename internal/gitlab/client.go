// Package gitlab implements the small GitLab v4 REST client the
// approvals commands need: authenticated request helpers with JSON
// decoding, sudo impersonation, a cached version probe, and repository
// file fetches.
//
// Requests go through a retrying HTTP client, since the bot's original
// deployment targets self-hosted instances where transient 5xx responses
// during maintenance windows are routine.
package gitlab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
)

// apiPrefix is the v4 REST API path prefix.
const apiPrefix = "/api/v4"

// Client is an authenticated GitLab API client bound to one instance.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	log     *slog.Logger

	// versionOnce guards the cached version probe. The instance version
	// cannot change mid-run, so one request per process is enough.
	versionOnce sync.Once
	version     Version
	versionErr  error
}

// NewClient creates a client for the GitLab instance at baseURL,
// authenticating every request with the given private token.
func NewClient(baseURL, token string, log *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	// retryablehttp's own logger is chatty; route retries through slog
	// at debug level instead.
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.Debug("retrying GitLab request", "method", req.Method,
				"url", req.URL.String(), "attempt", attempt)
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    rc,
		log:     log,
	}
}

// APIError is returned for non-2xx GitLab responses.
type APIError struct {
	// Status is the HTTP status code.
	Status int

	// Path is the API path that failed.
	Path string

	// Body is the (truncated) response body, useful because GitLab puts
	// the actual error message in a JSON "message" field.
	Body string
}

// Error satisfies the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("GitLab API %s returned %d: %s", e.Path, e.Status, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Get performs an authenticated GET and decodes the JSON response into
// out (which may be nil to discard the body).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, 0, out)
}

// PostSudo performs an authenticated POST impersonating the given user
// via the Sudo header. The token must have sudo scope.
func (c *Client) PostSudo(ctx context.Context, path string, userID int, out any) error {
	return c.call(ctx, http.MethodPost, path, userID, out)
}

// call builds, sends and decodes one API request. sudo of 0 means no
// impersonation.
func (c *Client) call(ctx context.Context, method, path string, sudo int, out any) error {
	fullURL := c.baseURL + apiPrefix + path

	req, err := retryablehttp.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build GitLab request for %s: %w", path, err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	if sudo != 0 {
		req.Header.Set("Sudo", fmt.Sprintf("%d", sudo))
	}

	c.log.Debug("GitLab request", "method", method, "path", path, "sudo", sudo)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GitLab request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	// Read the body up front: error responses need it for the message,
	// success responses for decoding. 1 MiB is far beyond any payload
	// these endpoints return.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read GitLab response for %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Status: resp.StatusCode,
			Path:   path,
			Body:   strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode GitLab response for %s: %w", path, err)
	}
	return nil
}

// ServerVersion returns the instance version, probing /version on first
// use and caching the result for the rest of the process lifetime.
func (c *Client) ServerVersion(ctx context.Context) (Version, error) {
	c.versionOnce.Do(func() {
		var payload struct {
			Version string `json:"version"`
		}
		if err := c.Get(ctx, "/version", &payload); err != nil {
			c.versionErr = err
			return
		}
		c.version, c.versionErr = ParseVersion(payload.Version)
	})
	return c.version, c.versionErr
}

// repoFile is the response shape of the repository files endpoint.
type repoFile struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// RepoFileContent fetches a file from a project's repository at the
// given ref and returns its decoded content. The second return value is
// false when the file does not exist (a 404 is not an error here: a
// missing CODEOWNERS simply disables the approvers flow).
func (c *Client) RepoFileContent(ctx context.Context, projectID int, filePath, ref string) ([]byte, bool, error) {
	path := fmt.Sprintf("/projects/%d/repository/files/%s?ref=%s",
		projectID, url.PathEscape(filePath), url.QueryEscape(ref))

	var file repoFile
	if err := c.Get(ctx, path, &file); err != nil {
		if IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	// GitLab returns file content base64-encoded.
	if file.Encoding != "" && file.Encoding != "base64" {
		return nil, false, fmt.Errorf("unexpected encoding %q for repository file %s",
			file.Encoding, filePath)
	}
	content, err := base64.StdEncoding.DecodeString(file.Content)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode repository file %s: %w", filePath, err)
	}

	return content, true, nil
}
