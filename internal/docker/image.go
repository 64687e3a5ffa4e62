// image.go implements the image operations behind dockerize and
// docker-push: building via the docker CLI, and tagging/pushing via the
// Docker SDK with per-request registry credentials.
//
// Building shells out to `docker build` rather than using the SDK's
// ImageBuild endpoint, because the CLI handles build context tarring,
// .dockerignore and BuildKit selection; the SDK call would reimplement
// all of that for no gain. Tag and push use the SDK so that registry
// authentication stays in-process instead of going through a
// `docker login` that mutates shared credential state on the host.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"golang.org/x/sync/errgroup"

	"github.com/ylck/marge-bot/internal/model"
)

// RegistryAuth holds credentials for pushing to a registry. Zero value
// means anonymous (pushes will fail on registries requiring auth).
type RegistryAuth struct {
	Username string
	Password string

	// ServerAddress is the registry host. Empty means Docker Hub.
	ServerAddress string
}

// encode renders the credentials in the base64 JSON form the Docker API
// expects in the X-Registry-Auth header. An empty username produces an
// empty string, which the SDK treats as anonymous.
func (a RegistryAuth) encode() (string, error) {
	if a.Username == "" {
		return "", nil
	}
	return registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      a.Username,
		Password:      a.Password,
		ServerAddress: a.ServerAddress,
	})
}

// BuildImage builds a container image from the given context directory
// and Dockerfile, tagged with ref. It runs `docker build` as a child
// process and returns its combined output in the error on failure.
func BuildImage(ctx context.Context, contextDir, dockerfile string, ref model.ImageRef) error {
	if err := ref.Validate(); err != nil {
		return model.WrapCLIError(model.ExitBuildFailed, "cannot build image", err)
	}

	args := []string{"build", "-t", ref.String()}
	if dockerfile != "" {
		args = append(args, "-f", dockerfile)
	}
	args = append(args, ".")

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = contextDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return model.WrapCLIError(
			model.ExitBuildFailed,
			fmt.Sprintf("docker build failed for %q: %s", ref.String(),
				strings.TrimSpace(string(output))),
			err,
		)
	}

	return nil
}

// TagImage applies a new tag to an existing local image.
func (c *Client) TagImage(ctx context.Context, source, target model.ImageRef) error {
	if err := target.Validate(); err != nil {
		return model.WrapCLIError(model.ExitPushFailed, "cannot tag image", err)
	}
	if err := c.inner.ImageTag(ctx, source.String(), target.String()); err != nil {
		return model.WrapCLIError(
			model.ExitPushFailed,
			fmt.Sprintf("failed to tag %q as %q", source.String(), target.String()),
			err,
		)
	}
	return nil
}

// PushImage pushes a single image reference to its registry.
//
// The Docker API reports push failures inside the progress stream rather
// than as an HTTP error, so the stream is decoded message by message and
// scanned for an error payload.
func (c *Client) PushImage(ctx context.Context, ref model.ImageRef, auth RegistryAuth) error {
	authStr, err := auth.encode()
	if err != nil {
		return model.WrapCLIError(model.ExitPushFailed, "failed to encode registry credentials", err)
	}

	reader, err := c.inner.ImagePush(ctx, ref.String(), image.PushOptions{
		RegistryAuth: authStr,
	})
	if err != nil {
		return model.WrapCLIError(
			model.ExitPushFailed,
			fmt.Sprintf("failed to push %q", ref.String()),
			err,
		)
	}
	defer reader.Close()

	if err := drainPushStream(reader); err != nil {
		return model.WrapCLIError(
			model.ExitPushFailed,
			fmt.Sprintf("push of %q failed", ref.String()),
			err,
		)
	}

	return nil
}

// pushMessage is the subset of the Docker progress stream message that
// matters for error detection.
type pushMessage struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// drainPushStream consumes the JSON progress stream of a push and
// returns the first in-stream error, if any.
func drainPushStream(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg pushMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("malformed push progress stream: %w", err)
		}
		if msg.Error != nil {
			return fmt.Errorf("%s", msg.Error.Message)
		}
	}
}

// PushAll tags the source image with each of the given tags and pushes
// them concurrently. All pushes are attempted even if one fails; the
// first error is returned.
//
// Tagging happens up front and sequentially — it is a cheap local
// operation and doing it before any push avoids publishing a subset of
// tags when a tag name turns out to be invalid.
func (c *Client) PushAll(ctx context.Context, source model.ImageRef, tags []string, auth RegistryAuth) error {
	refs := make([]model.ImageRef, 0, len(tags))
	for _, tag := range tags {
		target := source.WithTag(tag)
		if target.Tag != source.Tag {
			if err := c.TagImage(ctx, source, target); err != nil {
				return err
			}
		}
		refs = append(refs, target)
	}

	// A plain errgroup (no derived context) so that a failing tag does
	// not cancel the sibling pushes; each tag should land independently.
	var g errgroup.Group
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			return c.PushImage(ctx, ref, auth)
		})
	}

	return g.Wait()
}
