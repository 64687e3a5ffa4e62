// Package model defines the domain types for the marge-bot release CLI.
//
// The types here describe the two halves of the tool: the release pipeline
// (versions, image references, build manifests) and the merge-request
// approvals state reconstructed from the GitLab API. All of them are
// transient — the only persisted artifacts are the files the pipeline
// writes into the working tree (requirements_frozen.txt, the nix
// expressions, and the build manifest).
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ApprovalState classifies the approval status of a merge request.
type ApprovalState string

const (
	// StateApproved indicates no further approvals are required.
	StateApproved ApprovalState = "approved"

	// StateInsufficient indicates one or more approvals are still missing.
	StateInsufficient ApprovalState = "insufficient"

	// StateUnknown indicates the approval status could not be determined,
	// for example when the GitLab API call failed partway through.
	StateUnknown ApprovalState = "unknown"
)

// String returns the string representation of ApprovalState.
// This method satisfies the fmt.Stringer interface.
func (s ApprovalState) String() string {
	return string(s)
}

// IsValid checks whether the ApprovalState value is one of the
// predefined valid states.
func (s ApprovalState) IsValid() bool {
	switch s {
	case StateApproved, StateInsufficient, StateUnknown:
		return true
	default:
		return false
	}
}

// ParseApprovalState converts a string to an ApprovalState.
// Returns an error if the string does not match any valid state.
func ParseApprovalState(s string) (ApprovalState, error) {
	state := ApprovalState(strings.ToLower(s))
	if !state.IsValid() {
		return "", fmt.Errorf("invalid approval state: %q (valid: approved, insufficient, unknown)", s)
	}
	return state, nil
}

// tagRegex validates Docker image tags: up to 128 characters drawn from
// word characters, dots and hyphens, not starting with a dot or hyphen.
// This mirrors the tag grammar enforced by the registry.
var tagRegex = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{0,127}$`)

// ValidateTag checks whether the given string is a syntactically valid
// Docker image tag.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("image tag must not be empty")
	}
	if !tagRegex.MatchString(tag) {
		return fmt.Errorf("invalid image tag %q: must contain only alphanumerics, underscores, dots and hyphens, and not start with a dot or hyphen", tag)
	}
	return nil
}

// SanitizeTag converts an arbitrary string (typically a git branch name)
// into a valid Docker image tag. Characters outside the tag grammar are
// replaced with hyphens and the result is truncated to 128 characters.
//
// The default VERSION is the current branch name, and branch names such
// as "feature/approvals" are not valid tags, hence this normalization.
func SanitizeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	tag := b.String()
	// A tag must not start with a separator character.
	tag = strings.TrimLeft(tag, ".-")
	if len(tag) > 128 {
		tag = tag[:128]
	}
	if tag == "" {
		// Everything was stripped; fall back to a safe constant rather
		// than producing an empty (invalid) tag.
		tag = "unknown"
	}
	return tag
}

// ImageRef identifies a container image by repository and tag.
type ImageRef struct {
	// Registry is the registry host, e.g. "registry.example.com:5000".
	// Empty means Docker Hub.
	Registry string `json:"registry,omitempty"`

	// Name is the repository name including a Hub namespace where
	// applicable, e.g. "smarkets/marge-bot".
	Name string `json:"name"`

	// Tag is the image tag, e.g. "0.9.4" or a sanitized branch name.
	Tag string `json:"tag"`
}

// WithTag returns a copy of the reference pointing at a different tag.
func (r ImageRef) WithTag(tag string) ImageRef {
	r.Tag = tag
	return r
}

// String renders the reference in the form accepted by the Docker API:
// "[registry/]name:tag".
func (r ImageRef) String() string {
	repo := r.Name
	if r.Registry != "" {
		repo = r.Registry + "/" + r.Name
	}
	if r.Tag == "" {
		return repo
	}
	return repo + ":" + r.Tag
}

// Validate checks the reference for a non-empty name and a valid tag.
func (r ImageRef) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("image reference: name must not be empty")
	}
	if err := ValidateTag(r.Tag); err != nil {
		return fmt.Errorf("image reference %q: %w", r.Name, err)
	}
	return nil
}

// BuildManifest records the provenance of a dockerize run. It is written
// as YAML next to the build output so that docker-push (and humans) can
// see exactly what was built, from which commit, under which tags.
type BuildManifest struct {
	// BuildID is a random UUID assigned to this build.
	BuildID string `yaml:"build_id" json:"buildId"`

	// Image is the primary reference the image was built as.
	Image string `yaml:"image" json:"image"`

	// Version is the VERSION value used for the primary tag.
	Version string `yaml:"version" json:"version"`

	// Branch is the git branch the build was made from.
	Branch string `yaml:"branch" json:"branch"`

	// Commit is the short commit SHA of HEAD at build time.
	Commit string `yaml:"commit" json:"commit"`

	// Dirty records whether the working tree had uncommitted changes.
	Dirty bool `yaml:"dirty" json:"dirty"`

	// BuiltAt is the UTC timestamp of the build.
	BuiltAt time.Time `yaml:"built_at" json:"builtAt"`
}

// Approvals holds the approval status of a merge request as assembled
// from the GitLab API (either the EE approvals endpoint or the CE
// CODEOWNERS fallback).
type Approvals struct {
	// ProjectID is the numeric GitLab project id.
	ProjectID int `json:"projectId"`

	// IID is the project-scoped merge request number.
	IID int `json:"iid"`

	// ID is the instance-global merge request id. Only used for API
	// versions that predate iid-based routes.
	ID int `json:"id"`

	// ApprovalsLeft is the number of approvals still required.
	ApprovalsLeft int `json:"approvalsLeft"`

	// ApprovedBy lists the users who have already approved.
	ApprovedBy []Approver `json:"approvedBy,omitempty"`

	// Codeowners lists the usernames responsible for the changed files.
	// Only populated when the CODEOWNERS fallback was used.
	Codeowners []string `json:"codeowners,omitempty"`
}

// Sufficient reports whether no further approvals are required.
func (a *Approvals) Sufficient() bool {
	return a.ApprovalsLeft == 0
}

// State maps the approval counters to an ApprovalState.
func (a *Approvals) State() ApprovalState {
	if a.Sufficient() {
		return StateApproved
	}
	return StateInsufficient
}

// ApproverUsernames returns the usernames of everyone who approved.
func (a *Approvals) ApproverUsernames() []string {
	names := make([]string, 0, len(a.ApprovedBy))
	for _, who := range a.ApprovedBy {
		names = append(names, who.Username)
	}
	return names
}

// ApproverIDs returns the user ids of everyone who approved. These are
// the ids impersonated when restoring approvals after a rebase push.
func (a *Approvals) ApproverIDs() []int {
	ids := make([]int, 0, len(a.ApprovedBy))
	for _, who := range a.ApprovedBy {
		ids = append(ids, who.ID)
	}
	return ids
}

// Approver identifies a GitLab user who approved a merge request.
type Approver struct {
	// ID is the numeric GitLab user id.
	ID int `json:"id"`

	// Username is the GitLab username (without the "@" prefix).
	Username string `json:"username"`
}
