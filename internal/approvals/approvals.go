// approvals.go implements fetching and restoring merge-request approval
// state against the GitLab API.
package approvals

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ylck/marge-bot/internal/gitlab"
	"github.com/ylck/marge-bot/internal/model"
)

// codeownersFile is the repository file the CE fallback reads owners from.
const codeownersFile = "CODEOWNERS"

// thumbsUp is the award emoji name that counts as an approval on CE.
const thumbsUp = "thumbsup"

// Service fetches and restores approval state for merge requests.
type Service struct {
	api *gitlab.Client
	log *slog.Logger

	// defaultBranch is the branch CODEOWNERS is read from on CE.
	defaultBranch string
}

// NewService creates an approvals Service using the given API client.
func NewService(api *gitlab.Client, defaultBranch string, log *slog.Logger) *Service {
	return &Service{api: api, defaultBranch: defaultBranch, log: log}
}

// mergeRequestInfo is the subset of the merge request payload needed to
// resolve both the project-scoped iid and the global id.
type mergeRequestInfo struct {
	ID        int `json:"id"`
	IID       int `json:"iid"`
	ProjectID int `json:"project_id"`
}

// approvalsPayload is the response shape of the EE approvals endpoint.
type approvalsPayload struct {
	ApprovalsLeft int `json:"approvals_left"`
	ApprovedBy    []struct {
		User struct {
			ID       int    `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	} `json:"approved_by"`
}

// changesPayload is the response shape of the merge request changes
// endpoint, reduced to the changed file paths.
type changesPayload struct {
	Changes []struct {
		NewPath string `json:"new_path"`
	} `json:"changes"`
}

// award is one award emoji entry on a merge request.
type award struct {
	Name string `json:"name"`
	User struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

// Fetch retrieves the approval status of the merge request identified by
// project id and iid.
//
// On Enterprise Edition the approvals endpoint is used directly. On
// Community Edition, which has no approvals API, the status is derived
// from CODEOWNERS and thumbs-up award emoji (see the package comment).
func (s *Service) Fetch(ctx context.Context, projectID, iid int) (*model.Approvals, error) {
	version, err := s.api.ServerVersion(ctx)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGitLabError,
			"failed to determine GitLab version", err)
	}

	// The global id is needed both for pre-9.2.3 URL routing and for
	// restoring approvals later, so resolve the merge request up front.
	var mr mergeRequestInfo
	mrPath := fmt.Sprintf("/projects/%d/merge_requests/%d", projectID, iid)
	if err := s.api.Get(ctx, mrPath, &mr); err != nil {
		return nil, model.WrapCLIError(model.ExitGitLabError,
			fmt.Sprintf("failed to fetch merge request !%d", iid), err)
	}

	result := &model.Approvals{
		ProjectID: projectID,
		IID:       iid,
		ID:        mr.ID,
	}

	if !version.EE {
		if err := s.fetchCE(ctx, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	var payload approvalsPayload
	if err := s.api.Get(ctx, s.approvalsPath(version, result), &payload); err != nil {
		return nil, model.WrapCLIError(model.ExitGitLabError,
			fmt.Sprintf("failed to fetch approvals for !%d", iid), err)
	}

	result.ApprovalsLeft = payload.ApprovalsLeft
	for _, entry := range payload.ApprovedBy {
		result.ApprovedBy = append(result.ApprovedBy, model.Approver{
			ID:       entry.User.ID,
			Username: entry.User.Username,
		})
	}

	return result, nil
}

// approvalsPath returns the approvals endpoint for the given instance
// version. GitLab botched the v4 API before 9.2.3: those releases route
// merge request subresources by the global id instead of the iid.
func (s *Service) approvalsPath(version gitlab.Version, a *model.Approvals) string {
	if version.AtLeast(9, 2, 2) {
		return fmt.Sprintf("/projects/%d/merge_requests/%d/approvals", a.ProjectID, a.IID)
	}
	return fmt.Sprintf("/projects/%d/merge_requests/%d/approvals", a.ProjectID, a.ID)
}

// approvePath returns the approve endpoint, with the same version-based
// id selection as approvalsPath.
func (s *Service) approvePath(version gitlab.Version, a *model.Approvals) string {
	if version.AtLeast(9, 2, 2) {
		return fmt.Sprintf("/projects/%d/merge_requests/%d/approve", a.ProjectID, a.IID)
	}
	return fmt.Sprintf("/projects/%d/merge_requests/%d/approve", a.ProjectID, a.ID)
}

// fetchCE derives approval status for Community Edition instances and
// fills it into result.
func (s *Service) fetchCE(ctx context.Context, result *model.Approvals) error {
	rules, err := s.codeownerRules(ctx, result.ProjectID)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		s.log.Info("no CODEOWNERS file on default branch, continuing without approvers flow")
		return nil
	}

	paths, err := s.changedPaths(ctx, result)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		s.log.Info("merge request has no changes")
	}

	owners := ResponsibleOwners(rules, paths)
	if len(owners) == 0 {
		s.log.Info("no matched code owners, continuing without approvers flow")
		return nil
	}
	result.Codeowners = owners

	awards, err := s.awards(ctx, result)
	if err != nil {
		return err
	}

	ownerSet := make(map[string]bool, len(owners))
	for _, owner := range owners {
		ownerSet[owner] = true
	}

	for _, a := range awards {
		if a.Name == thumbsUp && ownerSet[a.User.Username] {
			result.ApprovedBy = append(result.ApprovedBy, model.Approver{
				ID:       a.User.ID,
				Username: a.User.Username,
			})
		}
	}

	left := len(owners) - len(result.ApprovedBy)
	if left < 0 {
		left = 0
	}
	result.ApprovalsLeft = left

	return nil
}

// codeownerRules fetches and parses the CODEOWNERS file from the default
// branch. A missing file yields no rules and no error.
func (s *Service) codeownerRules(ctx context.Context, projectID int) ([]Rule, error) {
	content, found, err := s.api.RepoFileContent(ctx, projectID, codeownersFile, s.defaultBranch)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGitLabError,
			"failed to fetch CODEOWNERS", err)
	}
	if !found {
		return nil, nil
	}

	rules, err := ParseCodeowners(content)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGitLabError,
			"failed to parse CODEOWNERS", err)
	}
	return rules, nil
}

// changedPaths returns the new paths of all files changed in the merge
// request.
func (s *Service) changedPaths(ctx context.Context, a *model.Approvals) ([]string, error) {
	var payload changesPayload
	path := fmt.Sprintf("/projects/%d/merge_requests/%d/changes", a.ProjectID, a.IID)
	if err := s.api.Get(ctx, path, &payload); err != nil {
		return nil, model.WrapCLIError(model.ExitGitLabError,
			fmt.Sprintf("failed to fetch changes for !%d", a.IID), err)
	}

	paths := make([]string, 0, len(payload.Changes))
	for _, change := range payload.Changes {
		if change.NewPath != "" {
			paths = append(paths, change.NewPath)
		}
	}
	return paths, nil
}

// awards returns all award emoji on the merge request.
func (s *Service) awards(ctx context.Context, a *model.Approvals) ([]award, error) {
	var payload []award
	path := fmt.Sprintf("/projects/%d/merge_requests/%d/award_emoji", a.ProjectID, a.IID)
	if err := s.api.Get(ctx, path, &payload); err != nil {
		return nil, model.WrapCLIError(model.ExitGitLabError,
			fmt.Sprintf("failed to fetch award emoji for !%d", a.IID), err)
	}
	return payload, nil
}

// Restore re-approves the merge request as each of the users in
// approvals.ApprovedBy, by impersonating them with sudo.
//
// Pushing a rebased branch can invalidate approvals depending on project
// settings; capturing the approver list before the push and restoring it
// afterwards keeps the approval state intact. Only Enterprise Edition
// has the approve endpoint, so Restore is a no-op on CE.
func (s *Service) Restore(ctx context.Context, a *model.Approvals) error {
	version, err := s.api.ServerVersion(ctx)
	if err != nil {
		return model.WrapCLIError(model.ExitGitLabError,
			"failed to determine GitLab version", err)
	}

	if !version.EE {
		s.log.Info("restore is only supported on GitLab EE, skipping")
		return nil
	}

	path := s.approvePath(version, a)
	for _, userID := range a.ApproverIDs() {
		if err := s.api.PostSudo(ctx, path, userID, nil); err != nil {
			return model.WrapCLIError(model.ExitGitLabError,
				fmt.Sprintf("failed to re-approve !%d as user %d", a.IID, userID), err)
		}
		s.log.Debug("restored approval", "iid", a.IID, "user", userID)
	}

	return nil
}
