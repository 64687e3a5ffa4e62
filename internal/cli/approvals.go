// Package cli — approvals.go implements the "marge-bot approvals"
// command group.
//
// "approvals status" reports the approval state of a merge request and
// exits non-zero when approvals are missing, which makes it usable as a
// CI gate. "approvals restore" re-approves a merge request as its
// previous approvers, for use after a rebase push invalidated them.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ylck/marge-bot/internal/approvals"
	"github.com/ylck/marge-bot/internal/gitlab"
	"github.com/ylck/marge-bot/internal/model"
)

// approvalsFlags holds the flag values shared by the approvals
// subcommands.
type approvalsFlags struct {
	// project is the numeric GitLab project id.
	project int

	// mergeRequest is the project-scoped merge request iid.
	mergeRequest int
}

// NewApprovalsCommand creates the "approvals" command group.
func NewApprovalsCommand() *cobra.Command {
	flags := &approvalsFlags{}

	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and restore merge request approvals",
		Long: `Inspect and restore GitLab merge request approvals.

On GitLab EE the approvals API is used directly. On CE, approvals are
derived from the CODEOWNERS file on the default branch and thumbs-up
award emoji on the merge request.`,
	}

	cmd.PersistentFlags().IntVarP(&flags.project, "project", "p", 0,
		"Numeric GitLab project id (required)")
	cmd.PersistentFlags().IntVarP(&flags.mergeRequest, "merge-request", "m", 0,
		"Merge request iid (required)")
	_ = cmd.MarkPersistentFlagRequired("project")
	_ = cmd.MarkPersistentFlagRequired("merge-request")

	cmd.AddCommand(newApprovalsStatusCommand(flags))
	cmd.AddCommand(newApprovalsRestoreCommand(flags))

	return cmd
}

// newApprovalsService builds the approvals service from configuration.
func newApprovalsService() (*approvals.Service, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, err
	}

	if cfg.GitLab.Token == "" {
		return nil, model.NewCLIError(model.ExitConfigError,
			"no GitLab token configured (set MARGE_GITLAB_TOKEN)")
	}

	api := gitlab.NewClient(cfg.GitLab.BaseURL, cfg.GitLab.Token, log)
	return approvals.NewService(api, cfg.GitLab.DefaultBranch, log), nil
}

// newApprovalsStatusCommand creates the "approvals status" subcommand.
func newApprovalsStatusCommand(flags *approvalsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the approval status of a merge request",
		Long: `Show how many approvals a merge request still needs and who has
approved so far.

Exits with a dedicated non-zero code when approvals are missing, so the
command doubles as a merge gate in CI.

Examples:
  marge-bot approvals status --project 42 --merge-request 7
  marge-bot approvals status -p 42 -m 7 --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsStatus(cmd.Context(), flags)
		},
	}
}

// runApprovalsStatus fetches and reports the approval state.
func runApprovalsStatus(ctx context.Context, flags *approvalsFlags) error {
	service, err := newApprovalsService()
	if err != nil {
		return err
	}

	state, err := service.Fetch(ctx, flags.project, flags.mergeRequest)
	if err != nil {
		return err
	}

	printApprovals(state)

	if !state.Sufficient() {
		return model.NewCLIError(model.ExitApprovalsInsufficient,
			fmt.Sprintf("merge request !%d needs %d more approval(s)",
				state.IID, state.ApprovalsLeft))
	}
	return nil
}

// printApprovals outputs the approval state in text or JSON format.
func printApprovals(state *model.Approvals) {
	if IsJSONOutput() {
		printJSON(state)
		return
	}

	fmt.Printf("Merge request !%d: %s\n", state.IID, state.State())
	if len(state.Codeowners) > 0 {
		fmt.Printf("  Code owners:   %s\n", strings.Join(state.Codeowners, ", "))
	}
	if names := state.ApproverUsernames(); len(names) > 0 {
		fmt.Printf("  Approved by:   %s\n", strings.Join(names, ", "))
	}
	fmt.Printf("  Approvals left: %d\n", state.ApprovalsLeft)
}

// newApprovalsRestoreCommand creates the "approvals restore" subcommand.
func newApprovalsRestoreCommand(flags *approvalsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Re-approve a merge request as its previous approvers",
		Long: `Restore approvals that were invalidated by pushing a rebased
branch, by re-approving the merge request as each previous approver via
sudo impersonation. Requires GitLab EE and a token with sudo scope.

Examples:
  marge-bot approvals restore --project 42 --merge-request 7`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsRestore(cmd.Context(), flags)
		},
	}
}

// runApprovalsRestore fetches the current approver list and re-approves
// as each of them.
func runApprovalsRestore(ctx context.Context, flags *approvalsFlags) error {
	service, err := newApprovalsService()
	if err != nil {
		return err
	}

	state, err := service.Fetch(ctx, flags.project, flags.mergeRequest)
	if err != nil {
		return err
	}

	if len(state.ApprovedBy) == 0 {
		if !IsJSONOutput() {
			fmt.Printf("Merge request !%d has no approvals to restore\n", state.IID)
		} else {
			printJSON(map[string]any{"restored": []string{}})
		}
		return nil
	}

	if err := service.Restore(ctx, state); err != nil {
		return err
	}

	if IsJSONOutput() {
		printJSON(map[string]any{"restored": state.ApproverUsernames()})
	} else {
		fmt.Printf("Restored %d approval(s) on !%d: %s\n",
			len(state.ApprovedBy), state.IID,
			strings.Join(state.ApproverUsernames(), ", "))
	}
	return nil
}
