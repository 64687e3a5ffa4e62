package model

import "fmt"

// ExitCode defines the CLI exit codes. These codes allow CI pipelines to
// programmatically determine why a release step failed.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the configuration file or environment
	// overrides could not be loaded or failed validation.
	ExitConfigError ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 3

	// ExitGitError indicates a git operation failed (for example the
	// working directory is not inside a git repository).
	ExitGitError ExitCode = 4

	// ExitFreezeFailed indicates dependency freezing failed: the external
	// tool errored, or the frozen output left requirements unpinned.
	ExitFreezeFailed ExitCode = 5

	// ExitBuildFailed indicates the package or image build failed.
	ExitBuildFailed ExitCode = 6

	// ExitPushFailed indicates one or more image tags could not be pushed.
	ExitPushFailed ExitCode = 7

	// ExitGitLabError indicates a GitLab API call failed.
	ExitGitLabError ExitCode = 8

	// ExitApprovalsInsufficient indicates the merge request does not yet
	// have the required number of approvals.
	ExitApprovalsInsufficient ExitCode = 9
)

// CLIError is an error that carries an exit code. The CLI layer uses it
// to translate domain errors into process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a CLIError that wraps an underlying error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
