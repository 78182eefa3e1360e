// Package backend defines the agent-backend contract the bridge drives:
// session creation, prompt/command runs with activity and permission
// callbacks, and optional command discovery.
package backend

import "context"

// PermissionResponse is the closed set of answers to a permission request.
type PermissionResponse string

const (
	PermissionOnce   PermissionResponse = "once"
	PermissionAlways PermissionResponse = "always"
	PermissionReject PermissionResponse = "reject"
)

// ParsePermissionResponse maps raw input to a response. Anything
// unrecognized maps to reject, never to silent failure.
func ParsePermissionResponse(raw string) PermissionResponse {
	switch PermissionResponse(raw) {
	case PermissionOnce, PermissionAlways, PermissionReject:
		return PermissionResponse(raw)
	}
	return PermissionReject
}

// PermissionRequest describes an action the backend wants human approval for.
type PermissionRequest struct {
	ID          string
	ToolName    string
	Description string
}

// PermissionFunc must return exactly one response before the run may proceed
// past the requesting point.
type PermissionFunc func(ctx context.Context, req PermissionRequest) PermissionResponse

// ActivityFunc receives one incremental progress line from an in-flight run.
type ActivityFunc func(line string)

// Attachment is a file the backend produced during a run.
type Attachment struct {
	Path     string
	FileName string
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	SessionID   string
	Text        string
	Attachments []Attachment
	Meta        map[string]string
}

// RunOptions parameterizes RunPrompt and RunCommand. Cancellation propagates
// through ctx; the backend must stop promptly when it fires, not merely
// suppress the eventual result.
type RunOptions struct {
	Prompt       string
	Command      string
	Args         []string
	SessionID    string
	Cwd          string
	OnActivity   ActivityFunc
	OnPermission PermissionFunc
}

// CreateSessionOptions parameterizes CreateSession.
type CreateSessionOptions struct {
	Cwd string
}

// Backend is a long-running coding-agent service.
type Backend interface {
	CreateSession(ctx context.Context, opts CreateSessionOptions) (string, error)
	RunPrompt(ctx context.Context, opts RunOptions) (*RunResult, error)
	RunCommand(ctx context.Context, opts RunOptions) (*RunResult, error)
}

// CommandSpec describes one backend-provided slash command.
type CommandSpec struct {
	Name        string
	Description string
}

// CommandLister is an opt-in capability: backends that can enumerate their
// command templates implement it, and the bridge merges the result with its
// native command surface.
type CommandLister interface {
	ListCommands() []CommandSpec
}
