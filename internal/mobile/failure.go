package mobile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/standardbeagle/athena-bridge/internal/tunnel"
)

// Failure types.
const (
	TypeValidation    = "validation_error"
	TypeConfiguration = "configuration_error"
	TypeTunnel        = "tunnel_failure"
	TypeRepository    = "repository_error"
	TypeDeployment    = "deployment_failure"
	TypeForbidden     = "forbidden"
)

// Failure is a classified coordinator error with remediation steps.
type Failure struct {
	Type        string          `json:"type"`
	Status      int             `json:"-"`
	Message     string          `json:"error"`
	ActionItems []string        `json:"actionItems,omitempty"`
	Missing     map[string]bool `json:"missing,omitempty"`
	Details     string          `json:"details,omitempty"`
	Logs        []LogEntry      `json:"logs,omitempty"`
	Err         error           `json:"-"`
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts a Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func invalid(msg string) *Failure {
	return &Failure{Type: TypeValidation, Status: http.StatusBadRequest, Message: msg}
}

func tunnelFailure(err error, port int) *Failure {
	return &Failure{
		Type:        TypeTunnel,
		Status:      http.StatusInternalServerError,
		Message:     err.Error(),
		ActionItems: tunnelActions(err, port),
		Err:         err,
	}
}

// tunnelActions picks remediation steps from the start error's
// classification, falling back to its text.
func tunnelActions(err error, port int) []string {
	msg := err.Error()
	var actions []string

	if errors.Is(err, tunnel.ErrAgentNotFound) || strings.Contains(msg, "CLI not found") {
		actions = append(actions,
			"Install ngrok: athena install",
			"Or install it manually and make sure it is on your PATH")
	}
	if errors.Is(err, tunnel.ErrAuth) || strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "401") || strings.Contains(msg, "Invalid API key") {
		actions = append(actions,
			"Verify ngrok API key at: https://dashboard.ngrok.com/api-keys",
			"Run manually: ngrok config add-authtoken YOUR_API_KEY")
	}
	if errors.Is(err, tunnel.ErrTimeout) || strings.Contains(msg, "timeout") {
		actions = append(actions,
			fmt.Sprintf("Ensure local server is running on port %d", port),
			fmt.Sprintf("Try manual command: ngrok http %d", port))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		actions = append(actions, "The request ended before the tunnel came up; retry the deployment")
	}
	if len(actions) == 0 {
		actions = append(actions,
			fmt.Sprintf("Try starting ngrok manually: ngrok http %d", port),
			"Check if ngrok is installed: ngrok version")
	}
	return actions
}

// deploymentActions picks remediation steps for a failure after the
// tunnel stage.
func deploymentActions(msg string, port int) []string {
	var actions []string
	if strings.Contains(msg, "401") || strings.Contains(msg, "403") {
		actions = append(actions,
			"Check Vercel API key at: https://vercel.com/account/settings/tokens",
			"Check GitHub token has repo scope",
			"Verify ngrok API key")
	}
	if strings.Contains(msg, "404") {
		actions = append(actions,
			"Verify repository format: owner/repo",
			"Check if repository exists and is public",
			"Ensure repository is connected to Vercel")
	}
	if strings.Contains(msg, "repo") {
		actions = append(actions,
			"Ensure GITHUB_TOKEN is set",
			"Check repository exists on GitHub",
			"Ensure repository has GitHub Pages or Vercel integration")
	}
	if len(actions) == 0 {
		actions = append(actions,
			"Check the server log for detailed errors",
			"Verify all API keys are configured correctly",
			fmt.Sprintf("Ensure local OS Athena is running on port %d", port))
	}
	return actions
}

// formatDeploymentError normalizes an error for display.
func formatDeploymentError(msg string) string {
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return "Authentication failed. Please check your API keys."
	case strings.Contains(msg, "404"):
		return "Repository or project not found."
	case strings.Contains(msg, "repo"):
		return "Could not resolve GitHub repository. Ensure it exists and is connected to Vercel."
	case strings.Contains(msg, "ngrok"):
		return "Ngrok tunnel failed: " + msg
	}
	return msg
}

// classify wraps an unexpected stage error.
func classify(err error, port int) *Failure {
	if f, ok := AsFailure(err); ok {
		return f
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	isTunnel := strings.Contains(lower, "ngrok") || strings.Contains(lower, "tunnel")

	f := &Failure{
		Type:    TypeDeployment,
		Status:  http.StatusInternalServerError,
		Message: formatDeploymentError(msg),
		Details: msg,
		Err:     err,
	}
	if isTunnel {
		f.Type = TypeTunnel
		f.ActionItems = tunnelActions(err, port)
	} else {
		f.ActionItems = deploymentActions(msg, port)
	}
	return f
}
