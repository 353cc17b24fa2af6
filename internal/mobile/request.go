package mobile

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var repositoryPattern = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)

// DeployRequest is the input to Deploy.
type DeployRequest struct {
	// Repository is "owner/name".
	Repository string `json:"repository"`
	Password   string `json:"password"`
	// Branch defaults to the configured branch.
	Branch string `json:"branch,omitempty"`
}

// Validate checks the request without touching the network.
func (r DeployRequest) Validate(minPassword int) error {
	if strings.TrimSpace(r.Repository) == "" {
		return invalid("Repository is required (format: owner/repo)")
	}
	if len(r.Password) < minPassword {
		return invalid(fmt.Sprintf("Password is required (minimum %d characters)", minPassword))
	}
	if !repositoryPattern.MatchString(strings.TrimSpace(r.Repository)) {
		return invalid("Invalid repository format. Expected: owner/repo (e.g., yourusername/os-athena-mobile)")
	}
	return nil
}

// owner and name of a validated repository.
func (r DeployRequest) split() (string, string) {
	owner, name, _ := strings.Cut(strings.TrimSpace(r.Repository), "/")
	return owner, name
}

// RecoverRequest is the input to RecoverTunnel.
type RecoverRequest struct {
	ProjectName string `json:"projectName"`
	Repository  string `json:"repository"`
}

func (r RecoverRequest) Validate() error {
	if strings.TrimSpace(r.ProjectName) == "" || strings.TrimSpace(r.Repository) == "" {
		return invalid("Missing required fields: projectName, repository")
	}
	return nil
}

// PasswordRequest is the input to RotatePassword.
type PasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (r PasswordRequest) Validate(minPassword int) error {
	if len(r.NewPassword) < minPassword {
		return invalid(fmt.Sprintf("New password is required (minimum %d characters)", minPassword))
	}
	return nil
}

// TunnelRef identifies the tunnel behind a deployment.
type TunnelRef struct {
	ID        string `json:"id"`
	PublicURL string `json:"public_url"`
}

// DeploymentRef identifies a hosted deployment.
type DeploymentRef struct {
	URL          string `json:"url"`
	DeploymentID string `json:"deploymentId"`
}

// DeployResult is returned by a successful Deploy.
type DeployResult struct {
	Success    bool          `json:"success"`
	Tunnel     TunnelRef     `json:"tunnel"`
	Deployment DeploymentRef `json:"deployment"`
	MobileURL  string        `json:"mobileUrl"`
	Logs       []LogEntry    `json:"logs,omitempty"`
}

// RecoverResult is returned by a successful RecoverTunnel.
type RecoverResult struct {
	Success bool      `json:"success"`
	Tunnel  TunnelRef `json:"tunnel"`
	Message string    `json:"message"`
	// EnvUpdated is false when the hosted environment could not be
	// updated.
	EnvUpdated bool `json:"envUpdated"`
}

// PasswordResult is returned by RotatePassword.
type PasswordResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Synced  bool   `json:"synced"`
	Warning string `json:"warning,omitempty"`
}

// StopResult is returned by Stop.
type StopResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TunnelStopped bool   `json:"tunnelStopped"`
}

// StatusResult describes the last deployment.
type StatusResult struct {
	Active       bool       `json:"active"`
	URL          *string    `json:"url"`
	ID           *string    `json:"id"`
	TunnelID     *string    `json:"tunnelId"`
	PublicURL    *string    `json:"publicUrl"`
	MobileURL    *string    `json:"mobileUrl"`
	DeploymentID *string    `json:"deploymentId"`
	CreatedAt    *time.Time `json:"createdAt"`
}
