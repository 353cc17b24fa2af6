package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/athena-bridge/internal/mobile"
)

// MobileInput represents input for the mobile tool.
type MobileInput struct {
	Action      string `json:"action" jsonschema:"Action: deploy, recover, password, status"`
	Repository  string `json:"repository,omitempty" jsonschema:"GitHub repository as owner/name (deploy, recover)"`
	Password    string `json:"password,omitempty" jsonschema:"Mobile login password (deploy, password)"`
	Branch      string `json:"branch,omitempty" jsonschema:"Git branch to deploy (default: main)"`
	ProjectName string `json:"project_name,omitempty" jsonschema:"Hosted project name (recover)"`
}

// MobileOutput represents output from the mobile tool.
type MobileOutput struct {
	Success      bool     `json:"success"`
	Active       bool     `json:"active,omitempty"`
	TunnelID     string   `json:"tunnel_id,omitempty"`
	PublicURL    string   `json:"public_url,omitempty"`
	MobileURL    string   `json:"mobile_url,omitempty"`
	DeploymentID string   `json:"deployment_id,omitempty"`
	Message      string   `json:"message,omitempty"`
	Warning      string   `json:"warning,omitempty"`
	Logs         []string `json:"logs,omitempty"`
}

// RegisterMobileTool registers the mobile MCP tool with the server.
func RegisterMobileTool(server *mcp.Server, tb *Toolbox) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "mobile",
		Description: `Deploy and manage the mobile companion for OS Athena.

Actions:
  deploy: Start a tunnel, verify the GitHub repository and deploy the companion to Vercel
  recover: Replace a dead tunnel and point an existing deployment at the new URL
  password: Change the mobile login password and sync it to the deployment
  status: Show the last deployment

Requires ngrok, Vercel and GitHub tokens (env NGROK_AUTHTOKEN, VERCEL_TOKEN, GITHUB_TOKEN or the local store).

Examples:
  mobile {action: "deploy", repository: "alice/os-athena-mobile", password: "secret123"}
  mobile {action: "recover", project_name: "os-athena-mobile", repository: "alice/os-athena-mobile"}
  mobile {action: "password", password: "new-secret"}
  mobile {action: "status"}`,
	}, tb.makeMobileHandler())
}

// makeMobileHandler creates a handler for the mobile tool.
func (tb *Toolbox) makeMobileHandler() func(context.Context, *mcp.CallToolRequest, MobileInput) (*mcp.CallToolResult, MobileOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input MobileInput) (*mcp.CallToolResult, MobileOutput, error) {
		switch input.Action {
		case "deploy":
			res, err := tb.mobile.Deploy(ctx, mobile.DeployRequest{
				Repository: input.Repository,
				Password:   input.Password,
				Branch:     input.Branch,
			})
			if err != nil {
				return failureResult(err), MobileOutput{}, nil
			}
			logs := make([]string, 0, len(res.Logs))
			for _, l := range res.Logs {
				logs = append(logs, l.Message)
			}
			return nil, MobileOutput{
				Success:      true,
				Active:       true,
				TunnelID:     res.Tunnel.ID,
				PublicURL:    res.Tunnel.PublicURL,
				MobileURL:    res.MobileURL,
				DeploymentID: res.Deployment.DeploymentID,
				Logs:         logs,
			}, nil

		case "recover":
			res, err := tb.mobile.RecoverTunnel(ctx, mobile.RecoverRequest{
				ProjectName: input.ProjectName,
				Repository:  input.Repository,
			})
			if err != nil {
				return failureResult(err), MobileOutput{}, nil
			}
			out := MobileOutput{
				Success:   true,
				TunnelID:  res.Tunnel.ID,
				PublicURL: res.Tunnel.PublicURL,
				Message:   res.Message,
			}
			if !res.EnvUpdated {
				out.Warning = "deployment environment was not updated"
			}
			return nil, out, nil

		case "password":
			res, err := tb.mobile.RotatePassword(ctx, mobile.PasswordRequest{NewPassword: input.Password})
			if err != nil {
				return failureResult(err), MobileOutput{}, nil
			}
			return nil, MobileOutput{Success: true, Message: res.Message, Warning: res.Warning}, nil

		case "status":
			st, err := tb.mobile.Status(ctx)
			if err != nil {
				return errorResult(fmt.Sprintf("status failed: %v", err)), MobileOutput{}, nil
			}
			out := MobileOutput{Success: true, Active: st.Active}
			if st.Active {
				out.TunnelID = deref(st.TunnelID)
				out.PublicURL = deref(st.PublicURL)
				out.MobileURL = deref(st.MobileURL)
				out.DeploymentID = deref(st.DeploymentID)
			} else {
				out.Message = "no mobile deployment"
			}
			return nil, out, nil

		default:
			return errorResult(fmt.Sprintf("unknown action: %s (use: deploy, recover, password, status)", input.Action)), MobileOutput{}, nil
		}
	}
}

// failureResult renders a coordinator failure with its action items.
func failureResult(err error) *mcp.CallToolResult {
	f, ok := mobile.AsFailure(err)
	if !ok {
		return errorResult(err.Error())
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", f.Message, f.Type)
	if len(f.Missing) > 0 {
		var missing []string
		for _, k := range []string{"ngrok", "vercel", "github"} {
			if f.Missing[k] {
				missing = append(missing, k)
			}
		}
		fmt.Fprintf(&b, "\nMissing: %s", strings.Join(missing, ", "))
	}
	if len(f.ActionItems) > 0 {
		b.WriteString("\nNext steps:")
		for _, a := range f.ActionItems {
			b.WriteString("\n  - ")
			b.WriteString(a)
		}
	}
	return errorResult(b.String())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
