// Package tools exposes tunnel and mobile deployment operations as MCP
// tools.
package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/athena-bridge/internal/installer"
	"github.com/standardbeagle/athena-bridge/internal/mobile"
	"github.com/standardbeagle/athena-bridge/internal/store"
	"github.com/standardbeagle/athena-bridge/internal/tunnel"
)

// Tunnels is the tunnel supervisor surface the tools use.
type Tunnels interface {
	Ensure(ctx context.Context, port int, authtoken string) (*tunnel.Tunnel, bool, error)
	StopPort(ctx context.Context, port int) (bool, error)
	Status(ctx context.Context, port int) tunnel.Status
}

// Installer checks for and installs the agent.
type Installer interface {
	Check(ctx context.Context) installer.Status
	Install(ctx context.Context, opts installer.Options) (*installer.Result, error)
}

// Mobile runs companion deployment operations.
type Mobile interface {
	Deploy(ctx context.Context, req mobile.DeployRequest) (*mobile.DeployResult, error)
	RecoverTunnel(ctx context.Context, req mobile.RecoverRequest) (*mobile.RecoverResult, error)
	RotatePassword(ctx context.Context, req mobile.PasswordRequest) (*mobile.PasswordResult, error)
	Stop(ctx context.Context) (*mobile.StopResult, error)
	Status(ctx context.Context) (*mobile.StatusResult, error)
}

// Toolbox holds the components behind the tools.
type Toolbox struct {
	tunnels   Tunnels
	installer Installer
	mobile    Mobile
	secrets   store.SecretStore
	port      int
}

// NewToolbox creates a Toolbox. port is the default tunnel port.
func NewToolbox(tunnels Tunnels, inst Installer, m Mobile, secrets store.SecretStore, port int) *Toolbox {
	return &Toolbox{tunnels: tunnels, installer: inst, mobile: m, secrets: secrets, port: port}
}

// Register adds every tool to server.
func Register(server *mcp.Server, tb *Toolbox) {
	RegisterTunnelTool(server, tb)
	RegisterMobileTool(server, tb)
}

// errorResult creates an error result for MCP tool responses.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
