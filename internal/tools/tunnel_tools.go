package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/athena-bridge/internal/installer"
	"github.com/standardbeagle/athena-bridge/internal/store"
)

// TunnelInput represents input for the tunnel tool.
type TunnelInput struct {
	Action string `json:"action" jsonschema:"Action: status, ensure, stop, install"`
	Port   int    `json:"port,omitempty" jsonschema:"Local port to tunnel (default: 3456)"`
	Force  bool   `json:"force,omitempty" jsonschema:"Reinstall even if ngrok is already present (install only)"`
}

// TunnelOutput represents output from the tunnel tool.
type TunnelOutput struct {
	Port         int      `json:"port,omitempty"`
	Installed    bool     `json:"installed"`
	AgentRunning bool     `json:"agent_running"`
	Running      bool     `json:"running"`
	ID           string   `json:"id,omitempty"`
	PublicURL    string   `json:"public_url,omitempty"`
	Owned        bool     `json:"owned,omitempty"`
	Started      bool     `json:"started,omitempty"`
	Stopped      bool     `json:"stopped,omitempty"`
	Path         string   `json:"path,omitempty"`
	Version      string   `json:"version,omitempty"`
	Progress     []string `json:"progress,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// RegisterTunnelTool registers the tunnel MCP tool with the server.
func RegisterTunnelTool(server *mcp.Server, tb *Toolbox) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "tunnel",
		Description: `Manage the ngrok tunnel that exposes the local OS Athena port.

Actions:
  status: Report whether ngrok is installed, whether an agent is running, and the public URL
  ensure: Reuse the tunnel for the port or start a new agent, then return its public URL
  stop: Stop the tunnel for the port
  install: Download and install the ngrok agent into the user bin directory

Examples:
  tunnel {action: "status"}
  tunnel {action: "ensure", port: 3456}
  tunnel {action: "install", force: true}
  tunnel {action: "stop"}`,
	}, tb.makeTunnelHandler())
}

// makeTunnelHandler creates a handler for the tunnel tool.
func (tb *Toolbox) makeTunnelHandler() func(context.Context, *mcp.CallToolRequest, TunnelInput) (*mcp.CallToolResult, TunnelOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TunnelInput) (*mcp.CallToolResult, TunnelOutput, error) {
		port := input.Port
		if port == 0 {
			port = tb.port
		}
		if port < 0 || port > 65535 {
			return errorResult(fmt.Sprintf("invalid port %d", port)), TunnelOutput{}, nil
		}

		switch input.Action {
		case "status":
			return tb.handleTunnelStatus(ctx, port)
		case "ensure":
			return tb.handleTunnelEnsure(ctx, port)
		case "stop":
			return tb.handleTunnelStop(ctx, port)
		case "install":
			return tb.handleTunnelInstall(ctx, input.Force)
		default:
			return errorResult(fmt.Sprintf("unknown action: %s (use: status, ensure, stop, install)", input.Action)), TunnelOutput{}, nil
		}
	}
}

func (tb *Toolbox) handleTunnelStatus(ctx context.Context, port int) (*mcp.CallToolResult, TunnelOutput, error) {
	inst := tb.installer.Check(ctx)
	st := tb.tunnels.Status(ctx, port)

	out := TunnelOutput{
		Port:         port,
		Installed:    inst.Installed,
		AgentRunning: st.AgentRunning,
		Running:      st.Running,
		Path:         inst.Path,
		Version:      inst.Version,
	}
	if st.Tunnel != nil {
		out.ID = st.Tunnel.ID
		out.PublicURL = st.Tunnel.PublicURL
		out.Owned = st.Tunnel.Owned
	}
	if !inst.Installed {
		platform, _ := installer.CurrentPlatform()
		in := installer.InstallInstructions(platform)
		out.Message = fmt.Sprintf("ngrok is not installed. Run the install action, or: %s", in.Command)
	}
	return nil, out, nil
}

func (tb *Toolbox) handleTunnelEnsure(ctx context.Context, port int) (*mcp.CallToolResult, TunnelOutput, error) {
	authtoken := ""
	if tb.secrets != nil {
		authtoken, _ = tb.secrets.Secret(ctx, store.SecretNgrok)
	}

	t, started, err := tb.tunnels.Ensure(ctx, port, authtoken)
	if err != nil {
		return errorResult(fmt.Sprintf("tunnel start failed: %v", err)), TunnelOutput{Port: port}, nil
	}
	return nil, TunnelOutput{
		Port:         port,
		Installed:    true,
		AgentRunning: true,
		Running:      true,
		ID:           t.ID,
		PublicURL:    t.PublicURL,
		Owned:        t.Owned,
		Started:      started,
	}, nil
}

func (tb *Toolbox) handleTunnelStop(ctx context.Context, port int) (*mcp.CallToolResult, TunnelOutput, error) {
	stopped, err := tb.tunnels.StopPort(ctx, port)
	if err != nil {
		return errorResult(fmt.Sprintf("tunnel stop failed: %v", err)), TunnelOutput{Port: port}, nil
	}
	out := TunnelOutput{Port: port, Stopped: stopped, Message: "no tunnel running"}
	if stopped {
		out.Message = "tunnel stopped"
	}
	return nil, out, nil
}

func (tb *Toolbox) handleTunnelInstall(ctx context.Context, force bool) (*mcp.CallToolResult, TunnelOutput, error) {
	var progress []string
	res, err := tb.installer.Install(ctx, installer.Options{
		Force: force,
		OnProgress: func(message string, percent int) {
			progress = append(progress, fmt.Sprintf("[%3d%%] %s", percent, message))
		},
	})
	if err != nil {
		return errorResult(fmt.Sprintf("install failed: %s", res.Error)), TunnelOutput{Progress: progress}, nil
	}
	return nil, TunnelOutput{
		Installed: true,
		Path:      res.InstalledPath,
		Version:   res.Version,
		Progress:  progress,
		Message:   "ngrok installed",
	}, nil
}
