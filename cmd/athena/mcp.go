package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/athena-bridge/internal/config"
	"github.com/standardbeagle/athena-bridge/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as MCP server",
	Long: `Run as an MCP (Model Context Protocol) server over stdio.

Exposes the tunnel and mobile tools to MCP clients. Logs go to stderr so
stdout carries only protocol traffic.`,
	Run: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) {
	// Create root context with signal cancellation
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	logger := newLogger(os.Stderr, appName)

	a, err := newApp(config.RuntimeFromEnv(os.Getenv), appOptions{withStore: true, logOut: os.Stderr})
	if err != nil {
		logger.Fatal("startup failed", "error", err)
	}
	defer a.Close()

	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    appName,
			Version: appVersion,
		},
		&mcp.ServerOptions{
			HasTools: true,
			Instructions: fmt.Sprintf(`Tunnel and mobile companion manager for the local OS Athena instance on port %d.

Available tools:
- tunnel: ngrok agent and tunnel lifecycle (status, ensure, stop, install)
- mobile: companion deployment (deploy, recover, password, status)

Credentials come from the local store or NGROK_AUTHTOKEN, VERCEL_TOKEN and GITHUB_TOKEN.`, a.cfg.Port),
		},
	)

	tools.Register(server, tools.NewToolbox(a.supervisor, a.installer, a.coordinator, a.secrets, a.cfg.Port))

	logger.Info("starting", "version", appVersion, "transport", "stdio")

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		if ctx.Err() == nil {
			logger.Fatal("server error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
