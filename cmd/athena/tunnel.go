package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/athena-bridge/internal/config"
	"github.com/standardbeagle/athena-bridge/internal/installer"
	"github.com/standardbeagle/athena-bridge/internal/store"
	"github.com/standardbeagle/athena-bridge/internal/tunnel"
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Manage the ngrok tunnel for the local port",
}

var tunnelStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent and tunnel state",
	RunE:  runTunnelStatus,
}

var tunnelEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Reuse or start a tunnel",
	Long: `Reuse a tunnel already serving the port or start the ngrok agent.

When this command starts the agent it stays in the foreground and stops
the agent on interrupt.`,
	RunE: runTunnelEnsure,
}

var tunnelStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the tunnel for the port",
	RunE:  runTunnelStop,
}

var tunnelPort int

func init() {
	tunnelCmd.PersistentFlags().IntVarP(&tunnelPort, "port", "p", 0, "Local port (default from config)")
	tunnelCmd.AddCommand(tunnelStatusCmd, tunnelEnsureCmd, tunnelStopCmd)
}

func tunnelApp() (*app, int, error) {
	a, err := newApp(config.RuntimeFromEnv(os.Getenv), appOptions{withStore: true})
	if err != nil {
		return nil, 0, err
	}
	port := tunnelPort
	if port == 0 {
		port = a.cfg.Port
	}
	return a, port, nil
}

func runTunnelStatus(cmd *cobra.Command, args []string) error {
	a, port, err := tunnelApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	inst := a.installer.Check(ctx)
	st := a.supervisor.Status(ctx, port)

	out := cmd.OutOrStdout()
	if inst.Installed {
		fmt.Fprintf(out, "ngrok:   %s (%s)\n", inst.Path, inst.Version)
		if inst.Outdated {
			fmt.Fprintln(out, "         outdated, run: athena install --force")
		}
	} else {
		platform, _ := installer.CurrentPlatform()
		fmt.Fprintf(out, "ngrok:   not installed (%s)\n", installer.InstallInstructions(platform).Command)
	}
	fmt.Fprintf(out, "agent:   %s\n", runningWord(st.AgentRunning))
	if st.Tunnel != nil {
		fmt.Fprintf(out, "tunnel:  %s -> localhost:%d\n", st.Tunnel.PublicURL, port)
	} else {
		fmt.Fprintf(out, "tunnel:  none for port %d\n", port)
	}
	return nil
}

func runTunnelEnsure(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, port, err := tunnelApp()
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.secrets.Secret(ctx, store.SecretNgrok)
	if err != nil {
		return err
	}

	t, started, err := a.supervisor.Ensure(ctx, port, token)
	if err != nil {
		if errors.Is(err, tunnel.ErrAgentNotFound) {
			return fmt.Errorf("%w: run athena install", err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s -> localhost:%d\n", t.PublicURL, port)
	if !started {
		fmt.Fprintln(out, "reusing existing tunnel")
		return nil
	}

	fmt.Fprintln(out, "agent started, press Ctrl+C to stop")
	<-ctx.Done()

	stopCtx, stop := context.WithTimeout(context.Background(), a.cfg.Tunnel.StartTimeout)
	defer stop()
	if _, err := a.supervisor.StopPort(stopCtx, port); err != nil {
		return err
	}
	fmt.Fprintln(out, "tunnel stopped")
	return nil
}

func runTunnelStop(cmd *cobra.Command, args []string) error {
	a, port, err := tunnelApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stopped, err := a.supervisor.StopPort(cmd.Context(), port)
	if err != nil {
		return err
	}
	if stopped {
		fmt.Fprintf(cmd.OutOrStdout(), "tunnel for port %d stopped\n", port)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "no tunnel for port %d\n", port)
	}
	return nil
}

func runningWord(b bool) string {
	if b {
		return "running"
	}
	return "not running"
}
