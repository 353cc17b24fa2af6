package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName    = "athena"
	appVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Tunnel and remote-access bridge for OS Athena",
	Long: `Athena exposes the local OS Athena instance to a mobile companion:
  - Installs and supervises the ngrok agent for the local port
  - Deploys the companion to Vercel from a GitHub repository
  - Runs the desktop API, or the companion gateway with --remote
  - MCP server exposing tunnel and mobile tools`,
	Version: appVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
		}
		log.SetLevel(level)
		return nil
	},
	// Default behavior: if stdin is not a terminal, run as MCP server
	Run: func(cmd *cobra.Command, args []string) {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			runMCP(cmd, args)
		} else {
			_ = cmd.Help()
		}
	},
}

var (
	logLevel   string
	configPath string
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/athena/config.kdl)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tunnelCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(mobileCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(configCmd)

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
