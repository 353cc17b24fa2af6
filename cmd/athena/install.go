package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/athena-bridge/internal/config"
	"github.com/standardbeagle/athena-bridge/internal/installer"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download and install the ngrok agent",
	Long: `Download the ngrok agent for this platform, extract it and place it in
the user bin directory (~/.local/bin on Unix).

Skips the download when a current agent is already installed unless
--force is given.`,
	RunE: runInstall,
}

var installForce bool

func init() {
	installCmd.Flags().BoolVarP(&installForce, "force", "f", false, "Reinstall even if ngrok is present")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(config.RuntimeFromEnv(os.Getenv), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	res, err := a.installer.Install(ctx, installer.Options{
		Force: installForce,
		OnProgress: func(message string, percent int) {
			fmt.Fprintf(out, "[%3d%%] %s\n", percent, message)
		},
	})
	if err != nil {
		platform, _ := installer.CurrentPlatform()
		ins := installer.InstallInstructions(platform)
		fmt.Fprintf(cmd.ErrOrStderr(), "Install manually: %s\n  %s\n", ins.Command, ins.Description)
		return err
	}
	fmt.Fprintf(out, "ngrok %s installed at %s\n", res.Version, res.InstalledPath)
	return nil
}
