package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/standardbeagle/athena-bridge/internal/config"
	"github.com/standardbeagle/athena-bridge/internal/mobile"
)

var mobileCmd = &cobra.Command{
	Use:   "mobile",
	Short: "Deploy and manage the mobile companion",
}

var mobileDeployCmd = &cobra.Command{
	Use:   "deploy OWNER/REPO",
	Short: "Open a tunnel and deploy the companion to Vercel",
	Args:  cobra.ExactArgs(1),
	RunE:  runMobileDeploy,
}

var mobileRecoverCmd = &cobra.Command{
	Use:   "recover PROJECT OWNER/REPO",
	Short: "Restart the tunnel and point the deployment at the new URL",
	Args:  cobra.ExactArgs(2),
	RunE:  runMobileRecover,
}

var mobilePasswordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change the companion password",
	Args:  cobra.NoArgs,
	RunE:  runMobilePassword,
}

var mobileStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last deployment",
	Args:  cobra.NoArgs,
	RunE:  runMobileStatus,
}

var mobileStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the tunnel and forget the deployment",
	Args:  cobra.NoArgs,
	RunE:  runMobileStop,
}

var (
	mobilePassword string
	mobileBranch   string
)

func init() {
	mobileDeployCmd.Flags().StringVar(&mobilePassword, "password", "", "Companion password (prompted when omitted)")
	mobileDeployCmd.Flags().StringVar(&mobileBranch, "branch", "", "Branch to deploy (default from config)")
	mobilePasswordCmd.Flags().StringVar(&mobilePassword, "password", "", "New password (prompted when omitted)")

	mobileCmd.AddCommand(mobileDeployCmd, mobileRecoverCmd, mobilePasswordCmd, mobileStatusCmd, mobileStopCmd)
}

func mobileApp() (*app, error) {
	return newApp(config.RuntimeFromEnv(os.Getenv), appOptions{withStore: true})
}

// readPassword returns flag when set, otherwise prompts without echo.
func readPassword(cmd *cobra.Command, flag, prompt string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal for password prompt, use --password")
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// printFailure writes the failure's guidance and returns it for the exit status.
func printFailure(w io.Writer, err error) error {
	f, ok := mobile.AsFailure(err)
	if !ok {
		return err
	}
	for _, entry := range f.Logs {
		fmt.Fprintf(w, "  [%s] %s\n", entry.Type, entry.Message)
	}
	if len(f.Missing) > 0 {
		var names []string
		for name, missing := range f.Missing {
			if missing {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			slices.Sort(names)
			fmt.Fprintf(w, "Missing: %s\n", strings.Join(names, ", "))
		}
	}
	for _, item := range f.ActionItems {
		fmt.Fprintf(w, "  - %s\n", item)
	}
	return err
}

func runMobileDeploy(cmd *cobra.Command, args []string) error {
	a, err := mobileApp()
	if err != nil {
		return err
	}
	defer a.Close()

	password, err := readPassword(cmd, mobilePassword, "Companion password: ")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	res, err := a.coordinator.Deploy(cmd.Context(), mobile.DeployRequest{
		Repository: args[0],
		Password:   password,
		Branch:     mobileBranch,
	})
	if err != nil {
		return printFailure(cmd.ErrOrStderr(), err)
	}
	for _, entry := range res.Logs {
		fmt.Fprintf(out, "  [%s] %s\n", entry.Type, entry.Message)
	}
	fmt.Fprintf(out, "Companion: %s\nTunnel:    %s\n", res.MobileURL, res.Tunnel.PublicURL)
	return nil
}

func runMobileRecover(cmd *cobra.Command, args []string) error {
	a, err := mobileApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.coordinator.RecoverTunnel(cmd.Context(), mobile.RecoverRequest{
		ProjectName: args[0],
		Repository:  args[1],
	})
	if err != nil {
		return printFailure(cmd.ErrOrStderr(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\nTunnel: %s\n", res.Message, res.Tunnel.PublicURL)
	if !res.EnvUpdated {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: the deployment environment was not updated; redeploy to pick up the new URL")
	}
	return nil
}

func runMobilePassword(cmd *cobra.Command, args []string) error {
	a, err := mobileApp()
	if err != nil {
		return err
	}
	defer a.Close()

	password, err := readPassword(cmd, mobilePassword, "New companion password: ")
	if err != nil {
		return err
	}
	res, err := a.coordinator.RotatePassword(cmd.Context(), mobile.PasswordRequest{NewPassword: password})
	if err != nil {
		return printFailure(cmd.ErrOrStderr(), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	if res.Warning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", res.Warning)
	}
	return nil
}

func runMobileStatus(cmd *cobra.Command, args []string) error {
	a, err := mobileApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.coordinator.Status(cmd.Context())
	if err != nil {
		return printFailure(cmd.ErrOrStderr(), err)
	}
	out := cmd.OutOrStdout()
	if !st.Active {
		fmt.Fprintln(out, "No active deployment")
		return nil
	}
	fmt.Fprintf(out, "Companion: %s\n", orNone(st.MobileURL))
	fmt.Fprintf(out, "Tunnel:    %s\n", orNone(st.PublicURL))
	if st.CreatedAt != nil {
		fmt.Fprintf(out, "Deployed:  %s\n", st.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runMobileStop(cmd *cobra.Command, args []string) error {
	a, err := mobileApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.coordinator.Stop(cmd.Context())
	if err != nil {
		return printFailure(cmd.ErrOrStderr(), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

func orNone(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
