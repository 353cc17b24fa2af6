package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/athena-bridge/internal/config"
	"github.com/standardbeagle/athena-bridge/internal/store"
)

var secretNames = []string{store.SecretNgrok, store.SecretVercel, store.SecretGitHub}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Store deployment credentials",
	Long: `Store the ngrok, vercel and github tokens in the local database.

Environment variables (NGROK_AUTHTOKEN, VERCEL_TOKEN, GITHUB_TOKEN) take
precedence over stored values.`,
}

var secretSetCmd = &cobra.Command{
	Use:       "set NAME",
	Short:     "Set a credential (read without echo)",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: secretNames,
	RunE:      runSecretSet,
}

var secretDeleteCmd = &cobra.Command{
	Use:       "delete NAME",
	Short:     "Remove a stored credential",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: secretNames,
	RunE:      runSecretDelete,
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show which credentials are available",
	Args:  cobra.NoArgs,
	RunE:  runSecretList,
}

var secretValue string

func init() {
	secretSetCmd.Flags().StringVar(&secretValue, "value", "", "Credential value (prompted when omitted)")
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd, secretListCmd)
}

func openStore() (*store.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(store.DefaultPath(cfg.DataDir))
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	value, err := readPassword(cmd, secretValue, args[0]+" token: ")
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty %s token", args[0])
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SetSecret(cmd.Context(), args[0], value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s token saved\n", args[0])
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteSecret(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s token removed\n", args[0])
	return nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	a, err := newApp(config.RuntimeFromEnv(os.Getenv), appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	names := slices.Clone(secretNames)
	names = append(names, store.SecretMobilePassword)
	for _, name := range names {
		v, err := a.secrets.Secret(cmd.Context(), name)
		if err != nil {
			return err
		}
		state := "missing"
		if v != "" {
			state = "set"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", name, state)
	}
	return nil
}
