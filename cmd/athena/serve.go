package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/athena-bridge/internal/config"
	"github.com/standardbeagle/athena-bridge/internal/gateway"
	"github.com/standardbeagle/athena-bridge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API.

On the desktop this serves the loopback-only tunnel and mobile routes.
With --remote (or OS_REMOTE_MODE=true) it runs as the hosted companion:
login, session checks and forwarding of chat and model requests to the
tunnel in OS_PUBLIC_URL.`,
	RunE: runServe,
}

var (
	serveAddr      string
	serveRemote    bool
	serveEnvFile   string
	serveStaticDir string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default 127.0.0.1:<port>, 0.0.0.0:<port> with --remote)")
	serveCmd.Flags().BoolVar(&serveRemote, "remote", false, "Run as the hosted companion gateway")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", "", "Load environment variables from this file first")
	serveCmd.Flags().StringVar(&serveStaticDir, "static", "", "Directory of pages served behind the session check")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	if serveEnvFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(serveEnvFile); err != nil {
			return err
		}
	}

	rt := config.RuntimeFromEnv(os.Getenv)
	if serveRemote {
		rt.RemoteMode = true
	}

	a, err := newApp(rt, appOptions{withStore: !rt.RemoteMode})
	if err != nil {
		return err
	}
	defer a.Close()

	gw, err := gateway.New(gateway.Config{
		RemoteMode:       rt.RemoteMode,
		PublicURL:        rt.PublicURL,
		Password:         rt.MobilePassword,
		SessionTTL:       a.cfg.Gateway.SessionTTL,
		ForwardPrefixes:  a.cfg.Gateway.ForwardPrefixes,
		LoginPerMinute:   a.cfg.Gateway.LoginPerMinute,
		TrustedProxyHops: a.cfg.Gateway.TrustedProxyHops,
	}, gateway.WithLogger(newLogger(os.Stderr, "gateway")))
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" && rt.RemoteMode {
		addr = ":" + strconv.Itoa(a.cfg.Port)
	}

	deps := server.Deps{
		Installer: a.installer,
		Tunnels:   a.supervisor,
		Mobile:    a.coordinator,
		Secrets:   a.secrets,
		Gateway:   gw,
	}
	if serveStaticDir != "" {
		deps.Pages = http.FileServer(http.Dir(serveStaticDir))
	}

	srv := server.New(server.Config{
		Addr:       addr,
		Port:       a.cfg.Port,
		RemoteMode: rt.RemoteMode,
	}, deps, server.WithLogger(newLogger(os.Stderr, "server")))

	logger := newLogger(os.Stderr, appName)
	logger.Info("starting", "version", appVersion, "remote", rt.RemoteMode)

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
