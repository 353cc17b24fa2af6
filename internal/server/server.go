// Package server is the desktop HTTP API: tunnel status and control,
// agent installation and the loopback-only mobile deployment endpoints.
// The companion gateway routes are mounted alongside.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/standardbeagle/athena-bridge/internal/gateway"
	"github.com/standardbeagle/athena-bridge/internal/installer"
	"github.com/standardbeagle/athena-bridge/internal/mobile"
	"github.com/standardbeagle/athena-bridge/internal/store"
	"github.com/standardbeagle/athena-bridge/internal/tunnel"
)

// Installer checks for and installs the agent.
type Installer interface {
	Check(ctx context.Context) installer.Status
	Install(ctx context.Context, opts installer.Options) (*installer.Result, error)
}

// Tunnels reports and ensures tunnels.
type Tunnels interface {
	Ensure(ctx context.Context, port int, authtoken string) (*tunnel.Tunnel, bool, error)
	Status(ctx context.Context, port int) tunnel.Status
}

// Mobile runs companion deployment operations.
type Mobile interface {
	Deploy(ctx context.Context, req mobile.DeployRequest) (*mobile.DeployResult, error)
	RecoverTunnel(ctx context.Context, req mobile.RecoverRequest) (*mobile.RecoverResult, error)
	RotatePassword(ctx context.Context, req mobile.PasswordRequest) (*mobile.PasswordResult, error)
	Stop(ctx context.Context) (*mobile.StopResult, error)
	Status(ctx context.Context) (*mobile.StatusResult, error)
}

// Deps are the components the server exposes.
type Deps struct {
	Installer Installer
	Tunnels   Tunnels
	Mobile    Mobile
	Secrets   store.SecretStore
	// Gateway is optional; its routes are mounted when set.
	Gateway *gateway.Gateway
	// Pages serves everything else; defaults to 404.
	Pages http.Handler
}

// Config holds server settings.
type Config struct {
	Addr string
	// Port is the local port tunnels expose by default.
	Port       int
	RemoteMode bool
	// Platform is reported by /tunnel/status; defaults to this host.
	Platform string
}

// Server is the desktop HTTP API.
type Server struct {
	config   Config
	deps     Deps
	logger   *log.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu         sync.Mutex
	httpServer *http.Server
	installing sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *log.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a Server.
func New(cfg Config, deps Deps, opts ...Option) *Server {
	if cfg.Port == 0 {
		cfg.Port = 3456
	}
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
	if cfg.Platform == "" {
		cfg.Platform, _ = installer.CurrentPlatform()
	}
	if deps.Pages == nil {
		deps.Pages = http.NotFoundHandler()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "server"}),
		upgrader: websocket.Upgrader{
			CheckOrigin: loopbackOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	const localOnly = "This endpoint is only available from localhost"
	const ngrokLocal = "Ngrok management is only available locally"
	mux.HandleFunc("GET /tunnel/status", s.local(ngrokLocal, localOnly, s.handleTunnelStatus))
	mux.HandleFunc("POST /tunnel/status", s.local(ngrokLocal, localOnly, s.handleTunnelAction))
	mux.HandleFunc("GET /tunnel/install", s.local(ngrokLocal, localOnly, s.handleInstallCheck))
	mux.HandleFunc("POST /tunnel/install", s.local(ngrokLocal, localOnly, s.handleInstall))
	mux.HandleFunc("GET /tunnel/install/stream", s.local(ngrokLocal, localOnly, s.handleInstallStream))

	const mobileLocal = "Mobile deployment is only available locally"
	mux.HandleFunc("POST /mobile/deploy", s.local(mobileLocal, "Mobile deployment only allowed from localhost", s.handleDeploy))
	mux.HandleFunc("POST /mobile/recover-tunnel", s.local(mobileLocal, "Tunnel recovery only allowed from localhost", s.handleRecover))
	mux.HandleFunc("POST /mobile/password", s.local(mobileLocal, "Password change only allowed from localhost", s.handlePassword))
	mux.HandleFunc("POST /mobile/stop", s.local(mobileLocal, "Unauthorized - stop deployment only allowed from localhost", s.handleStop))
	mux.HandleFunc("GET /mobile/status", s.local(mobileLocal, localOnly, s.handleMobileStatus))

	pages := s.deps.Pages
	if s.deps.Gateway != nil {
		s.deps.Gateway.Register(mux)
		pages = s.deps.Gateway.RequireSession(pages)
	}
	mux.Handle("/", pages)
	return mux
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()
	s.logger.Info("listening", "addr", listener.Addr().String(), "remote_mode", s.config.RemoteMode)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"remoteMode": s.config.RemoteMode,
	})
}
