package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/standardbeagle/athena-bridge/internal/config"
	"github.com/standardbeagle/athena-bridge/internal/installer"
	"github.com/standardbeagle/athena-bridge/internal/mobile"
	"github.com/standardbeagle/athena-bridge/internal/store"
	"github.com/standardbeagle/athena-bridge/internal/tunnel"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg         *config.Config
	runtime     config.Runtime
	db          *store.DB
	secrets     *store.EnvSecrets
	installer   *installer.Installer
	supervisor  *tunnel.Supervisor
	coordinator *mobile.Coordinator
}

type appOptions struct {
	// withStore opens the local database; the hosted companion runs
	// without one.
	withStore bool
	// logOut receives component logs; stdio MCP keeps stdout clean.
	logOut io.Writer
}

func newLogger(out io.Writer, prefix string) *log.Logger {
	return log.NewWithOptions(out, log.Options{
		Prefix: prefix,
		Level:  log.GetLevel(),
	})
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfigFile(configPath)
	}
	return config.LoadGlobalConfig()
}

// newApp loads configuration and builds every component.
func newApp(rt config.Runtime, opts appOptions) (*app, error) {
	if opts.logOut == nil {
		opts.logOut = os.Stderr
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{cfg: cfg, runtime: rt}

	var backing store.SecretStore
	var deployments mobile.Deployments
	if opts.withStore {
		db, err := store.Open(store.DefaultPath(cfg.DataDir))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.db = db
		backing = db
		deployments = db
	}
	a.secrets = store.NewEnvSecrets(backing, os.Getenv)

	instCfg := installer.DefaultConfig()
	instCfg.BinaryName = cfg.Tunnel.Binary
	if cfg.Installer.BinDir != "" {
		instCfg.BinDir = cfg.Installer.BinDir
	}
	instCfg.ExtraDirs = cfg.Tunnel.ExtraDirs
	instCfg.VersionTimeout = cfg.Installer.VersionTimeout
	a.installer = installer.New(instCfg, installer.WithLogger(newLogger(opts.logOut, "installer")))

	tunCfg := tunnel.DefaultConfig()
	tunCfg.Binary = cfg.Tunnel.Binary
	tunCfg.ExtraDirs = append(append([]string{}, cfg.Tunnel.ExtraDirs...), a.installer.BinDir())
	tunCfg.StartTimeout = cfg.Tunnel.StartTimeout
	tunCfg.PollInterval = cfg.Tunnel.PollInterval
	tunCfg.AgentAPI = cfg.Tunnel.AgentAPI
	tunCfg.AuthtokenEnv = cfg.Tunnel.AuthtokenEnv
	a.supervisor = tunnel.NewSupervisor(tunCfg, tunnel.WithLogger(newLogger(opts.logOut, "tunnel")))

	a.coordinator = mobile.NewCoordinator(mobile.Config{
		Port:        cfg.Port,
		Branch:      cfg.Mobile.Branch,
		EnvFile:     cfg.Mobile.EnvFile,
		MinPassword: cfg.Mobile.MinPassword,
		RemoteMode:  rt.RemoteMode,
	}, a.secrets, a.supervisor, deployments, mobile.WithLogger(newLogger(opts.logOut, "mobile")))

	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
