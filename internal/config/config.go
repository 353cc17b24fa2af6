// Package config loads athena settings from a KDL file and the runtime
// mode from the process environment.
package config

import (
	"fmt"
	"time"
)

// DefaultPort is the port the desktop instance serves on and the port
// tunnels expose.
const DefaultPort = 3456

// Config holds the complete configuration.
type Config struct {
	// Port is the local HTTP port.
	Port int `json:"port"`
	// DataDir holds the SQLite database.
	DataDir string `json:"data_dir,omitempty"`

	Tunnel    TunnelConfig    `json:"tunnel"`
	Installer InstallerConfig `json:"installer"`
	Mobile    MobileConfig    `json:"mobile"`
	Gateway   GatewayConfig   `json:"gateway"`
}

// TunnelConfig configures the tunnel supervisor.
type TunnelConfig struct {
	// Binary is the agent executable name or path.
	Binary string `json:"binary"`
	// ExtraDirs are searched before the platform defaults and PATH.
	ExtraDirs    []string      `json:"extra_dirs,omitempty"`
	StartTimeout time.Duration `json:"start_timeout"`
	PollInterval time.Duration `json:"poll_interval"`
	// AgentAPI is the agent's local control API.
	AgentAPI string `json:"agent_api"`
	// AuthtokenEnv is the variable the token is exported as to the agent.
	AuthtokenEnv string `json:"authtoken_env"`
}

// InstallerConfig configures agent installation.
type InstallerConfig struct {
	// BinDir is where installed binaries go; empty means the user bin dir.
	BinDir         string        `json:"bin_dir,omitempty"`
	VersionTimeout time.Duration `json:"version_timeout"`
}

// MobileConfig configures companion deployments.
type MobileConfig struct {
	Branch string `json:"branch"`
	// EnvFile supplies extra variables copied into the deployment.
	EnvFile     string `json:"env_file"`
	MinPassword int    `json:"min_password"`
}

// GatewayConfig configures the companion-side gateway.
type GatewayConfig struct {
	SessionTTL      time.Duration `json:"session_ttl"`
	ForwardPrefixes []string      `json:"forward_prefixes"`
	// LoginPerMinute bounds login attempts per client address.
	LoginPerMinute int `json:"login_per_minute"`
	// TrustedProxyHops counts proxies that append to X-Forwarded-For.
	TrustedProxyHops int `json:"trusted_proxy_hops,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Port: DefaultPort,
		Tunnel: TunnelConfig{
			Binary:       "ngrok",
			StartTimeout: 30 * time.Second,
			PollInterval: 500 * time.Millisecond,
			AgentAPI:     "http://127.0.0.1:4040",
			AuthtokenEnv: "NGROK_AUTHTOKEN",
		},
		Installer: InstallerConfig{
			VersionTimeout: 10 * time.Second,
		},
		Mobile: MobileConfig{
			Branch:      "main",
			EnvFile:     ".env.local",
			MinPassword: 4,
		},
		Gateway: GatewayConfig{
			SessionTTL:      24 * time.Hour,
			ForwardPrefixes: []string{"/api/chat/", "/api/models/"},
			LoginPerMinute:  10,
		},
	}
}

// Validate checks the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Tunnel.Binary == "" {
		c.Tunnel.Binary = def.Tunnel.Binary
	}
	if c.Tunnel.StartTimeout <= 0 {
		c.Tunnel.StartTimeout = def.Tunnel.StartTimeout
	}
	if c.Tunnel.PollInterval <= 0 {
		c.Tunnel.PollInterval = def.Tunnel.PollInterval
	}
	if c.Tunnel.PollInterval >= c.Tunnel.StartTimeout {
		return fmt.Errorf("tunnel poll interval %s must be shorter than start timeout %s",
			c.Tunnel.PollInterval, c.Tunnel.StartTimeout)
	}
	if c.Tunnel.AgentAPI == "" {
		c.Tunnel.AgentAPI = def.Tunnel.AgentAPI
	}
	if c.Tunnel.AuthtokenEnv == "" {
		c.Tunnel.AuthtokenEnv = def.Tunnel.AuthtokenEnv
	}
	if c.Installer.VersionTimeout <= 0 {
		c.Installer.VersionTimeout = def.Installer.VersionTimeout
	}
	if c.Mobile.Branch == "" {
		c.Mobile.Branch = def.Mobile.Branch
	}
	if c.Mobile.MinPassword <= 0 {
		c.Mobile.MinPassword = def.Mobile.MinPassword
	}
	if c.Gateway.SessionTTL <= 0 {
		c.Gateway.SessionTTL = def.Gateway.SessionTTL
	}
	if len(c.Gateway.ForwardPrefixes) == 0 {
		c.Gateway.ForwardPrefixes = def.Gateway.ForwardPrefixes
	}
	if c.Gateway.LoginPerMinute <= 0 {
		c.Gateway.LoginPerMinute = def.Gateway.LoginPerMinute
	}
	return nil
}
