package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// GlobalConfigFile is the configuration file name.
const GlobalConfigFile = "config.kdl"

// KDLConfig represents the KDL configuration structure.
// Uses kdl struct tags for unmarshaling.
type KDLConfig struct {
	Port      int          `kdl:"port"`
	DataDir   string       `kdl:"data-dir"`
	Tunnel    KDLTunnel    `kdl:"tunnel"`
	Installer KDLInstaller `kdl:"installer"`
	Mobile    KDLMobile    `kdl:"mobile"`
	Gateway   KDLGateway   `kdl:"gateway"`
}

// KDLTunnel holds tunnel settings from KDL.
type KDLTunnel struct {
	Binary         string   `kdl:"binary"`
	ExtraDirs      []string `kdl:"extra-dirs"`
	StartTimeout   int      `kdl:"start-timeout"`
	PollIntervalMs int      `kdl:"poll-interval-ms"`
	AgentAPI       string   `kdl:"agent-api"`
	AuthtokenEnv   string   `kdl:"authtoken-env"`
}

// KDLInstaller holds installer settings from KDL.
type KDLInstaller struct {
	BinDir         string `kdl:"bin-dir"`
	VersionTimeout int    `kdl:"version-timeout"`
}

// KDLMobile holds deployment settings from KDL.
type KDLMobile struct {
	Branch      string `kdl:"branch"`
	EnvFile     string `kdl:"env-file"`
	MinPassword int    `kdl:"min-password"`
}

// KDLGateway holds gateway settings from KDL.
type KDLGateway struct {
	SessionTTLHours  int      `kdl:"session-ttl-hours"`
	ForwardPrefixes  []string `kdl:"forward-prefixes"`
	LoginPerMinute   int      `kdl:"login-per-minute"`
	TrustedProxyHops int      `kdl:"trusted-proxy-hops"`
}

// LoadGlobalConfig loads the configuration from the default location.
func LoadGlobalConfig() (*Config, error) {
	configPath := GlobalConfigPath()
	if configPath == "" {
		return DefaultConfig(), nil
	}

	// If file doesn't exist, return defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return LoadConfigFile(configPath)
}

// LoadConfigFile loads configuration from a specific file path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseKDLConfig(string(data))
}

// ParseKDLConfig parses KDL configuration data.
func ParseKDLConfig(data string) (*Config, error) {
	var kdlCfg KDLConfig
	if err := kdl.Unmarshal([]byte(data), &kdlCfg); err != nil {
		return nil, err
	}

	cfg := kdlConfigToConfig(&kdlCfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// kdlConfigToConfig converts KDL config to our Config type.
func kdlConfigToConfig(k *KDLConfig) *Config {
	cfg := DefaultConfig()

	if k.Port != 0 {
		cfg.Port = k.Port
	}
	if k.DataDir != "" {
		cfg.DataDir = expandHome(k.DataDir)
	}

	// Tunnel
	if k.Tunnel.Binary != "" {
		cfg.Tunnel.Binary = expandHome(k.Tunnel.Binary)
	}
	for _, dir := range k.Tunnel.ExtraDirs {
		cfg.Tunnel.ExtraDirs = append(cfg.Tunnel.ExtraDirs, expandHome(dir))
	}
	if k.Tunnel.StartTimeout > 0 {
		cfg.Tunnel.StartTimeout = time.Duration(k.Tunnel.StartTimeout) * time.Second
	}
	if k.Tunnel.PollIntervalMs > 0 {
		cfg.Tunnel.PollInterval = time.Duration(k.Tunnel.PollIntervalMs) * time.Millisecond
	}
	if k.Tunnel.AgentAPI != "" {
		cfg.Tunnel.AgentAPI = k.Tunnel.AgentAPI
	}
	if k.Tunnel.AuthtokenEnv != "" {
		cfg.Tunnel.AuthtokenEnv = k.Tunnel.AuthtokenEnv
	}

	// Installer
	if k.Installer.BinDir != "" {
		cfg.Installer.BinDir = expandHome(k.Installer.BinDir)
	}
	if k.Installer.VersionTimeout > 0 {
		cfg.Installer.VersionTimeout = time.Duration(k.Installer.VersionTimeout) * time.Second
	}

	// Mobile
	if k.Mobile.Branch != "" {
		cfg.Mobile.Branch = k.Mobile.Branch
	}
	if k.Mobile.EnvFile != "" {
		cfg.Mobile.EnvFile = expandHome(k.Mobile.EnvFile)
	}
	if k.Mobile.MinPassword > 0 {
		cfg.Mobile.MinPassword = k.Mobile.MinPassword
	}

	// Gateway
	if k.Gateway.SessionTTLHours > 0 {
		cfg.Gateway.SessionTTL = time.Duration(k.Gateway.SessionTTLHours) * time.Hour
	}
	if len(k.Gateway.ForwardPrefixes) > 0 {
		cfg.Gateway.ForwardPrefixes = k.Gateway.ForwardPrefixes
	}
	if k.Gateway.LoginPerMinute > 0 {
		cfg.Gateway.LoginPerMinute = k.Gateway.LoginPerMinute
	}
	if k.Gateway.TrustedProxyHops > 0 {
		cfg.Gateway.TrustedProxyHops = k.Gateway.TrustedProxyHops
	}

	return cfg
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "athena", GlobalConfigFile)
}

// WriteDefaultConfig writes a default config file with documentation.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// athena configuration

// Local port served by the desktop instance and exposed by the tunnel
port 3456

// Directory for the local database (default ~/.local/share/athena)
// data-dir "~/.local/share/athena"

tunnel {
    binary "ngrok"
    // Directories searched before the platform defaults and PATH
    // extra-dirs "~/bin" "/opt/ngrok"
    // Seconds to wait for the public URL
    start-timeout 30
    poll-interval-ms 500
    agent-api "http://127.0.0.1:4040"
    authtoken-env "NGROK_AUTHTOKEN"
}

installer {
    // bin-dir "~/.local/bin"
    version-timeout 10
}

mobile {
    branch "main"
    // Extra variables copied into the companion deployment
    env-file ".env.local"
    min-password 4
}

gateway {
    session-ttl-hours 24
    forward-prefixes "/api/chat/" "/api/models/"
    login-per-minute 10
    // Proxies in front of the companion that append to X-Forwarded-For.
    // Leave at 0 unless the edge is trusted to set the header.
    // trusted-proxy-hops 1
}
`
	// Create directory if needed
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(strings.TrimSpace(defaultKDL)+"\n"), 0644)
}
