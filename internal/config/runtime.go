package config

import (
	"strconv"
	"strings"
)

// Environment variables that describe the runtime role.
const (
	EnvRemoteMode     = "OS_REMOTE_MODE"
	EnvPublicURL      = "OS_PUBLIC_URL"
	EnvMobilePassword = "MOBILE_PASSWORD"
	EnvTunnelID       = "NGROK_TUNNEL_ID"
)

// Runtime is the role of this process, read once at startup and passed to
// constructors.
type Runtime struct {
	// RemoteMode is true on the hosted companion instance.
	RemoteMode bool
	// PublicURL is the tunnel URL the companion forwards to.
	PublicURL string
	// MobilePassword is the shared password for companion logins.
	MobilePassword string
	TunnelID       string
}

// RuntimeFromEnv reads the runtime role with getenv, usually os.Getenv.
func RuntimeFromEnv(getenv func(string) string) Runtime {
	remote, _ := strconv.ParseBool(strings.TrimSpace(getenv(EnvRemoteMode)))
	return Runtime{
		RemoteMode:     remote,
		PublicURL:      strings.TrimSpace(getenv(EnvPublicURL)),
		MobilePassword: getenv(EnvMobilePassword),
		TunnelID:       strings.TrimSpace(getenv(EnvTunnelID)),
	}
}
