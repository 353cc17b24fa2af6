package mobile

import (
	"sort"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/standardbeagle/athena-bridge/internal/vercel"
)

// Variables the companion reads to reach the desktop.
const (
	EnvPublicURL      = "OS_PUBLIC_URL"
	EnvMobilePassword = "MOBILE_PASSWORD"
	EnvRemoteMode     = "OS_REMOTE_MODE"
	EnvTunnelID       = "NGROK_TUNNEL_ID"
)

// reservedKeys are never copied from the local env file.
var reservedKeys = map[string]bool{
	EnvPublicURL:              true,
	EnvMobilePassword:         true,
	EnvRemoteMode:             true,
	EnvTunnelID:               true,
	"NODE_ENV":                true,
	"NEXT_TELEMETRY_DISABLED": true,
}

// deploymentEnv returns the four companion variables.
func deploymentEnv(publicURL, password, tunnelID string) []vercel.EnvVar {
	return []vercel.EnvVar{
		vercel.NewEnvVar(EnvPublicURL, publicURL),
		vercel.NewEnvVar(EnvMobilePassword, password),
		vercel.NewEnvVar(EnvRemoteMode, strconv.FormatBool(true)),
		vercel.NewEnvVar(EnvTunnelID, tunnelID),
	}
}

// extraEnv reads path and returns its non-empty, non-reserved entries
// sorted by key.
func extraEnv(path string) ([]vercel.EnvVar, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(values))
	for k, v := range values {
		if k == "" || v == "" || reservedKeys[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vars := make([]vercel.EnvVar, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, vercel.NewEnvVar(k, values[k]))
	}
	return vars, nil
}
