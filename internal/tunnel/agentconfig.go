package tunnel

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// agentConfigFile covers v2 (top-level authtoken) and v3 (agent.authtoken)
// ngrok.yml layouts.
type agentConfigFile struct {
	Authtoken string `yaml:"authtoken"`
	Agent     struct {
		Authtoken string `yaml:"authtoken"`
	} `yaml:"agent"`
}

// AgentConfigPaths returns the locations the agent reads ngrok.yml from.
func AgentConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "ngrok", "ngrok.yml"))
	}
	paths = append(paths, filepath.Join(home, ".config", "ngrok", "ngrok.yml"))

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, filepath.Join(home, "Library", "Application Support", "ngrok", "ngrok.yml"))
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			paths = append(paths, filepath.Join(local, "ngrok", "ngrok.yml"))
		}
	}
	return append(paths, filepath.Join(home, ".ngrok2", "ngrok.yml"))
}

// ConfiguredAuthtoken returns the first authtoken found in paths.
func ConfiguredAuthtoken(paths ...string) (string, bool) {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var cfg agentConfigFile
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			continue
		}
		if tok := strings.TrimSpace(cfg.Agent.Authtoken); tok != "" {
			return tok, true
		}
		if tok := strings.TrimSpace(cfg.Authtoken); tok != "" {
			return tok, true
		}
	}
	return "", false
}

// ensureAuthtoken registers token with the agent when no config file
// carries one. Failures are logged; the token is also passed through the
// child environment.
func (s *Supervisor) ensureAuthtoken(ctx context.Context, binary, token string) {
	if token == "" {
		return
	}
	if _, ok := ConfiguredAuthtoken(s.config.AgentConfigPaths...); ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "config", "add-authtoken", token)
	cmd.Env = s.childEnv("")
	if out, err := cmd.CombinedOutput(); err != nil {
		s.logger.Warn("failed to register authtoken", "error", err, "output", strings.TrimSpace(string(out)))
		return
	}
	s.logger.Info("registered ngrok authtoken")
}
