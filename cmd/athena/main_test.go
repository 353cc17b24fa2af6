package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/athena-bridge/internal/config"
	"github.com/standardbeagle/athena-bridge/internal/mobile"
)

// execute runs the root command with args against a config in a temp dir.
func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configPath = ""
		configForce = false
		secretValue = ""
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.kdl")
	data := "port 4567\ndata-dir \"" + filepath.Join(dir, "data") + "\"\ninstaller {\n    bin-dir \"" + filepath.Join(dir, "bin") + "\"\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func clearCredentialEnv(t *testing.T) {
	for _, key := range []string{"NGROK_AUTHTOKEN", "NGROK_API_KEY", "VERCEL_TOKEN", "GITHUB_TOKEN"} {
		t.Setenv(key, "")
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "athena", "config.kdl")

	out, err := execute(t, path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPort, cfg.Port)

	_, err = execute(t, path, "config", "init")
	assert.Error(t, err, "existing file is not overwritten without --force")

	_, err = execute(t, path, "config", "init", "--force")
	assert.NoError(t, err)
}

func TestNewAppWiresConfig(t *testing.T) {
	clearCredentialEnv(t)
	configPath = writeConfig(t)
	t.Cleanup(func() { configPath = "" })

	a, err := newApp(config.Runtime{}, appOptions{withStore: true, logOut: &bytes.Buffer{}})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 4567, a.cfg.Port)
	assert.Equal(t, 4567, a.coordinator.Config().Port)
	assert.Equal(t, filepath.Join(filepath.Dir(configPath), "bin"), a.installer.BinDir())
	require.NotNil(t, a.db)
	assert.FileExists(t, a.db.Path())
}

func TestNewAppRemoteWithoutStore(t *testing.T) {
	clearCredentialEnv(t)
	configPath = writeConfig(t)
	t.Cleanup(func() { configPath = "" })

	a, err := newApp(config.Runtime{RemoteMode: true}, appOptions{logOut: &bytes.Buffer{}})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.db)
	assert.True(t, a.coordinator.Config().RemoteMode)

	v, err := a.secrets.Secret(t.Context(), "ngrok")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSecretSetAndList(t *testing.T) {
	clearCredentialEnv(t)
	path := writeConfig(t)

	out, err := execute(t, path, "secret", "set", "vercel", "--value", "tok_123")
	require.NoError(t, err)
	assert.Contains(t, out, "vercel token saved")

	out, err = execute(t, path, "secret", "list")
	require.NoError(t, err)
	assert.Regexp(t, `vercel\s+set`, out)
	assert.Regexp(t, `github\s+missing`, out)

	_, err = execute(t, path, "secret", "set", "aws", "--value", "x")
	assert.Error(t, err, "unknown credential names are rejected")
}

func TestPrintFailure(t *testing.T) {
	var buf bytes.Buffer
	f := &mobile.Failure{
		Type:        mobile.TypeConfiguration,
		Message:     "Missing credentials",
		ActionItems: []string{"Add a Vercel token"},
		Missing:     map[string]bool{"vercel": true, "ngrok": true, "github": false},
	}

	err := printFailure(&buf, f)
	assert.Same(t, f, err)
	assert.Contains(t, buf.String(), "Missing: ngrok, vercel")
	assert.Contains(t, buf.String(), "- Add a Vercel token")

	plain := errors.New("boom")
	buf.Reset()
	assert.Equal(t, plain, printFailure(&buf, plain))
	assert.Empty(t, buf.String())
}
