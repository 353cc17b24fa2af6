package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNoStore is returned when writing secrets without a backing store.
var ErrNoStore = errors.New("no secret store configured")

// SecretStore reads and writes named secrets.
type SecretStore interface {
	Secret(ctx context.Context, name string) (string, error)
	SetSecret(ctx context.Context, name, value string) error
}

// DefaultEnvKeys maps secret names to the environment variables that
// override them, in priority order. The mobile password has no override.
var DefaultEnvKeys = map[string][]string{
	SecretNgrok:  {"NGROK_AUTHTOKEN", "NGROK_API_KEY"},
	SecretVercel: {"VERCEL_TOKEN"},
	SecretGitHub: {"GITHUB_TOKEN"},
}

// EnvSecrets layers environment variables over a SecretStore.
type EnvSecrets struct {
	store  SecretStore
	getenv func(string) string
	keys   map[string][]string
}

// NewEnvSecrets wraps store. getenv is usually os.Getenv.
func NewEnvSecrets(store SecretStore, getenv func(string) string) *EnvSecrets {
	return &EnvSecrets{store: store, getenv: getenv, keys: DefaultEnvKeys}
}

// Secret returns the first non-empty environment override, then the
// stored value.
func (e *EnvSecrets) Secret(ctx context.Context, name string) (string, error) {
	for _, key := range e.keys[name] {
		if v := strings.TrimSpace(e.getenv(key)); v != "" {
			return v, nil
		}
	}
	if e.store == nil {
		return "", nil
	}
	return e.store.Secret(ctx, name)
}

// SetSecret writes through to the store.
func (e *EnvSecrets) SetSecret(ctx context.Context, name, value string) error {
	if e.store == nil {
		return ErrNoStore
	}
	return e.store.SetSecret(ctx, name, value)
}
