package mobile

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/athena-bridge/internal/github"
	"github.com/standardbeagle/athena-bridge/internal/store"
	"github.com/standardbeagle/athena-bridge/internal/tunnel"
	"github.com/standardbeagle/athena-bridge/internal/vercel"
)

type fakeSecrets struct {
	mu      sync.Mutex
	values  map[string]string
	lookups int
}

func newFakeSecrets(values map[string]string) *fakeSecrets {
	if values == nil {
		values = map[string]string{}
	}
	return &fakeSecrets{values: values}
}

func (f *fakeSecrets) Secret(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.values[name], nil
}

func (f *fakeSecrets) SetSecret(_ context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
	return nil
}

func allSecrets() *fakeSecrets {
	return newFakeSecrets(map[string]string{
		store.SecretNgrok:  "ngrok-key",
		store.SecretVercel: "vercel-key",
		store.SecretGitHub: "gh-token",
	})
}

type fakeTunnels struct {
	tunnel   *tunnel.Tunnel
	started  bool
	err      error
	ensures  int
	starts   int
	stops    int
	lastAuth string
}

func (f *fakeTunnels) Ensure(_ context.Context, port int, authtoken string) (*tunnel.Tunnel, bool, error) {
	f.ensures++
	f.lastAuth = authtoken
	if f.err != nil {
		return nil, false, f.err
	}
	t := *f.tunnel
	t.Port = port
	return &t, f.started, nil
}

func (f *fakeTunnels) Start(_ context.Context, port int, authtoken string) (*tunnel.Tunnel, error) {
	f.starts++
	f.lastAuth = authtoken
	if f.err != nil {
		return nil, f.err
	}
	t := *f.tunnel
	t.Port = port
	return &t, nil
}

func (f *fakeTunnels) StopPort(context.Context, int) (bool, error) {
	f.stops++
	return true, nil
}

func (f *fakeTunnels) calls() int { return f.ensures + f.starts + f.stops }

type fakeVerifier struct {
	repo  *github.Repository
	err   error
	calls int
	token string
}

func (f *fakeVerifier) Repository(_ context.Context, owner, name string) (*github.Repository, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.repo, nil
}

type fakeHosting struct {
	deployment *vercel.Deployment
	deployErr  error
	envErr     error

	token      string
	deploys    []vercel.DeployRequest
	envUpdates map[string][][]vercel.EnvVar
}

func (f *fakeHosting) DeployFromGitHub(_ context.Context, req vercel.DeployRequest) (*vercel.Deployment, error) {
	f.deploys = append(f.deploys, req)
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	return f.deployment, nil
}

func (f *fakeHosting) UpdateProjectEnv(_ context.Context, project string, vars []vercel.EnvVar) error {
	if f.envUpdates == nil {
		f.envUpdates = map[string][][]vercel.EnvVar{}
	}
	f.envUpdates[project] = append(f.envUpdates[project], vars)
	return f.envErr
}

func (f *fakeHosting) calls() int {
	n := len(f.deploys)
	for _, u := range f.envUpdates {
		n += len(u)
	}
	return n
}

type fixture struct {
	secrets  *fakeSecrets
	tunnels  *fakeTunnels
	verifier *fakeVerifier
	hosting  *fakeHosting
	db       *store.DB
	coord    *Coordinator
}

func newFixture(t *testing.T, cfg Config, secrets *fakeSecrets) *fixture {
	t.Helper()

	db, err := store.Open(t.TempDir() + "/athena.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		secrets: secrets,
		tunnels: &fakeTunnels{
			tunnel:  &tunnel.Tunnel{ID: "mobile-1", PublicURL: "https://abc123.ngrok.app", Owned: true},
			started: true,
		},
		verifier: &fakeVerifier{repo: &github.Repository{Name: "app", FullName: "alice/app"}},
		hosting: &fakeHosting{
			deployment: &vercel.Deployment{URL: "https://app.vercel.app", DeploymentID: "dep_1"},
		},
		db: db,
	}
	f.coord = NewCoordinator(cfg, secrets, f.tunnels, db,
		WithLogger(log.New(io.Discard)),
		WithRepositoryVerifier(func(_ context.Context, token string) RepositoryVerifier {
			f.verifier.token = token
			return f.verifier
		}),
		WithHosting(func(_ context.Context, token string) Hosting {
			f.hosting.token = token
			return f.hosting
		}),
	)
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EnvFile = ""
	return cfg
}
