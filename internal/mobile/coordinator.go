// Package mobile orchestrates the companion deployment: it brings up a
// tunnel to the desktop port, verifies the GitHub repository and deploys
// the hosted companion with the tunnel URL in its environment.
package mobile

import (
	"context"
	"os"

	"github.com/charmbracelet/log"

	"github.com/standardbeagle/athena-bridge/internal/github"
	"github.com/standardbeagle/athena-bridge/internal/store"
	"github.com/standardbeagle/athena-bridge/internal/tunnel"
	"github.com/standardbeagle/athena-bridge/internal/vercel"
)

// Tunnels is the subset of the tunnel supervisor the coordinator drives.
type Tunnels interface {
	Ensure(ctx context.Context, port int, authtoken string) (*tunnel.Tunnel, bool, error)
	Start(ctx context.Context, port int, authtoken string) (*tunnel.Tunnel, error)
	StopPort(ctx context.Context, port int) (bool, error)
}

// RepositoryVerifier looks up a repository; nil without error means it
// does not exist or is not visible to the token.
type RepositoryVerifier interface {
	Repository(ctx context.Context, owner, name string) (*github.Repository, error)
}

// Hosting creates companion deployments and updates their environment.
type Hosting interface {
	DeployFromGitHub(ctx context.Context, req vercel.DeployRequest) (*vercel.Deployment, error)
	UpdateProjectEnv(ctx context.Context, project string, vars []vercel.EnvVar) error
}

// Deployments persists the last deployment.
type Deployments interface {
	SaveDeployment(ctx context.Context, d *store.Deployment) error
	LatestDeployment(ctx context.Context) (*store.Deployment, error)
	UpdateDeploymentTunnel(ctx context.Context, projectName, tunnelID, publicURL string) error
	DeleteDeployments(ctx context.Context) error
}

// Config holds coordinator settings.
type Config struct {
	// Port is the local port the tunnel exposes.
	Port   int
	Branch string
	// EnvFile supplies extra deployment variables; empty disables it.
	EnvFile     string
	MinPassword int
	// RemoteMode disables every operation; it is set on the hosted
	// companion.
	RemoteMode bool
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Port:        3456,
		Branch:      "main",
		EnvFile:     ".env.local",
		MinPassword: 4,
	}
}

// Coordinator runs deploy, recover, password rotation and stop.
type Coordinator struct {
	config      Config
	secrets     store.SecretStore
	tunnels     Tunnels
	deployments Deployments
	logger      *log.Logger

	newVerifier func(ctx context.Context, token string) RepositoryVerifier
	newHosting  func(ctx context.Context, token string) Hosting
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l *log.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithRepositoryVerifier replaces the GitHub client factory.
func WithRepositoryVerifier(fn func(ctx context.Context, token string) RepositoryVerifier) Option {
	return func(c *Coordinator) { c.newVerifier = fn }
}

// WithHosting replaces the Vercel client factory.
func WithHosting(fn func(ctx context.Context, token string) Hosting) Option {
	return func(c *Coordinator) { c.newHosting = fn }
}

// NewCoordinator creates a Coordinator. deployments may be nil, in which
// case nothing is persisted and rotation never syncs remotely.
func NewCoordinator(cfg Config, secrets store.SecretStore, tunnels Tunnels, deployments Deployments, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Branch == "" {
		cfg.Branch = def.Branch
	}
	if cfg.MinPassword <= 0 {
		cfg.MinPassword = def.MinPassword
	}

	c := &Coordinator{
		config:      cfg,
		secrets:     secrets,
		tunnels:     tunnels,
		deployments: deployments,
		logger:      log.NewWithOptions(os.Stderr, log.Options{Prefix: "mobile"}),
		newVerifier: func(ctx context.Context, token string) RepositoryVerifier {
			return github.NewClient(ctx, token)
		},
		newHosting: func(ctx context.Context, token string) Hosting {
			return vercel.NewClient(ctx, token)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective settings.
func (c *Coordinator) Config() Config { return c.config }

func (c *Coordinator) checkLocal() error {
	if c.config.RemoteMode {
		return &Failure{
			Type:    TypeForbidden,
			Status:  403,
			Message: "Mobile deployment is only available on the desktop instance",
		}
	}
	return nil
}

func (c *Coordinator) secret(ctx context.Context, name string) string {
	v, err := c.secrets.Secret(ctx, name)
	if err != nil {
		c.logger.Warn("secret lookup failed", "name", name, "error", err)
		return ""
	}
	return v
}
