package mobile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/standardbeagle/athena-bridge/internal/store"
	"github.com/standardbeagle/athena-bridge/internal/vercel"
)

// Deploy brings up a tunnel, verifies the repository and deploys the
// companion. Stages run in order and the first failure is returned as a
// *Failure.
func (c *Coordinator) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	if err := c.checkLocal(); err != nil {
		return nil, err
	}
	if err := req.Validate(c.config.MinPassword); err != nil {
		return nil, err
	}
	branch := req.Branch
	if branch == "" {
		branch = c.config.Branch
	}
	owner, repo := req.split()
	repository := owner + "/" + repo

	ngrokKey := c.secret(ctx, store.SecretNgrok)
	vercelKey := c.secret(ctx, store.SecretVercel)
	githubToken := c.secret(ctx, store.SecretGitHub)
	if ngrokKey == "" || vercelKey == "" || githubToken == "" {
		missing := map[string]bool{
			"ngrok":  ngrokKey == "",
			"vercel": vercelKey == "",
			"github": githubToken == "",
		}
		c.logger.Error("missing API keys", "missing", missing)
		return nil, &Failure{
			Type:    TypeConfiguration,
			Status:  http.StatusBadRequest,
			Message: "Missing required API keys. Please configure Ngrok, Vercel, and GitHub tokens in Settings.",
			Missing: missing,
		}
	}

	run := newRunLog(c.logger.With("repository", repository))

	run.info(fmt.Sprintf("Creating ngrok tunnel for port %d...", c.config.Port))
	t, started, err := c.tunnels.Ensure(ctx, c.config.Port, ngrokKey)
	if err != nil {
		run.error("Tunnel creation failed: " + err.Error())
		return nil, run.fail(tunnelFailure(err, c.config.Port))
	}
	if started {
		run.success("✓ Tunnel created: " + t.ID)
	} else {
		run.success("✓ Reusing tunnel: " + t.ID)
	}
	run.info("Public URL: " + t.PublicURL)

	run.info("Verifying repository: " + repository)
	found, err := c.newVerifier(ctx, githubToken).Repository(ctx, owner, repo)
	if err != nil {
		run.error("✗ " + formatDeploymentError(err.Error()))
		return nil, run.fail(classify(err, c.config.Port))
	}
	if found == nil {
		run.error("Repository not found: " + repository)
		return nil, run.fail(&Failure{
			Type:        TypeRepository,
			Status:      http.StatusNotFound,
			Message:     "Repository not found. Check the owner/repo format.",
			ActionItems: deploymentActions("404", c.config.Port),
		})
	}
	run.success("✓ Repository verified")

	env := deploymentEnv(t.PublicURL, req.Password, t.ID)

	run.info("Starting Vercel deployment...")
	env = append(env, c.loadExtraEnv(run)...)

	dep, err := c.newHosting(ctx, vercelKey).DeployFromGitHub(ctx, vercel.DeployRequest{
		ProjectName: repo,
		Repository:  repository,
		Branch:      branch,
		Env:         env,
	})
	if err != nil {
		run.error("✗ " + formatDeploymentError(err.Error()))
		return nil, run.fail(classify(err, c.config.Port))
	}
	run.success("✓ Deployment created: " + dep.DeploymentID)
	run.info("Deployment URL: " + dep.URL)

	if err := c.secrets.SetSecret(ctx, store.SecretMobilePassword, req.Password); err != nil {
		c.logger.Warn("failed to store mobile password", "error", err)
	}
	if c.deployments != nil {
		record := &store.Deployment{
			ProjectName:  repo,
			Repository:   repository,
			Branch:       branch,
			DeploymentID: dep.DeploymentID,
			URL:          dep.URL,
			TunnelID:     t.ID,
			PublicURL:    t.PublicURL,
		}
		if err := c.deployments.SaveDeployment(ctx, record); err != nil {
			c.logger.Warn("failed to record deployment", "error", err)
		}
	}

	return &DeployResult{
		Success:    true,
		Tunnel:     TunnelRef{ID: t.ID, PublicURL: t.PublicURL},
		Deployment: DeploymentRef{URL: dep.URL, DeploymentID: dep.DeploymentID},
		MobileURL:  dep.URL,
		Logs:       run.entries,
	}, nil
}

func (c *Coordinator) loadExtraEnv(run *runLog) []vercel.EnvVar {
	if c.config.EnvFile == "" {
		run.info("No additional env variables to copy")
		return nil
	}
	vars, err := extraEnv(c.config.EnvFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to read env file", "path", c.config.EnvFile, "error", err)
		}
		run.info("No additional env variables to copy")
		return nil
	}
	keys := make([]string, 0, len(vars))
	for _, v := range vars {
		keys = append(keys, v.Key)
	}
	c.logger.Debug("copying env variables", "keys", keys)
	run.success(fmt.Sprintf("✓ Copied %d additional env variables from %s", len(vars), c.config.EnvFile))
	return vars
}
