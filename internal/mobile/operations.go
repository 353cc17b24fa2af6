package mobile

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/standardbeagle/athena-bridge/internal/store"
	"github.com/standardbeagle/athena-bridge/internal/vercel"
)

// RecoverTunnel replaces the tunnel behind an existing deployment and
// pushes the new URL and id to its environment. A failed environment
// update is logged and reported through EnvUpdated only.
func (c *Coordinator) RecoverTunnel(ctx context.Context, req RecoverRequest) (*RecoverResult, error) {
	if err := c.checkLocal(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	project := strings.TrimSpace(req.ProjectName)

	ngrokKey := c.secret(ctx, store.SecretNgrok)
	vercelKey := c.secret(ctx, store.SecretVercel)
	if ngrokKey == "" || vercelKey == "" {
		return nil, &Failure{
			Type:    TypeConfiguration,
			Status:  http.StatusBadRequest,
			Message: "Missing required API keys (ngrok, vercel)",
			Missing: map[string]bool{"ngrok": ngrokKey == "", "vercel": vercelKey == ""},
		}
	}

	if stopped, err := c.tunnels.StopPort(ctx, c.config.Port); err != nil {
		c.logger.Warn("failed to stop previous tunnel", "port", c.config.Port, "error", err)
	} else if stopped {
		c.logger.Info("stopped previous tunnel", "port", c.config.Port)
	}

	t, err := c.tunnels.Start(ctx, c.config.Port, ngrokKey)
	if err != nil {
		return nil, tunnelFailure(err, c.config.Port)
	}

	res := &RecoverResult{
		Success: true,
		Tunnel:  TunnelRef{ID: t.ID, PublicURL: t.PublicURL},
		Message: "Tunnel recovered successfully",
	}

	err = c.newHosting(ctx, vercelKey).UpdateProjectEnv(ctx, project, []vercel.EnvVar{
		vercel.NewEnvVar(EnvPublicURL, t.PublicURL),
		vercel.NewEnvVar(EnvTunnelID, t.ID),
	})
	if err != nil {
		c.logger.Error("failed to update deployment env", "project", project, "error", err)
	} else {
		res.EnvUpdated = true
	}

	if c.deployments != nil {
		if err := c.deployments.UpdateDeploymentTunnel(ctx, project, t.ID, t.PublicURL); err != nil {
			c.logger.Warn("failed to update deployment record", "project", project, "error", err)
		}
	}
	return res, nil
}

// RotatePassword stores the new password and, when a deployment and a
// hosting token are known, pushes it to the deployment. Only the local
// write can fail the call.
func (c *Coordinator) RotatePassword(ctx context.Context, req PasswordRequest) (*PasswordResult, error) {
	if err := c.checkLocal(); err != nil {
		return nil, err
	}
	if err := req.Validate(c.config.MinPassword); err != nil {
		return nil, err
	}

	if err := c.secrets.SetSecret(ctx, store.SecretMobilePassword, req.NewPassword); err != nil {
		return nil, &Failure{
			Type:    TypeConfiguration,
			Status:  http.StatusInternalServerError,
			Message: fmt.Sprintf("Failed to update password: %v", err),
			Err:     err,
		}
	}
	c.logger.Info("mobile password updated locally")

	res := &PasswordResult{Success: true, Message: "Mobile password updated successfully"}

	project := c.latestProject(ctx)
	if project == "" {
		res.Warning = "No known deployment; password not synced"
		return res, nil
	}
	vercelKey := c.secret(ctx, store.SecretVercel)
	if vercelKey == "" {
		c.logger.Warn("cannot sync password without a Vercel token", "project", project)
		res.Warning = "No Vercel token configured; password not synced"
		return res, nil
	}

	err := c.newHosting(ctx, vercelKey).UpdateProjectEnv(ctx, project, []vercel.EnvVar{
		vercel.NewEnvVar(EnvMobilePassword, req.NewPassword),
	})
	if err != nil {
		c.logger.Error("failed to sync password", "project", project, "error", err)
		res.Warning = "Password saved locally but sync failed: " + formatDeploymentError(err.Error())
		return res, nil
	}
	c.logger.Info("mobile password synced", "project", project)
	res.Synced = true
	return res, nil
}

// Stop stops the tunnel for the configured port and forgets the
// deployment. The hosted deployment itself is left in place.
func (c *Coordinator) Stop(ctx context.Context) (*StopResult, error) {
	if err := c.checkLocal(); err != nil {
		return nil, err
	}

	stopped, err := c.tunnels.StopPort(ctx, c.config.Port)
	if err != nil {
		c.logger.Warn("failed to stop tunnel", "port", c.config.Port, "error", err)
	}
	if c.deployments != nil {
		if err := c.deployments.DeleteDeployments(ctx); err != nil {
			return nil, &Failure{
				Type:    TypeConfiguration,
				Status:  http.StatusInternalServerError,
				Message: fmt.Sprintf("Failed to stop deployment: %v", err),
				Err:     err,
			}
		}
	}
	return &StopResult{
		Success:       true,
		Message:       "Mobile deployment stopped.",
		TunnelStopped: stopped,
	}, nil
}

// Status describes the last recorded deployment.
func (c *Coordinator) Status(ctx context.Context) (*StatusResult, error) {
	if c.deployments == nil {
		return &StatusResult{}, nil
	}
	d, err := c.deployments.LatestDeployment(ctx)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return &StatusResult{}, nil
	}
	created := d.CreatedAt
	return &StatusResult{
		Active:       true,
		URL:          &d.PublicURL,
		ID:           &d.TunnelID,
		TunnelID:     &d.TunnelID,
		PublicURL:    &d.PublicURL,
		MobileURL:    &d.URL,
		DeploymentID: &d.DeploymentID,
		CreatedAt:    &created,
	}, nil
}

func (c *Coordinator) latestProject(ctx context.Context) string {
	if c.deployments == nil {
		return ""
	}
	d, err := c.deployments.LatestDeployment(ctx)
	if err != nil {
		c.logger.Warn("failed to read deployment record", "error", err)
		return ""
	}
	if d == nil {
		return ""
	}
	return d.ProjectName
}
