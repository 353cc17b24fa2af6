package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Deployment is the record of a companion deployment.
type Deployment struct {
	ID           string    `json:"id"`
	ProjectName  string    `json:"projectName"`
	Repository   string    `json:"repository"`
	Branch       string    `json:"branch"`
	DeploymentID string    `json:"deploymentId"`
	URL          string    `json:"url"`
	TunnelID     string    `json:"tunnelId"`
	PublicURL    string    `json:"publicUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SaveDeployment inserts d, assigning an ID when empty.
func (db *DB) SaveDeployment(ctx context.Context, d *Deployment) error {
	now := time.Now()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO deployments (id, project_name, repository, branch, deployment_id, url, tunnel_id, public_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_name = excluded.project_name,
			repository = excluded.repository,
			branch = excluded.branch,
			deployment_id = excluded.deployment_id,
			url = excluded.url,
			tunnel_id = excluded.tunnel_id,
			public_url = excluded.public_url,
			updated_at = excluded.updated_at
	`, d.ID, d.ProjectName, d.Repository, d.Branch, d.DeploymentID, d.URL, d.TunnelID, d.PublicURL, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save deployment: %w", err)
	}
	return nil
}

// LatestDeployment returns the most recent deployment, or nil.
func (db *DB) LatestDeployment(ctx context.Context) (*Deployment, error) {
	var d Deployment
	err := db.QueryRowContext(ctx, `
		SELECT id, project_name, repository, branch, deployment_id, url, tunnel_id, public_url, created_at, updated_at
		FROM deployments ORDER BY created_at DESC LIMIT 1
	`).Scan(&d.ID, &d.ProjectName, &d.Repository, &d.Branch, &d.DeploymentID, &d.URL, &d.TunnelID, &d.PublicURL, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query deployment: %w", err)
	}
	return &d, nil
}

// UpdateDeploymentTunnel records a replacement tunnel for projectName.
func (db *DB) UpdateDeploymentTunnel(ctx context.Context, projectName, tunnelID, publicURL string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE deployments SET tunnel_id = ?, public_url = ?, updated_at = ?
		WHERE project_name = ?
	`, tunnelID, publicURL, time.Now(), projectName)
	if err != nil {
		return fmt.Errorf("update deployment tunnel: %w", err)
	}
	return nil
}

// DeleteDeployments removes all deployment records.
func (db *DB) DeleteDeployments(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM deployments`); err != nil {
		return fmt.Errorf("delete deployments: %w", err)
	}
	return nil
}
