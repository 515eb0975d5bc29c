package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/runlet/engine/common/db"
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/store"
)

// WorkflowRepository handles database operations for workflow deployments
type WorkflowRepository struct {
	db *db.DB
}

var _ store.DeploymentStore = (*WorkflowRepository)(nil)

// NewWorkflowRepository creates a new workflow deployment repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// SaveDeployment upserts a deployment.
func (r *WorkflowRepository) SaveDeployment(ctx context.Context, d *models.WorkflowDeployment) error {
	query := `
		INSERT INTO workflow_deployment
			(id, organization_id, name, handle, trigger, cron_expr, definition,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			handle     = EXCLUDED.handle,
			trigger    = EXCLUDED.trigger,
			cron_expr  = EXCLUDED.cron_expr,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Exec(
		ctx,
		query,
		d.ID,
		d.OrganizationID,
		d.Name,
		d.Handle,
		d.Trigger,
		d.CronExpr,
		[]byte(d.Definition),
		d.CreatedAt,
		d.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}

	return nil
}

// GetDeployment retrieves a deployment by id scoped to an organization.
func (r *WorkflowRepository) GetDeployment(ctx context.Context, id, organizationID string) (*models.WorkflowDeployment, error) {
	query := `
		SELECT id, organization_id, name, handle, trigger, cron_expr, definition,
		       created_at, updated_at
		FROM workflow_deployment
		WHERE id = $1 AND organization_id = $2
	`

	d := &models.WorkflowDeployment{}
	var definition []byte
	err := r.db.QueryRow(ctx, query, id, organizationID).Scan(
		&d.ID,
		&d.OrganizationID,
		&d.Name,
		&d.Handle,
		&d.Trigger,
		&d.CronExpr,
		&definition,
		&d.CreatedAt,
		&d.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.DeploymentNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	d.Definition = definition

	return d, nil
}

// DeleteDeployment removes a deployment scoped to an organization.
func (r *WorkflowRepository) DeleteDeployment(ctx context.Context, id, organizationID string) error {
	query := `
		DELETE FROM workflow_deployment
		WHERE id = $1 AND organization_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, organizationID)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &store.DeploymentNotFoundError{ID: id}
	}

	return nil
}

// ListDeployments retrieves an organization's deployments, newest first.
func (r *WorkflowRepository) ListDeployments(ctx context.Context, organizationID string) ([]*models.WorkflowDeployment, error) {
	query := `
		SELECT id, organization_id, name, handle, trigger, cron_expr, definition,
		       created_at, updated_at
		FROM workflow_deployment
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`
	return r.queryDeployments(ctx, query, organizationID)
}

// ListCronDeployments retrieves all cron-triggered deployments.
func (r *WorkflowRepository) ListCronDeployments(ctx context.Context) ([]*models.WorkflowDeployment, error) {
	query := `
		SELECT id, organization_id, name, handle, trigger, cron_expr, definition,
		       created_at, updated_at
		FROM workflow_deployment
		WHERE trigger = 'cron'
		ORDER BY id
	`
	return r.queryDeployments(ctx, query)
}

func (r *WorkflowRepository) queryDeployments(ctx context.Context, query string, args ...any) ([]*models.WorkflowDeployment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []*models.WorkflowDeployment
	for rows.Next() {
		d := &models.WorkflowDeployment{}
		var definition []byte
		err := rows.Scan(
			&d.ID,
			&d.OrganizationID,
			&d.Name,
			&d.Handle,
			&d.Trigger,
			&d.CronExpr,
			&definition,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		d.Definition = definition
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return deployments, nil
}
