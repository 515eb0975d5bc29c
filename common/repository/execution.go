package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/runlet/engine/common/db"
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/store"
)

// ExecutionRepository handles database operations for workflow executions
type ExecutionRepository struct {
	db *db.DB
}

var _ store.ExecutionStore = (*ExecutionRepository)(nil)

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Save upserts an execution record. Replayed executions overwrite their
// previous record instead of creating a duplicate.
func (r *ExecutionRepository) Save(ctx context.Context, e *models.WorkflowExecution) error {
	nodes, err := json.Marshal(e.NodeExecutions)
	if err != nil {
		return fmt.Errorf("failed to encode node executions: %w", err)
	}

	query := `
		INSERT INTO workflow_execution
			(id, workflow_id, organization_id, deployment_id, status, error,
			 started_at, ended_at, node_executions, visibility)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status          = EXCLUDED.status,
			error           = EXCLUDED.error,
			ended_at        = EXCLUDED.ended_at,
			node_executions = EXCLUDED.node_executions,
			visibility      = EXCLUDED.visibility
	`

	_, err = r.db.Exec(
		ctx,
		query,
		e.ID,
		e.WorkflowID,
		e.OrganizationID,
		e.DeploymentID,
		e.Status,
		e.Error,
		e.StartedAt,
		e.EndedAt,
		nodes,
		e.Visibility,
	)

	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// Get retrieves an execution by id scoped to an organization. A record owned
// by another organization is reported as not found.
func (r *ExecutionRepository) Get(ctx context.Context, id, organizationID string) (*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, organization_id, deployment_id, status, error,
		       started_at, ended_at, node_executions, visibility
		FROM workflow_execution
		WHERE id = $1 AND organization_id = $2
	`

	e := &models.WorkflowExecution{}
	var nodes []byte
	err := r.db.QueryRow(ctx, query, id, organizationID).Scan(
		&e.ID,
		&e.WorkflowID,
		&e.OrganizationID,
		&e.DeploymentID,
		&e.Status,
		&e.Error,
		&e.StartedAt,
		&e.EndedAt,
		&nodes,
		&e.Visibility,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if err := json.Unmarshal(nodes, &e.NodeExecutions); err != nil {
		return nil, fmt.Errorf("failed to decode node executions: %w", err)
	}

	return e, nil
}

// List retrieves an organization's executions ordered by ended_at DESC.
func (r *ExecutionRepository) List(ctx context.Context, organizationID string, f store.Filter) ([]*models.WorkflowExecution, error) {
	f = f.Normalize()

	query := `
		SELECT id, workflow_id, organization_id, deployment_id, status, error,
		       started_at, ended_at, node_executions, visibility
		FROM workflow_execution
		WHERE organization_id = $1
	`
	args := []any{organizationID}

	if f.WorkflowID != "" {
		args = append(args, f.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}
	if f.DeploymentID != "" {
		args = append(args, f.DeploymentID)
		query += fmt.Sprintf(" AND deployment_id = $%d", len(args))
	}

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY ended_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.WorkflowExecution
	for rows.Next() {
		e := &models.WorkflowExecution{}
		var nodes []byte
		err := rows.Scan(
			&e.ID,
			&e.WorkflowID,
			&e.OrganizationID,
			&e.DeploymentID,
			&e.Status,
			&e.Error,
			&e.StartedAt,
			&e.EndedAt,
			&nodes,
			&e.Visibility,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if err := json.Unmarshal(nodes, &e.NodeExecutions); err != nil {
			return nil, fmt.Errorf("failed to decode node executions: %w", err)
		}
		executions = append(executions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}
