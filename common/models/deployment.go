package models

import (
	"encoding/json"
	"time"
)

// WorkflowDeployment is a stored workflow definition runnable by id. Cron
// deployments are picked up by the scheduler on service start.
// Maps to: workflow_deployment table
type WorkflowDeployment struct {
	ID             string `db:"id" json:"id"`
	OrganizationID string `db:"organization_id" json:"organization_id"`
	Name           string `db:"name" json:"name"`
	Handle         string `db:"handle" json:"handle"`

	// Trigger kind of the stored definition: manual, http, email or cron.
	Trigger string `db:"trigger" json:"trigger"`

	// Cron expression; only meaningful when Trigger is cron.
	CronExpr *string `db:"cron_expr" json:"cron_expr,omitempty"`

	// Full workflow definition (stored as JSONB).
	Definition json.RawMessage `db:"definition" json:"definition"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
