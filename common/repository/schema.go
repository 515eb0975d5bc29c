package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/runlet/engine/common/db"
)

// schemaStatements create the tables and indexes the repositories query.
// Every statement is idempotent so the schema can be applied on each boot.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS workflow_execution (
		id              TEXT PRIMARY KEY,
		workflow_id     TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		deployment_id   TEXT,
		status          TEXT NOT NULL,
		error           TEXT,
		started_at      TIMESTAMPTZ NOT NULL,
		ended_at        TIMESTAMPTZ NOT NULL,
		node_executions JSONB NOT NULL,
		visibility      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS workflow_execution_org_ended_idx
		ON workflow_execution (organization_id, ended_at DESC)`,
	`CREATE TABLE IF NOT EXISTS workflow_deployment (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name            TEXT NOT NULL,
		handle          TEXT NOT NULL,
		trigger         TEXT NOT NULL,
		cron_expr       TEXT,
		definition      JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS workflow_deployment_org_created_idx
		ON workflow_deployment (organization_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS workflow_deployment_trigger_idx
		ON workflow_deployment (trigger)`,
}

// EnsureSchema applies the repository schema. It matches the bootstrap DB
// init hook signature so services pass it to bootstrap.WithDBInitHook.
func EnsureSchema(database *db.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
