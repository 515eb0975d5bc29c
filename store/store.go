// Package store defines how finished workflow executions are persisted and
// queried. Organization isolation is absolute: a record belonging to another
// organization is indistinguishable from one that does not exist.
package store

import (
	"context"
	"fmt"

	"github.com/runlet/engine/common/models"
)

// List pagination bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// NotFoundError reports a missing execution. Lookups across organization
// boundaries return this error, never the record.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("execution not found: %s", e.ID)
}

// Filter narrows List results.
type Filter struct {
	WorkflowID   string
	DeploymentID string
	Limit        int
	Offset       int
}

// Normalize clamps pagination to the supported bounds.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ExecutionStore persists finished executions.
type ExecutionStore interface {
	// Save writes a record. Saving the same id again overwrites it, which
	// keeps replayed executions from producing duplicates.
	Save(ctx context.Context, execution *models.WorkflowExecution) error

	// Get returns the record by id, scoped to the organization. Reads
	// observe the caller's own completed Save.
	Get(ctx context.Context, id, organizationID string) (*models.WorkflowExecution, error)

	// List returns the organization's records ordered by ended_at
	// descending, newest first.
	List(ctx context.Context, organizationID string, f Filter) ([]*models.WorkflowExecution, error)
}
