package models

import "time"

// ExecutionStatus is the derived overall status of a workflow execution.
type ExecutionStatus string

const (
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
)

// NodeStatus is the settled status of one node within an execution.
type NodeStatus string

const (
	NodeCompleted NodeStatus = "completed"
	NodeSkipped   NodeStatus = "skipped"
	NodeErrored   NodeStatus = "errored"
)

// Visibility controls who may read a persisted execution.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// NodeExecution is the persisted outcome of one node.
type NodeExecution struct {
	NodeID string     `json:"node_id"`
	Status NodeStatus `json:"status"`

	// Wire-format values; media values appear as blob references only.
	Inputs  map[string]any `json:"inputs,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`

	Error string `json:"error,omitempty"`
	Usage int64  `json:"usage"`

	// Populated for skipped nodes.
	SkipReason string   `json:"skip_reason,omitempty"`
	BlockedBy  []string `json:"blocked_by,omitempty"`
}

// WorkflowExecution is the persisted record of one run.
// Maps to: workflow_execution table
type WorkflowExecution struct {
	ID             string `db:"id" json:"id"`
	WorkflowID     string `db:"workflow_id" json:"workflow_id"`
	OrganizationID string `db:"organization_id" json:"organization_id"`

	// Set when the run was started from a deployment.
	DeploymentID *string `db:"deployment_id" json:"deployment_id,omitempty"`

	Status ExecutionStatus `db:"status" json:"status"`

	// Top-level failure summary; empty for completed runs.
	Error *string `db:"error" json:"error,omitempty"`

	StartedAt time.Time `db:"started_at" json:"started_at"`
	EndedAt   time.Time `db:"ended_at" json:"ended_at"`

	// Per-node outcomes in plan order (stored as JSONB).
	NodeExecutions []NodeExecution `db:"node_executions" json:"node_executions"`

	Visibility Visibility `db:"visibility" json:"visibility"`
}

// TotalUsage sums the usage of all node executions.
func (e *WorkflowExecution) TotalUsage() int64 {
	var total int64
	for _, n := range e.NodeExecutions {
		total += n.Usage
	}
	return total
}

// NodeExecution returns the recorded outcome for a node id.
func (e *WorkflowExecution) NodeExecution(nodeID string) (NodeExecution, bool) {
	for _, n := range e.NodeExecutions {
		if n.NodeID == nodeID {
			return n, true
		}
	}
	return NodeExecution{}, false
}
