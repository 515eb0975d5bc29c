// Package monitor broadcasts execution progress snapshots to live
// subscribers. Delivery is best effort: a dropped intermediate frame never
// fails a run, and subscribers recover from any gap because full snapshots
// are interleaved with deltas. Only the final snapshot gets a redelivery
// attempt.
package monitor

import (
	"context"
	"time"
)

// Node statuses as shown to subscribers. Pending marks planned nodes that
// have not settled yet.
const (
	NodePending   = "pending"
	NodeCompleted = "completed"
	NodeSkipped   = "skipped"
	NodeErrored   = "errored"
)

// NodeSnapshot is the live view of one node.
type NodeSnapshot struct {
	NodeID     string   `json:"node_id"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
	SkipReason string   `json:"skip_reason,omitempty"`
	BlockedBy  []string `json:"blocked_by,omitempty"`
	Usage      int64    `json:"usage"`

	// Outputs lists the names of populated outputs. The values themselves
	// stay out of the frames; subscribers fetch them from the record.
	Outputs []string `json:"outputs,omitempty"`
}

// Snapshot is the live view of one execution at a point in time.
type Snapshot struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	Usage       int64          `json:"usage"`
	StartedAt   time.Time      `json:"started_at"`
	Timestamp   time.Time      `json:"timestamp"`
	Final       bool           `json:"final,omitempty"`
	Nodes       []NodeSnapshot `json:"nodes"`
}

// Broadcaster publishes snapshots. Publish must return within a bounded
// time regardless of subscriber behavior.
type Broadcaster interface {
	Publish(ctx context.Context, snap *Snapshot) error
	Close() error
}

// Nop discards all snapshots.
type Nop struct{}

func (Nop) Publish(ctx context.Context, snap *Snapshot) error { return nil }
func (Nop) Close() error                                      { return nil }

// Logger is the minimal logging surface broadcasters need.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}
