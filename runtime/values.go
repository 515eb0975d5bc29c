// Package runtime executes planned workflows: it gathers node inputs from
// accumulated state, marshals values across the wire/runtime seam, invokes
// node implementations through the step runner, and walks execution levels
// with one concurrent task per ready node.
//
// The package enforces a single-writer discipline: workers produce immutable
// NodeResult values and only the scheduler applies them to State.
package runtime

// Value is one wire value flowing along workflow edges: a JSON scalar, array
// or object, or a blob.Ref for media parameters. Wire values are always
// JSON-serializable; raw bytes never appear here.
type Value = any

// NodeValues maps parameter names to values for one node. Variadic (fan-in)
// inputs hold a []Value in edge order.
type NodeValues map[string]Value

// Copy returns a shallow copy: the map is fresh, nested values are shared.
// Holders treat nested values as read-only.
func (v NodeValues) Copy() NodeValues {
	if v == nil {
		return nil
	}
	out := make(NodeValues, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// GraphState accumulates the wire outputs of executed nodes, keyed by node
// id. Inputs are never stored; they are recomputed from edges on demand.
type GraphState map[string]NodeValues

// ResultStatus tags the variant of a NodeResult.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultSkipped   ResultStatus = "skipped"
	ResultErrored   ResultStatus = "errored"
)

// SkipReason classifies why a node did not execute.
type SkipReason string

const (
	// SkipUpstreamFailure marks a node starved by a failed dependency. The
	// overall execution is reported as an error.
	SkipUpstreamFailure SkipReason = "upstream_failure"

	// SkipConditionalBranch marks a node on an inactive branch of a
	// conditional fork. Expected, not an error.
	SkipConditionalBranch SkipReason = "conditional_branch"
)

// NodeResult is the immutable outcome of attempting one node. Exactly one
// variant applies: completed carries outputs and usage, skipped carries the
// reason and blockers, errored carries the message and any usage consumed
// before the failure.
type NodeResult struct {
	NodeID string
	Status ResultStatus

	// Completed only: wire-format outputs. Media values appear as blob
	// references, never bytes.
	Outputs NodeValues

	// Completed and errored: compute cost consumed, never negative.
	Usage int64

	// Errored only.
	Error string

	// Skipped only.
	SkipReason SkipReason
	BlockedBy  []string
}

// CompletedResult builds a completed variant. The outputs map is copied.
func CompletedResult(nodeID string, outputs NodeValues, usage int64) *NodeResult {
	if usage < 0 {
		usage = 0
	}
	if outputs == nil {
		outputs = NodeValues{}
	}
	return &NodeResult{
		NodeID:  nodeID,
		Status:  ResultCompleted,
		Outputs: outputs.Copy(),
		Usage:   usage,
	}
}

// SkippedResult builds a skipped variant. Skipped nodes never carry usage.
func SkippedResult(nodeID string, reason SkipReason, blockedBy []string) *NodeResult {
	var blockers []string
	if len(blockedBy) > 0 {
		blockers = make([]string, len(blockedBy))
		copy(blockers, blockedBy)
	}
	return &NodeResult{
		NodeID:     nodeID,
		Status:     ResultSkipped,
		SkipReason: reason,
		BlockedBy:  blockers,
	}
}

// ErroredResult builds an errored variant. Usage reflects cost consumed
// before the failure and may be zero.
func ErroredResult(nodeID, message string, usage int64) *NodeResult {
	if usage < 0 {
		usage = 0
	}
	return &NodeResult{
		NodeID: nodeID,
		Status: ResultErrored,
		Error:  message,
		Usage:  usage,
	}
}
