package runtime

import (
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/workflow"
)

// StatusOf derives the overall execution status from the plan and state.
// Status is never stored while a run is live; deriving it on demand keeps it
// impossible for a stored status to drift from the per-node record.
//
// The derivation: executing while any planned node is unsettled; error when
// any node errored or was starved by a failed dependency; completed
// otherwise. Nodes skipped by an inactive conditional branch do not make a
// run an error. An empty workflow is completed.
func StatusOf(plan *workflow.ExecutionPlan, st *State) models.ExecutionStatus {
	for _, id := range plan.Order {
		if !st.Settled(id) {
			return models.ExecutionExecuting
		}
	}
	if len(st.Errors) > 0 {
		return models.ExecutionError
	}
	for _, id := range st.Skipped {
		if st.SkipReasons[id] == SkipUpstreamFailure {
			return models.ExecutionError
		}
	}
	return models.ExecutionCompleted
}
