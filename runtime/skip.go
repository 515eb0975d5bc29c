package runtime

import (
	"github.com/runlet/engine/workflow"
)

// Classify infers why a node cannot (or did not) execute by walking its
// inbound edges against the state.
//
// Evidence is collected per edge, in workflow edge order:
//   - source errored: failure evidence blaming that source;
//   - source skipped: its recorded reason propagates, blaming that source;
//   - source executed without populating the consumed output: the source is
//     a conditional fork whose branch is inactive, conditional evidence;
//   - source delivered the value: the edge is not blocking.
//
// Failure evidence always beats conditional evidence. With no evidence at
// all the classification is SkipUpstreamFailure with no blockers: a node
// starved for inputs nobody failed to provide points at a wiring bug, and
// reporting it as an error keeps it visible.
func Classify(plan *workflow.ExecutionPlan, st *State, nodeID string) (SkipReason, []string) {
	c := classifier{plan: plan, st: st, memo: make(map[string]classification)}
	out := c.classify(nodeID)
	return out.reason, out.blockedBy
}

type classification struct {
	reason    SkipReason
	blockedBy []string
}

type classifier struct {
	plan *workflow.ExecutionPlan
	st   *State
	memo map[string]classification

	// visiting guards against recursing through a cycle. Planning rejects
	// cyclic graphs, so this only matters for hand-built states in tests.
	visiting map[string]bool
}

func (c *classifier) classify(nodeID string) classification {
	if out, ok := c.memo[nodeID]; ok {
		return out
	}
	if c.visiting == nil {
		c.visiting = make(map[string]bool)
	}
	if c.visiting[nodeID] {
		return classification{reason: SkipUpstreamFailure}
	}
	c.visiting[nodeID] = true
	defer delete(c.visiting, nodeID)

	var failedBy, conditionalBy []string
	seen := make(map[string]bool)

	addBlocker := func(list *[]string, id string) {
		if !seen[id] {
			seen[id] = true
			*list = append(*list, id)
		}
	}

	for _, edge := range c.plan.Inbound(nodeID) {
		src := edge.Source
		_, srcErrored := c.st.Errors[src]
		switch {
		case srcErrored:
			addBlocker(&failedBy, src)

		case c.isSkipped(src):
			if c.skipReasonOf(src) == SkipConditionalBranch {
				addBlocker(&conditionalBy, src)
			} else {
				addBlocker(&failedBy, src)
			}

		case c.isExecuted(src):
			if _, ok := c.st.Output(src, edge.SourceOutput); !ok {
				addBlocker(&conditionalBy, src)
			}
			// Value delivered: this edge does not block.
		}
	}

	var out classification
	switch {
	case len(failedBy) > 0:
		out = classification{reason: SkipUpstreamFailure, blockedBy: failedBy}
	case len(conditionalBy) > 0:
		out = classification{reason: SkipConditionalBranch, blockedBy: conditionalBy}
	default:
		out = classification{reason: SkipUpstreamFailure}
	}
	c.memo[nodeID] = out
	return out
}

// skipReasonOf returns the reason a source was skipped, preferring the
// reason recorded when its result was applied and re-deriving it otherwise.
func (c *classifier) skipReasonOf(nodeID string) SkipReason {
	if reason, ok := c.st.SkipReasons[nodeID]; ok {
		return reason
	}
	return c.classify(nodeID).reason
}

func (c *classifier) isSkipped(nodeID string) bool {
	_, ok := c.st.SkipReasons[nodeID]
	return ok
}

func (c *classifier) isExecuted(nodeID string) bool {
	_, ok := c.st.Outputs[nodeID]
	return ok
}
