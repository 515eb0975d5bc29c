package runtime

// State is the mutable, monotonically growing record of one execution. The
// scheduler goroutine is its only writer; workers read it between level
// barriers, which is race-free because applies only happen while no worker
// is running. No component may retain it past the execution.
//
// Invariants, preserved by Apply:
//   - Executed, Skipped and the keys of Errors are pairwise disjoint.
//   - Outputs has an entry for a node iff the node is in Executed.
//   - Skipped nodes have no usage entry; recorded usage is never negative.
type State struct {
	Outputs  GraphState
	Executed []string
	Skipped  []string
	Errors   map[string]string
	Usage    map[string]int64

	// Skip metadata recorded alongside Skipped, keyed by node id.
	SkipReasons map[string]SkipReason
	BlockedBy   map[string][]string

	settled map[string]bool
}

// NewState creates an empty execution state.
func NewState() *State {
	return &State{
		Outputs:     make(GraphState),
		Errors:      make(map[string]string),
		Usage:       make(map[string]int64),
		SkipReasons: make(map[string]SkipReason),
		BlockedBy:   make(map[string][]string),
		settled:     make(map[string]bool),
	}
}

// Apply folds one result into the state. A node settles at most once:
// re-applying a result for an already-settled node is a no-op, which makes
// replayed apply sequences safe. Returns whether the result was applied.
func (s *State) Apply(res *NodeResult) bool {
	if res == nil || res.NodeID == "" || s.settled[res.NodeID] {
		return false
	}

	switch res.Status {
	case ResultCompleted:
		s.Outputs[res.NodeID] = res.Outputs.Copy()
		s.Executed = append(s.Executed, res.NodeID)
		s.Usage[res.NodeID] = res.Usage
	case ResultSkipped:
		s.Skipped = append(s.Skipped, res.NodeID)
		s.SkipReasons[res.NodeID] = res.SkipReason
		if len(res.BlockedBy) > 0 {
			blockers := make([]string, len(res.BlockedBy))
			copy(blockers, res.BlockedBy)
			s.BlockedBy[res.NodeID] = blockers
		}
	case ResultErrored:
		s.Errors[res.NodeID] = res.Error
		if res.Usage > 0 {
			s.Usage[res.NodeID] = res.Usage
		}
	default:
		return false
	}

	s.settled[res.NodeID] = true
	return true
}

// Settled reports whether the node has reached a terminal outcome.
func (s *State) Settled(nodeID string) bool {
	return s.settled[nodeID]
}

// Output returns one named output of an executed node. The second return is
// false when the node did not run or ran without populating that output,
// which is how inactive conditional branches look to downstream nodes.
func (s *State) Output(nodeID, name string) (Value, bool) {
	outputs, ok := s.Outputs[nodeID]
	if !ok {
		return nil, false
	}
	v, ok := outputs[name]
	return v, ok
}

// TotalUsage sums all recorded usage. Usage reported by errored nodes
// counts: it was consumed before the failure.
func (s *State) TotalUsage() int64 {
	var total int64
	for _, u := range s.Usage {
		total += u
	}
	return total
}

// SettledCount returns how many nodes have reached a terminal outcome.
func (s *State) SettledCount() int {
	return len(s.settled)
}
