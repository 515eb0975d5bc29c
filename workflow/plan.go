package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError is returned when a workflow graph cannot be layered because it
// contains at least one dependency cycle.
type CycleError struct {
	// Nodes that could not be placed on any level, in workflow order.
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow contains a cycle involving nodes [%s]", strings.Join(e.Nodes, ", "))
}

// ExecutionPlan is the validated, immutable result of planning a workflow.
//
// Levels holds the layered topological order: every node on level N depends
// only on nodes from levels < N, so all nodes of one level may run
// concurrently. Within a level, nodes keep the order they were declared in
// the workflow, which makes planning and result application deterministic.
type ExecutionPlan struct {
	Workflow *Workflow
	Levels   [][]string
	Order    []string

	nodes    map[string]*NodeSpec
	inbound  map[string][]Edge
	outbound map[string][]Edge
}

// Plan validates the workflow graph and computes its execution levels.
//
// Validation rejects duplicate node ids, edges referencing unknown nodes or
// undeclared parameters, and duplicate (target, targetInput) bindings on
// non-variadic inputs. Required inputs are allowed to stay unbound: whether
// such a node runs is decided at execution time, not here. A graph with a
// cycle yields *CycleError.
func Plan(wf *Workflow) (*ExecutionPlan, error) {
	nodes := make(map[string]*NodeSpec, len(wf.Nodes))
	pos := make(map[string]int, len(wf.Nodes))
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("node %d has an empty id", i)
		}
		if _, dup := nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id: %s", n.ID)
		}
		nodes[n.ID] = n
		pos[n.ID] = i
	}

	inbound := make(map[string][]Edge)
	outbound := make(map[string][]Edge)
	seen := make(map[[2]string]bool, len(wf.Edges))
	for _, e := range wf.Edges {
		src, ok := nodes[e.Source]
		if !ok {
			return nil, fmt.Errorf("edge references unknown source node: %s", e.Source)
		}
		tgt, ok := nodes[e.Target]
		if !ok {
			return nil, fmt.Errorf("edge references unknown target node: %s", e.Target)
		}
		if _, ok := src.Output(e.SourceOutput); !ok {
			return nil, fmt.Errorf("node %s has no output %q", e.Source, e.SourceOutput)
		}
		in, ok := tgt.Input(e.TargetInput)
		if !ok {
			return nil, fmt.Errorf("node %s has no input %q", e.Target, e.TargetInput)
		}
		key := [2]string{e.Target, e.TargetInput}
		if seen[key] && !in.Variadic {
			return nil, fmt.Errorf("input %s.%s is bound by multiple edges but is not variadic", e.Target, e.TargetInput)
		}
		seen[key] = true
		inbound[e.Target] = append(inbound[e.Target], e)
		outbound[e.Source] = append(outbound[e.Source], e)
	}

	levels, order, err := layer(wf, pos)
	if err != nil {
		return nil, err
	}

	return &ExecutionPlan{
		Workflow: wf,
		Levels:   levels,
		Order:    order,
		nodes:    nodes,
		inbound:  inbound,
		outbound: outbound,
	}, nil
}

// layer runs a Kahn-style breadth-first layering over the dependency graph.
func layer(wf *Workflow, pos map[string]int) ([][]string, []string, error) {
	indegree := make(map[string]int, len(wf.Nodes))
	successors := make(map[string][]string)
	for _, e := range wf.Edges {
		indegree[e.Target]++
		successors[e.Source] = append(successors[e.Source], e.Target)
	}

	var current []string
	for _, n := range wf.Nodes {
		if indegree[n.ID] == 0 {
			current = append(current, n.ID)
		}
	}

	var levels [][]string
	var order []string
	placed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		order = append(order, current...)
		placed += len(current)

		var next []string
		for _, id := range current {
			for _, succ := range successors[id] {
				indegree[succ]--
				if indegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return pos[next[i]] < pos[next[j]] })
		current = next
	}

	if placed < len(wf.Nodes) {
		var stuck []string
		for _, n := range wf.Nodes {
			if indegree[n.ID] > 0 {
				stuck = append(stuck, n.ID)
			}
		}
		return nil, nil, &CycleError{Nodes: stuck}
	}
	return levels, order, nil
}

// Node returns the declaration of a planned node.
func (p *ExecutionPlan) Node(id string) (*NodeSpec, bool) {
	n, ok := p.nodes[id]
	return n, ok
}

// Contains reports whether the plan includes the given node.
func (p *ExecutionPlan) Contains(id string) bool {
	_, ok := p.nodes[id]
	return ok
}

// Inbound returns the edges targeting the given node, in workflow edge order.
func (p *ExecutionPlan) Inbound(id string) []Edge {
	return p.inbound[id]
}

// Outbound returns the edges leaving the given node, in workflow edge order.
func (p *ExecutionPlan) Outbound(id string) []Edge {
	return p.outbound[id]
}

// Size returns the number of planned nodes.
func (p *ExecutionPlan) Size() int {
	return len(p.nodes)
}
