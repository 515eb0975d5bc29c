package runtime

import (
	"context"
	"fmt"

	"github.com/runlet/engine/workflow"
)

// Node is one executable node implementation. Execute reads its inputs and
// collaborators from the NodeContext and returns runtime-form outputs.
// Domain failures are returned as errors; wrap them in *NodeError to report
// usage consumed before the failure.
type Node interface {
	Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error)
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc func(ctx context.Context, nc *NodeContext) (*NodeOutput, error)

func (f NodeFunc) Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	return f(ctx, nc)
}

// NodeOutput is what an implementation produces: runtime-form output values
// plus the usage it actually consumed. Zero usage defers to the type's
// declared cost.
type NodeOutput struct {
	Values NodeValues
	Usage  int64
}

// NodeError is a domain failure from a node implementation that consumed
// usage before failing. Plain errors are treated as zero-usage failures.
type NodeError struct {
	Message string
	Usage   int64
}

func (e *NodeError) Error() string { return e.Message }

// NodeType describes one registered node implementation: its identity, its
// declared parameter schema, its cost, and how to build an executable
// instance.
type NodeType struct {
	Type        string
	Name        string
	Description string

	Inputs  []workflow.ParameterSpec
	Outputs []workflow.ParameterSpec

	// Usage is the declared per-run cost, used for the credit pre-check
	// estimate and as the fallback when an implementation reports none.
	Usage int64

	// RequiresSubscription gates the node behind an active subscription.
	RequiresSubscription bool

	Tags []string

	// New builds a fresh executable instance. Instances are per-invocation:
	// they may keep state during one Execute but never across nodes.
	New func() Node
}

// Registry maps node type ids to their implementations. It is built once at
// process start and injected into every component that needs it;
// registration after construction is not possible, so a Registry is safe
// for concurrent use without locking.
type Registry struct {
	types map[string]*NodeType
	order []string
}

// NewRegistry builds a registry from the given types. Duplicate or empty
// type ids and missing constructors are configuration bugs and fail
// construction.
func NewRegistry(types ...*NodeType) (*Registry, error) {
	r := &Registry{types: make(map[string]*NodeType, len(types))}
	for _, nt := range types {
		if nt == nil || nt.Type == "" {
			return nil, fmt.Errorf("node type with empty id")
		}
		if nt.New == nil {
			return nil, fmt.Errorf("node type %s has no constructor", nt.Type)
		}
		if _, dup := r.types[nt.Type]; dup {
			return nil, fmt.Errorf("duplicate node type: %s", nt.Type)
		}
		r.types[nt.Type] = nt
		r.order = append(r.order, nt.Type)
	}
	return r, nil
}

// Lookup returns the type metadata for an id.
func (r *Registry) Lookup(typeID string) (*NodeType, bool) {
	nt, ok := r.types[typeID]
	return nt, ok
}

// Instantiate builds an executable for an id, with false for unknown types.
func (r *Registry) Instantiate(typeID string) (Node, bool) {
	nt, ok := r.types[typeID]
	if !ok {
		return nil, false
	}
	return nt.New(), true
}

// List returns all registered types in registration order.
func (r *Registry) List() []*NodeType {
	out := make([]*NodeType, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.types[id])
	}
	return out
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.types)
}

// Estimate sums the declared usage of every node in the workflow. Unknown
// node types estimate at zero; they will surface as per-node errors at
// execution time, not here.
func (r *Registry) Estimate(wf *workflow.Workflow) int64 {
	var total int64
	for i := range wf.Nodes {
		if nt, ok := r.types[wf.Nodes[i].Type]; ok {
			total += nt.Usage
		}
	}
	return total
}
