package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runlet/engine/blob"
	"github.com/runlet/engine/common/metrics"
	"github.com/runlet/engine/credits"
	"github.com/runlet/engine/steps"
	"github.com/runlet/engine/workflow"
)

// Executor runs single nodes. It never mutates State: every outcome,
// including every failure mode, is returned as a NodeResult for the
// scheduler to apply.
type Executor struct {
	registry     *Registry
	store        blob.Store
	secrets      SecretProvider
	integrations IntegrationProvider
	env          map[string]string
	mode         string
	log          Logger
	metrics      *metrics.Engine

	// progress receives node progress callbacks; optional.
	progress func(nodeID string, fraction float64)
}

// ExecutorOpts configures an Executor.
type ExecutorOpts struct {
	Registry     *Registry
	Store        blob.Store
	Secrets      SecretProvider
	Integrations IntegrationProvider
	Env          map[string]string
	Mode         string
	Logger       Logger
	Metrics      *metrics.Engine
	Progress     func(nodeID string, fraction float64)
}

// NewExecutor creates an executor.
func NewExecutor(opts ExecutorOpts) *Executor {
	mode := opts.Mode
	if mode == "" {
		mode = ModeProd
	}
	return &Executor{
		registry:     opts.Registry,
		store:        opts.Store,
		secrets:      opts.Secrets,
		integrations: opts.Integrations,
		env:          opts.Env,
		mode:         mode,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		progress:     opts.Progress,
	}
}

// StepName returns the durable step name for a node invocation. Node ids
// are unique within a workflow, so these names are unique per execution and
// stable across replays.
func StepName(nodeID string) string {
	return "run node " + nodeID
}

// stepEnvelope is the serialized value of one node step. Domain failures
// travel inside it so the durable cache replays them identically;
// infrastructure errors propagate out of the step uncached so a later
// attempt retries.
type stepEnvelope struct {
	Outputs NodeValues `json:"outputs,omitempty"`
	Usage   int64      `json:"usage,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// ExecuteOne attempts a single node against the current state and returns
// its outcome. It reads state but never writes it.
func (e *Executor) ExecuteOne(ctx context.Context, ec *ExecutionContext, st *State, runner steps.Runner, nodeID string) *NodeResult {
	start := time.Now()
	res := e.executeOne(ctx, ec, st, runner, nodeID)
	nodeType := "unknown"
	if node, ok := ec.Plan.Node(nodeID); ok {
		nodeType = node.Type
	}
	e.metrics.NodeSettled(nodeType, string(res.Status), time.Since(start))
	return res
}

func (e *Executor) executeOne(ctx context.Context, ec *ExecutionContext, st *State, runner steps.Runner, nodeID string) *NodeResult {
	node, ok := ec.Plan.Node(nodeID)
	if !ok {
		return ErroredResult(nodeID, "node not found", 0)
	}

	nt, ok := e.registry.Lookup(node.Type)
	if !ok {
		return ErroredResult(nodeID, fmt.Sprintf("node type not implemented: %s", node.Type), 0)
	}

	inputs, missing := GatherInputs(ec.Plan, st, node)
	if len(missing) > 0 {
		reason, blockedBy := Classify(ec.Plan, st, nodeID)
		if e.log != nil {
			e.log.Debug("node skipped",
				"node_id", nodeID,
				"reason", string(reason),
				"missing_inputs", missing,
				"blocked_by", blockedBy)
		}
		return SkippedResult(nodeID, reason, blockedBy)
	}

	if nt.RequiresSubscription && nt.Usage > 0 &&
		ec.SubscriptionStatus != credits.StatusActive && e.mode != ModeDev {
		return ErroredResult(nodeID, "Subscription required", 0)
	}

	env, err := steps.Do(ctx, runner, StepName(nodeID), func(ctx context.Context) (stepEnvelope, error) {
		return e.invoke(ctx, ec, node, nt, runner, inputs)
	})
	if err != nil {
		if e.log != nil {
			e.log.Error("node step failed", "node_id", nodeID, "type", node.Type, "error", err)
		}
		return ErroredResult(nodeID, err.Error(), 0)
	}

	if env.Error != "" {
		return ErroredResult(nodeID, env.Error, env.Usage)
	}
	return CompletedResult(nodeID, env.Outputs, env.Usage)
}

// invoke is the body of a node's durable step: marshal inputs, execute the
// implementation, marshal outputs. Its return value is what the step cache
// records.
func (e *Executor) invoke(ctx context.Context, ec *ExecutionContext, node *workflow.NodeSpec, nt *NodeType, runner steps.Runner, wireInputs NodeValues) (stepEnvelope, error) {
	runtimeInputs, err := MarshalInputs(ctx, e.store, node, wireInputs)
	if err != nil {
		var invalid *InvalidInputError
		if errors.As(err, &invalid) {
			// Bad reference or shape: a deterministic failure, recorded so
			// replay does not retry it.
			return stepEnvelope{Error: invalid.Error()}, nil
		}
		return stepEnvelope{}, err
	}

	nc := e.nodeContext(ec, node.ID, runner, runtimeInputs)
	out, execErr := nt.New().Execute(ctx, nc)
	if execErr != nil {
		var ne *NodeError
		if errors.As(execErr, &ne) {
			usage := ne.Usage
			if usage < 0 {
				usage = 0
			}
			return stepEnvelope{Error: ne.Message, Usage: usage}, nil
		}
		return stepEnvelope{Error: execErr.Error()}, nil
	}

	var values NodeValues
	var usage int64
	if out != nil {
		values = out.Values
		usage = out.Usage
	}

	wireOutputs, err := MarshalOutputs(ctx, e.store, node, values, blob.WriteOptions{
		OrganizationID: ec.OrganizationID,
		ExecutionID:    ec.ExecutionID,
	})
	if err != nil {
		// Store writes are infrastructure: propagate uncached so a durable
		// retry runs the node again.
		return stepEnvelope{}, err
	}

	if usage <= 0 {
		usage = nt.Usage
	}
	return stepEnvelope{Outputs: wireOutputs, Usage: usage}, nil
}

// nodeContext assembles the per-node view handed to an implementation. The
// tool invoker is bound here, after both registry and executor exist; nodes
// calling nodes never reach for package state. The execution's runner is
// passed through so nodes can take nested durable steps (long sleeps, paged
// fetches) that survive a crash inside the node.
func (e *Executor) nodeContext(ec *ExecutionContext, nodeID string, runner steps.Runner, inputs NodeValues) *NodeContext {
	var onProgress func(float64)
	if e.progress != nil {
		id := nodeID
		onProgress = func(fraction float64) { e.progress(id, fraction) }
	}
	if runner == nil {
		runner = steps.NewDirect()
	}
	return &NodeContext{
		NodeID:         nodeID,
		WorkflowID:     ec.WorkflowID,
		ExecutionID:    ec.ExecutionID,
		OrganizationID: ec.OrganizationID,
		UserID:         ec.UserID,
		Mode:           e.mode,
		Inputs:         inputs,
		Env:            e.env,
		Store:          e.store,
		Runner:         runner,
		Tools:          &toolInvoker{ex: e, ec: ec},
		OnProgress:     onProgress,
		Log:            e.log,
		secrets:        e.secrets,
		integrations:   e.integrations,
	}
}

// GatherInputs assembles a node's wire inputs from declared literals and
// inbound edge deliveries, and reports which required inputs stayed
// unbound.
//
// Literals bind first. Edges are walked in workflow edge order; a delivered
// value overrides any literal on the same input. Variadic inputs collect
// every delivered value into a sequence (undelivered sources simply
// contribute nothing); the first delivery discards the literal. A required
// variadic input with an empty sequence counts as unbound.
func GatherInputs(plan *workflow.ExecutionPlan, st *State, node *workflow.NodeSpec) (NodeValues, []string) {
	inputs := make(NodeValues)
	for _, p := range node.Inputs {
		if p.Value != nil {
			inputs[p.Name] = p.Value
		}
	}

	delivered := make(map[string]bool)
	for _, edge := range plan.Inbound(node.ID) {
		v, ok := st.Output(edge.Source, edge.SourceOutput)
		if !ok {
			continue
		}
		p, declared := node.Input(edge.TargetInput)
		if declared && p.Variadic {
			if !delivered[edge.TargetInput] {
				inputs[edge.TargetInput] = []Value{}
			}
			inputs[edge.TargetInput] = append(inputs[edge.TargetInput].([]Value), v)
		} else {
			inputs[edge.TargetInput] = v
		}
		delivered[edge.TargetInput] = true
	}

	var missing []string
	for _, p := range node.Inputs {
		if !p.Required {
			continue
		}
		v, bound := inputs[p.Name]
		if !bound {
			missing = append(missing, p.Name)
			continue
		}
		if p.Variadic {
			if seq, isSeq := v.([]Value); isSeq && len(seq) == 0 {
				missing = append(missing, p.Name)
			}
		}
	}
	return inputs, missing
}

// toolInvoker runs a registered node type in-process on behalf of another
// node. Tool calls share the executor's collaborators but run outside the
// durable step protocol; the caller owns any usage they incur.
type toolInvoker struct {
	ex *Executor
	ec *ExecutionContext
}

func (t *toolInvoker) InvokeTool(ctx context.Context, typeID string, inputs NodeValues) (NodeValues, error) {
	nt, ok := t.ex.registry.Lookup(typeID)
	if !ok {
		return nil, fmt.Errorf("node type not implemented: %s", typeID)
	}
	// Tool calls run inside the caller's step, so they stay direct; a durable
	// runner would record them under names the caller does not control.
	nc := t.ex.nodeContext(t.ec, "tool:"+typeID, steps.NewDirect(), inputs.Copy())
	out, err := nt.New().Execute(ctx, nc)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return NodeValues{}, nil
	}
	return out.Values, nil
}
