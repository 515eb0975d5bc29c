package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlet/engine/blob"
	"github.com/runlet/engine/credits"
	"github.com/runlet/engine/steps"
	"github.com/runlet/engine/workflow"
)

func testEC(t *testing.T, wf *workflow.Workflow) *ExecutionContext {
	t.Helper()
	return &ExecutionContext{
		Workflow:       wf,
		Plan:           mustPlan(t, wf),
		WorkflowID:     wf.ID,
		ExecutionID:    "exec-test",
		OrganizationID: "org-test",
		UserID:         "user-test",
		StartedAt:      time.Now().UTC(),
	}
}

func numberParam(name string, required bool) workflow.ParameterSpec {
	return workflow.ParameterSpec{Name: name, Type: workflow.TypeNumber, Required: required}
}

func addType(usage int64) *NodeType {
	return &NodeType{
		Type:  "math.add",
		Name:  "Add",
		Usage: usage,
		Inputs: []workflow.ParameterSpec{
			numberParam("a", true),
			numberParam("b", true),
		},
		Outputs: []workflow.ParameterSpec{numberParam("result", false)},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				a, ok := nc.InputNumber("a")
				if !ok {
					return nil, fmt.Errorf("input a is not a number")
				}
				b, ok := nc.InputNumber("b")
				if !ok {
					return nil, fmt.Errorf("input b is not a number")
				}
				return &NodeOutput{Values: NodeValues{"result": a + b}}, nil
			})
		},
	}
}

func TestExecuteOneCompleted(t *testing.T) {
	reg, err := NewRegistry(addType(2))
	require.NoError(t, err)
	ex := NewExecutor(ExecutorOpts{Registry: reg, Store: blob.NewMemory(nil)})

	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.NodeSpec{{
			ID:   "sum",
			Type: "math.add",
			Inputs: []workflow.ParameterSpec{
				{Name: "a", Type: workflow.TypeNumber, Required: true, Value: 5},
				{Name: "b", Type: workflow.TypeNumber, Required: true, Value: 3},
			},
			Outputs: []workflow.ParameterSpec{numberParam("result", false)},
		}},
	}
	ec := testEC(t, wf)

	res := ex.ExecuteOne(context.Background(), ec, NewState(), steps.NewDirect(), "sum")

	require.Equal(t, ResultCompleted, res.Status, "error: %s", res.Error)
	assert.Equal(t, 8.0, res.Outputs["result"], "step results cross a JSON boundary, numbers come back as float64")
	assert.Equal(t, int64(2), res.Usage, "declared usage applies when the node reports none")
}

func TestExecuteOneUnknownType(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	ex := NewExecutor(ExecutorOpts{Registry: reg, Store: blob.NewMemory(nil)})

	wf := &workflow.Workflow{
		ID:    "wf",
		Nodes: []workflow.NodeSpec{{ID: "n", Type: "exotic.node"}},
	}
	ec := testEC(t, wf)

	res := ex.ExecuteOne(context.Background(), ec, NewState(), steps.NewDirect(), "n")

	require.Equal(t, ResultErrored, res.Status)
	assert.Contains(t, res.Error, "node type not implemented: exotic.node")
	assert.Zero(t, res.Usage)
}

func TestExecuteOneSkipsStarvedNode(t *testing.T) {
	reg, err := NewRegistry(addType(1))
	require.NoError(t, err)
	ex := NewExecutor(ExecutorOpts{Registry: reg, Store: blob.NewMemory(nil)})

	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.NodeSpec{
			skipNode("p", nil, []string{"out"}),
			{
				ID:   "sum",
				Type: "math.add",
				Inputs: []workflow.ParameterSpec{
					numberParam("a", true),
					{Name: "b", Type: workflow.TypeNumber, Required: true, Value: 1},
				},
				Outputs: []workflow.ParameterSpec{numberParam("result", false)},
			},
		},
		Edges: []workflow.Edge{skipEdge("p", "out", "sum", "a")},
	}
	ec := testEC(t, wf)

	st := NewState()
	st.Apply(ErroredResult("p", "producer down", 0))

	res := ex.ExecuteOne(context.Background(), ec, st, steps.NewDirect(), "sum")

	require.Equal(t, ResultSkipped, res.Status)
	assert.Equal(t, SkipUpstreamFailure, res.SkipReason)
	assert.Equal(t, []string{"p"}, res.BlockedBy)
}

func gatedType(calls *atomic.Int32) *NodeType {
	return &NodeType{
		Type:                 "premium.op",
		Usage:                5,
		RequiresSubscription: true,
		Outputs:              []workflow.ParameterSpec{numberParam("out", false)},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				calls.Add(1)
				return &NodeOutput{Values: NodeValues{"out": 1.0}}, nil
			})
		},
	}
}

func TestExecuteOneSubscriptionGate(t *testing.T) {
	var calls atomic.Int32
	reg, err := NewRegistry(gatedType(&calls))
	require.NoError(t, err)

	wf := &workflow.Workflow{
		ID:    "wf",
		Nodes: []workflow.NodeSpec{{ID: "n", Type: "premium.op", Outputs: []workflow.ParameterSpec{numberParam("out", false)}}},
	}

	t.Run("trial is rejected without running the node", func(t *testing.T) {
		ex := NewExecutor(ExecutorOpts{Registry: reg, Store: blob.NewMemory(nil), Mode: ModeProd})
		ec := testEC(t, wf)
		ec.SubscriptionStatus = credits.StatusTrial

		res := ex.ExecuteOne(context.Background(), ec, NewState(), steps.NewDirect(), "n")

		require.Equal(t, ResultErrored, res.Status)
		assert.Equal(t, "Subscription required", res.Error)
		assert.Zero(t, res.Usage, "a gate rejection consumes nothing")
		assert.Zero(t, calls.Load())
	})

	t.Run("active subscription passes", func(t *testing.T) {
		ex := NewExecutor(ExecutorOpts{Registry: reg, Store: blob.NewMemory(nil), Mode: ModeProd})
		ec := testEC(t, wf)
		ec.SubscriptionStatus = credits.StatusActive

		res := ex.ExecuteOne(context.Background(), ec, NewState(), steps.NewDirect(), "n")
		require.Equal(t, ResultCompleted, res.Status, "error: %s", res.Error)
	})

	t.Run("dev mode bypasses the gate", func(t *testing.T) {
		ex := NewExecutor(ExecutorOpts{Registry: reg, Store: blob.NewMemory(nil), Mode: ModeDev})
		ec := testEC(t, wf)
		ec.SubscriptionStatus = credits.StatusNone

		res := ex.ExecuteOne(context.Background(), ec, NewState(), steps.NewDirect(), "n")
		require.Equal(t, ResultCompleted, res.Status, "error: %s", res.Error)
	})
}

// Domain failures are recorded step results: replaying the step returns the
// identical failure without running the node again.
func TestExecuteOneDomainFailureReplays(t *testing.T) {
	var calls atomic.Int32
	reg, err := NewRegistry(&NodeType{
		Type:    "always.fails",
		Usage:   1,
		Outputs: []workflow.ParameterSpec{numberParam("out", false)},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				calls.Add(1)
				return nil, &NodeError{Message: "deliberate failure", Usage: 3}
			})
		},
	})
	require.NoError(t, err)
	ex := NewExecutor(ExecutorOpts{Registry: reg, Store: blob.NewMemory(nil)})

	wf := &workflow.Workflow{
		ID:    "wf",
		Nodes: []workflow.NodeSpec{{ID: "n", Type: "always.fails", Outputs: []workflow.ParameterSpec{numberParam("out", false)}}},
	}
	ec := testEC(t, wf)

	cache := steps.NewMemoryCache()
	runner := steps.NewDurable(steps.DurableOpts{Cache: cache, ExecutionID: ec.ExecutionID})

	first := ex.ExecuteOne(context.Background(), ec, NewState(), runner, "n")
	require.Equal(t, ResultErrored, first.Status)
	assert.Equal(t, "deliberate failure", first.Error)
	assert.Equal(t, int64(3), first.Usage, "usage consumed before the failure is reported")

	// Fresh state, same cache: the step replays the recorded failure.
	replay := ex.ExecuteOne(context.Background(), ec, NewState(), runner, "n")
	require.Equal(t, ResultErrored, replay.Status)
	assert.Equal(t, first.Error, replay.Error)
	assert.Equal(t, first.Usage, replay.Usage)
	assert.Equal(t, int32(1), calls.Load(), "the node must not run a second time")
}

// flakyWriteStore fails the first n writes, then delegates.
type flakyWriteStore struct {
	blob.Store
	remaining atomic.Int32
}

func (f *flakyWriteStore) Write(ctx context.Context, data []byte, mimeType string, opts blob.WriteOptions) (blob.Ref, error) {
	if f.remaining.Add(-1) >= 0 {
		return blob.Ref{}, fmt.Errorf("transient storage outage")
	}
	return f.Store.Write(ctx, data, mimeType, opts)
}

// Infrastructure failures are not recorded: a retry under the same cache
// runs the node again.
func TestExecuteOneInfraFailureRetries(t *testing.T) {
	var calls atomic.Int32
	reg, err := NewRegistry(&NodeType{
		Type:    "media.producer",
		Usage:   1,
		Outputs: []workflow.ParameterSpec{{Name: "img", Type: workflow.TypeImage}},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				calls.Add(1)
				return &NodeOutput{Values: NodeValues{
					"img": &blob.File{Data: []byte("pixels"), MimeType: "image/png"},
				}}, nil
			})
		},
	})
	require.NoError(t, err)

	store := &flakyWriteStore{Store: blob.NewMemory(nil)}
	store.remaining.Store(1)
	ex := NewExecutor(ExecutorOpts{Registry: reg, Store: store})

	wf := &workflow.Workflow{
		ID:    "wf",
		Nodes: []workflow.NodeSpec{{ID: "n", Type: "media.producer", Outputs: []workflow.ParameterSpec{{Name: "img", Type: workflow.TypeImage}}}},
	}
	ec := testEC(t, wf)

	cache := steps.NewMemoryCache()
	runner := steps.NewDurable(steps.DurableOpts{Cache: cache, ExecutionID: ec.ExecutionID})

	first := ex.ExecuteOne(context.Background(), ec, NewState(), runner, "n")
	require.Equal(t, ResultErrored, first.Status)
	assert.Contains(t, first.Error, "transient storage outage")

	second := ex.ExecuteOne(context.Background(), ec, NewState(), runner, "n")
	require.Equal(t, ResultCompleted, second.Status, "error: %s", second.Error)
	assert.Equal(t, int32(2), calls.Load(), "the node runs again after an uncached infrastructure failure")

	_, ok := blob.RefFromValue(second.Outputs["img"])
	assert.True(t, ok, "media output travels as a reference")
}

func TestExecuteOneMarshalsMediaInputs(t *testing.T) {
	var seen []byte
	reg, err := NewRegistry(&NodeType{
		Type:   "media.consumer",
		Inputs: []workflow.ParameterSpec{{Name: "img", Type: workflow.TypeImage, Required: true}},
		Outputs: []workflow.ParameterSpec{
			numberParam("size", false),
		},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				f, ok := nc.InputFile("img")
				if !ok {
					return nil, fmt.Errorf("img input is not a file, got %T", nc.Inputs["img"])
				}
				seen = f.Data
				return &NodeOutput{Values: NodeValues{"size": float64(len(f.Data))}}, nil
			})
		},
	})
	require.NoError(t, err)

	memStore := blob.NewMemory(nil)
	ex := NewExecutor(ExecutorOpts{Registry: reg, Store: memStore})

	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.NodeSpec{
			skipNode("src", nil, []string{"img"}),
			{
				ID:     "sink",
				Type:   "media.consumer",
				Inputs: []workflow.ParameterSpec{{Name: "img", Type: workflow.TypeImage, Required: true}},
				Outputs: []workflow.ParameterSpec{
					numberParam("size", false),
				},
			},
		},
		Edges: []workflow.Edge{skipEdge("src", "img", "sink", "img")},
	}
	ec := testEC(t, wf)

	payload := []byte("raw image data")
	ref, err := memStore.Write(context.Background(), payload, "image/png", blob.WriteOptions{})
	require.NoError(t, err)

	st := NewState()
	st.Apply(CompletedResult("src", NodeValues{"img": ref}, 0))

	res := ex.ExecuteOne(context.Background(), ec, st, steps.NewDirect(), "sink")

	require.Equal(t, ResultCompleted, res.Status, "error: %s", res.Error)
	assert.Equal(t, payload, seen, "the node sees the original bytes")
	assert.Equal(t, float64(len(payload)), res.Outputs["size"])
}

func TestToolInvocation(t *testing.T) {
	helper := &NodeType{
		Type:    "tool.upper",
		Inputs:  []workflow.ParameterSpec{{Name: "text", Type: workflow.TypeString, Required: true}},
		Outputs: []workflow.ParameterSpec{{Name: "text", Type: workflow.TypeString}},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				s, _ := nc.InputString("text")
				upper := ""
				for _, r := range s {
					if r >= 'a' && r <= 'z' {
						r -= 32
					}
					upper += string(r)
				}
				return &NodeOutput{Values: NodeValues{"text": upper}}, nil
			})
		},
	}
	caller := &NodeType{
		Type:    "tool.caller",
		Outputs: []workflow.ParameterSpec{{Name: "result", Type: workflow.TypeString}},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				out, err := nc.Tools.InvokeTool(ctx, "tool.upper", NodeValues{"text": "shout"})
				if err != nil {
					return nil, err
				}
				return &NodeOutput{Values: NodeValues{"result": out["text"]}}, nil
			})
		},
	}

	reg, err := NewRegistry(helper, caller)
	require.NoError(t, err)
	ex := NewExecutor(ExecutorOpts{Registry: reg, Store: blob.NewMemory(nil)})

	wf := &workflow.Workflow{
		ID:    "wf",
		Nodes: []workflow.NodeSpec{{ID: "n", Type: "tool.caller", Outputs: []workflow.ParameterSpec{{Name: "result", Type: workflow.TypeString}}}},
	}
	ec := testEC(t, wf)

	res := ex.ExecuteOne(context.Background(), ec, NewState(), steps.NewDirect(), "n")

	require.Equal(t, ResultCompleted, res.Status, "error: %s", res.Error)
	assert.Equal(t, "SHOUT", res.Outputs["result"])
}

func TestGatherInputsLiteralsAndEdges(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.NodeSpec{
			skipNode("src", nil, []string{"out"}),
			{
				ID:   "n",
				Type: "test.node",
				Inputs: []workflow.ParameterSpec{
					{Name: "overridden", Type: workflow.TypeNumber, Required: true, Value: 1.0},
					{Name: "kept", Type: workflow.TypeNumber, Value: 2.0},
					{Name: "unbound", Type: workflow.TypeNumber},
				},
			},
		},
		Edges: []workflow.Edge{skipEdge("src", "out", "n", "overridden")},
	}
	plan := mustPlan(t, wf)
	node, _ := plan.Node("n")

	st := NewState()
	st.Apply(CompletedResult("src", NodeValues{"out": 10.0}, 0))

	inputs, missing := GatherInputs(plan, st, node)

	assert.Empty(t, missing)
	assert.Equal(t, 10.0, inputs["overridden"], "a delivered value overrides the literal")
	assert.Equal(t, 2.0, inputs["kept"])
	_, bound := inputs["unbound"]
	assert.False(t, bound, "optional inputs stay absent when nothing binds them")
}

func TestGatherInputsMissingRequired(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.NodeSpec{
			skipNode("src", nil, []string{"out"}),
			{
				ID:     "n",
				Type:   "test.node",
				Inputs: []workflow.ParameterSpec{numberParam("v", true)},
			},
		},
		Edges: []workflow.Edge{skipEdge("src", "out", "n", "v")},
	}
	plan := mustPlan(t, wf)
	node, _ := plan.Node("n")

	// Source settled without the consumed output.
	st := NewState()
	st.Apply(CompletedResult("src", NodeValues{}, 0))

	_, missing := GatherInputs(plan, st, node)
	assert.Equal(t, []string{"v"}, missing)
}

func TestGatherInputsVariadic(t *testing.T) {
	variadic := workflow.ParameterSpec{Name: "parts", Type: workflow.TypeNumber, Required: true, Variadic: true, Value: []Value{99.0}}
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.NodeSpec{
			skipNode("a", nil, []string{"out"}),
			skipNode("b", nil, []string{"out"}),
			skipNode("c", nil, []string{"out"}),
			{ID: "join", Type: "test.node", Inputs: []workflow.ParameterSpec{variadic}},
		},
		Edges: []workflow.Edge{
			skipEdge("a", "out", "join", "parts"),
			skipEdge("b", "out", "join", "parts"),
			skipEdge("c", "out", "join", "parts"),
		},
	}
	plan := mustPlan(t, wf)
	node, _ := plan.Node("join")

	// b withheld its output: the sequence keeps edge order among deliveries.
	st := NewState()
	st.Apply(CompletedResult("a", NodeValues{"out": 1.0}, 0))
	st.Apply(CompletedResult("b", NodeValues{}, 0))
	st.Apply(CompletedResult("c", NodeValues{"out": 3.0}, 0))

	inputs, missing := GatherInputs(plan, st, node)

	assert.Empty(t, missing)
	if !reflect.DeepEqual(inputs["parts"], []Value{1.0, 3.0}) {
		t.Errorf("parts = %v, want [1 3] (literal discarded, edge order kept)", inputs["parts"])
	}
}

func TestGatherInputsVariadicEmpty(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.NodeSpec{
			{
				ID:   "join",
				Type: "test.node",
				Inputs: []workflow.ParameterSpec{
					{Name: "parts", Type: workflow.TypeNumber, Required: true, Variadic: true, Value: []Value{}},
				},
			},
		},
	}
	plan := mustPlan(t, wf)
	node, _ := plan.Node("join")

	_, missing := GatherInputs(plan, NewState(), node)
	assert.Equal(t, []string{"parts"}, missing, "a required variadic with an empty sequence is unbound")
}
