package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlet/engine/blob"
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/credits"
	"github.com/runlet/engine/monitor"
	"github.com/runlet/engine/store"
	"github.com/runlet/engine/workflow"
)

func newScheduler(t *testing.T, reg *Registry, opts SchedulerOpts) *Scheduler {
	t.Helper()
	if opts.Executor == nil {
		opts.Executor = NewExecutor(ExecutorOpts{Registry: reg, Store: blob.NewMemory(nil)})
	}
	if opts.Credits == nil {
		opts.Credits = credits.NewMemory(true)
	}
	if opts.Executions == nil {
		opts.Executions = store.NewMemory()
	}
	return NewScheduler(opts)
}

// Two independent producers share a level; a barrier proves they really run
// concurrently.
func TestSchedulerRunsLevelConcurrently(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)

	meet := func() error {
		barrier.Done()
		done := make(chan struct{})
		go func() {
			barrier.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-time.After(5 * time.Second):
			return fmt.Errorf("level sibling never started")
		}
	}

	reg, err := NewRegistry(&NodeType{
		Type:    "sync.probe",
		Outputs: []workflow.ParameterSpec{numberParam("out", false)},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				if err := meet(); err != nil {
					return nil, err
				}
				return &NodeOutput{Values: NodeValues{"out": 1.0}}, nil
			})
		},
	})
	require.NoError(t, err)

	wf := &workflow.Workflow{
		ID: "wf-parallel",
		Nodes: []workflow.NodeSpec{
			{ID: "left", Type: "sync.probe", Outputs: []workflow.ParameterSpec{numberParam("out", false)}},
			{ID: "right", Type: "sync.probe", Outputs: []workflow.ParameterSpec{numberParam("out", false)}},
		},
	}

	s := newScheduler(t, reg, SchedulerOpts{})
	record, st, err := s.Run(context.Background(), testEC(t, wf), CheckParams{OrganizationID: "org-test"})

	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, record.Status)
	assert.Equal(t, 2, st.SettledCount())
}

func TestSchedulerRecordContents(t *testing.T) {
	reg, err := NewRegistry(addType(2), &NodeType{
		Type:    "value.five",
		Usage:   1,
		Outputs: []workflow.ParameterSpec{numberParam("out", false)},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				return &NodeOutput{Values: NodeValues{"out": 5.0}}, nil
			})
		},
	})
	require.NoError(t, err)

	wf := &workflow.Workflow{
		ID: "wf-record",
		Nodes: []workflow.NodeSpec{
			{ID: "five", Type: "value.five", Outputs: []workflow.ParameterSpec{numberParam("out", false)}},
			{
				ID:   "sum",
				Type: "math.add",
				Inputs: []workflow.ParameterSpec{
					numberParam("a", true),
					{Name: "b", Type: workflow.TypeNumber, Required: true, Value: 3.0},
				},
				Outputs: []workflow.ParameterSpec{numberParam("result", false)},
			},
		},
		Edges: []workflow.Edge{skipEdge("five", "out", "sum", "a")},
	}

	executions := store.NewMemory()
	s := newScheduler(t, reg, SchedulerOpts{Executions: executions})
	ec := testEC(t, wf)
	ec.DeploymentID = "dep-7"

	record, _, err := s.Run(context.Background(), ec, CheckParams{OrganizationID: "org-test"})
	require.NoError(t, err)

	assert.Equal(t, ec.ExecutionID, record.ID)
	assert.Equal(t, "wf-record", record.WorkflowID)
	assert.Equal(t, "org-test", record.OrganizationID)
	assert.Equal(t, models.ExecutionCompleted, record.Status)
	assert.Equal(t, models.VisibilityPrivate, record.Visibility)
	require.NotNil(t, record.DeploymentID)
	assert.Equal(t, "dep-7", *record.DeploymentID)
	assert.False(t, record.EndedAt.Before(record.StartedAt))

	// Node entries come in plan order with the inputs each node saw.
	require.Len(t, record.NodeExecutions, 2)
	assert.Equal(t, "five", record.NodeExecutions[0].NodeID)
	sum := record.NodeExecutions[1]
	assert.Equal(t, "sum", sum.NodeID)
	assert.Equal(t, models.NodeCompleted, sum.Status)
	assert.Equal(t, 5.0, sum.Inputs["a"], "edge-delivered input is echoed")
	assert.Equal(t, 3.0, sum.Inputs["b"], "literal input is echoed")
	assert.Equal(t, 8.0, sum.Outputs["result"])
	assert.Equal(t, int64(3), record.TotalUsage())

	// The same record is what persisted.
	saved, err := executions.Get(context.Background(), record.ID, "org-test")
	require.NoError(t, err)
	assert.Equal(t, record.Status, saved.Status)
	assert.Len(t, saved.NodeExecutions, 2)
}

func TestSchedulerRecoversPanic(t *testing.T) {
	reg, err := NewRegistry(&NodeType{
		Type:    "panics",
		Outputs: []workflow.ParameterSpec{numberParam("out", false)},
		New: func() Node {
			return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
				panic("wild pointer")
			})
		},
	})
	require.NoError(t, err)

	wf := &workflow.Workflow{
		ID:    "wf-panic",
		Nodes: []workflow.NodeSpec{{ID: "n", Type: "panics", Outputs: []workflow.ParameterSpec{numberParam("out", false)}}},
	}

	s := newScheduler(t, reg, SchedulerOpts{})
	record, st, err := s.Run(context.Background(), testEC(t, wf), CheckParams{OrganizationID: "org-test"})

	require.NoError(t, err, "a panicking node settles as errored, the run itself succeeds")
	assert.Equal(t, models.ExecutionError, record.Status)
	assert.Contains(t, st.Errors["n"], "node panicked")
	require.NotNil(t, record.Error)
	assert.Contains(t, *record.Error, "node panicked")
}

// Cancellation lets in-flight nodes finish, abandons later levels, and
// still persists the partial record.
func TestSchedulerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reg, err := NewRegistry(
		&NodeType{
			Type:    "cancels.the.run",
			Outputs: []workflow.ParameterSpec{numberParam("out", false)},
			New: func() Node {
				return NodeFunc(func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
					cancel()
					return &NodeOutput{Values: NodeValues{"out": 1.0}}, nil
				})
			},
		},
		addType(1),
	)
	require.NoError(t, err)

	wf := &workflow.Workflow{
		ID: "wf-cancel",
		Nodes: []workflow.NodeSpec{
			{ID: "first", Type: "cancels.the.run", Outputs: []workflow.ParameterSpec{numberParam("out", false)}},
			{
				ID:   "second",
				Type: "math.add",
				Inputs: []workflow.ParameterSpec{
					numberParam("a", true),
					{Name: "b", Type: workflow.TypeNumber, Required: true, Value: 1.0},
				},
				Outputs: []workflow.ParameterSpec{numberParam("result", false)},
			},
		},
		Edges: []workflow.Edge{skipEdge("first", "out", "second", "a")},
	}

	executions := store.NewMemory()
	s := newScheduler(t, reg, SchedulerOpts{Executions: executions})
	record, st, err := s.Run(ctx, testEC(t, wf), CheckParams{OrganizationID: "org-test"})

	require.NoError(t, err)
	assert.Equal(t, models.ExecutionError, record.Status)
	assert.True(t, st.Settled("first"), "the in-flight level finishes")
	assert.False(t, st.Settled("second"), "later levels are abandoned")
	require.NotNil(t, record.Error)
	assert.Contains(t, *record.Error, "canceled")

	saved, err := executions.Get(context.Background(), record.ID, "org-test")
	require.NoError(t, err)
	assert.Len(t, saved.NodeExecutions, 1, "only settled nodes appear in the record")
}

func TestSchedulerCreditDenial(t *testing.T) {
	reg, err := NewRegistry(addType(1))
	require.NoError(t, err)

	executions := store.NewMemory()
	mgr := credits.NewMemory(false)
	broadcaster := monitor.NewChannel(8)

	s := newScheduler(t, reg, SchedulerOpts{
		Credits:     mgr,
		Executions:  executions,
		Broadcaster: broadcaster,
	})

	wf := &workflow.Workflow{
		ID: "wf-denied",
		Nodes: []workflow.NodeSpec{{
			ID:   "sum",
			Type: "math.add",
			Inputs: []workflow.ParameterSpec{
				{Name: "a", Type: workflow.TypeNumber, Required: true, Value: 1.0},
				{Name: "b", Type: workflow.TypeNumber, Required: true, Value: 2.0},
			},
			Outputs: []workflow.ParameterSpec{numberParam("result", false)},
		}},
	}
	ec := testEC(t, wf)
	ec.Monitor = true

	record, st, err := s.Run(context.Background(), ec, CheckParams{
		OrganizationID:     "org-test",
		ComputeCredits:     5,
		EstimatedUsage:     40,
		SubscriptionStatus: credits.StatusTrial,
	})

	var insufficient *credits.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Nil(t, record)
	assert.Nil(t, st)

	// Nothing persisted, counter untouched.
	list, err := executions.List(context.Background(), "org-test", store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	used, err := mgr.Used(context.Background(), "org-test")
	require.NoError(t, err)
	assert.Zero(t, used)

	// Exactly one terminal frame, no node events.
	broadcaster.Close()
	var frames []*monitor.Snapshot
	for snap := range broadcaster.Snapshots() {
		frames = append(frames, snap)
	}
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Final)
	assert.Equal(t, string(models.ExecutionError), frames[0].Status)
	assert.NotEmpty(t, frames[0].Error)
	assert.Empty(t, frames[0].Nodes)
}

func TestSchedulerBroadcastFrames(t *testing.T) {
	reg, err := NewRegistry(addType(1))
	require.NoError(t, err)

	broadcaster := monitor.NewChannel(16)
	s := newScheduler(t, reg, SchedulerOpts{Broadcaster: broadcaster})

	wf := &workflow.Workflow{
		ID: "wf-frames",
		Nodes: []workflow.NodeSpec{{
			ID:   "sum",
			Type: "math.add",
			Inputs: []workflow.ParameterSpec{
				{Name: "a", Type: workflow.TypeNumber, Required: true, Value: 2.0},
				{Name: "b", Type: workflow.TypeNumber, Required: true, Value: 2.0},
			},
			Outputs: []workflow.ParameterSpec{numberParam("result", false)},
		}},
	}
	ec := testEC(t, wf)
	ec.Monitor = true

	_, _, err = s.Run(context.Background(), ec, CheckParams{OrganizationID: "org-test"})
	require.NoError(t, err)

	broadcaster.Close()
	var frames []*monitor.Snapshot
	for snap := range broadcaster.Snapshots() {
		frames = append(frames, snap)
	}

	// Initial frame, one per level, final frame.
	require.Len(t, frames, 3)
	assert.Equal(t, string(models.ExecutionExecuting), frames[0].Status)
	assert.Equal(t, monitor.NodePending, frames[0].Nodes[0].Status)
	assert.False(t, frames[0].Final)

	last := frames[len(frames)-1]
	assert.True(t, last.Final)
	assert.Equal(t, string(models.ExecutionCompleted), last.Status)
	require.Len(t, last.Nodes, 1)
	assert.Equal(t, monitor.NodeCompleted, last.Nodes[0].Status)
	assert.Equal(t, []string{"result"}, last.Nodes[0].Outputs)
	assert.Equal(t, int64(1), last.Usage)
}

// Usage is recorded exactly once per run, not per node.
func TestSchedulerRecordsUsageOnce(t *testing.T) {
	reg, err := NewRegistry(addType(3))
	require.NoError(t, err)

	mgr := credits.NewMemory(true)
	s := newScheduler(t, reg, SchedulerOpts{Credits: mgr})

	wf := &workflow.Workflow{
		ID: "wf-usage",
		Nodes: []workflow.NodeSpec{
			{
				ID:   "s1",
				Type: "math.add",
				Inputs: []workflow.ParameterSpec{
					{Name: "a", Type: workflow.TypeNumber, Required: true, Value: 1.0},
					{Name: "b", Type: workflow.TypeNumber, Required: true, Value: 1.0},
				},
				Outputs: []workflow.ParameterSpec{numberParam("result", false)},
			},
			{
				ID:   "s2",
				Type: "math.add",
				Inputs: []workflow.ParameterSpec{
					{Name: "a", Type: workflow.TypeNumber, Required: true, Value: 2.0},
					{Name: "b", Type: workflow.TypeNumber, Required: true, Value: 2.0},
				},
				Outputs: []workflow.ParameterSpec{numberParam("result", false)},
			},
		},
	}

	_, _, err = s.Run(context.Background(), testEC(t, wf), CheckParams{OrganizationID: "org-usage"})
	require.NoError(t, err)

	used, err := mgr.Used(context.Background(), "org-usage")
	require.NoError(t, err)
	assert.Equal(t, int64(6), used)
}

func TestSchedulerPersistFailureReturnsRecord(t *testing.T) {
	reg, err := NewRegistry(addType(1))
	require.NoError(t, err)

	s := newScheduler(t, reg, SchedulerOpts{Executions: failingExecutions{}})

	wf := &workflow.Workflow{
		ID: "wf-persist",
		Nodes: []workflow.NodeSpec{{
			ID:   "sum",
			Type: "math.add",
			Inputs: []workflow.ParameterSpec{
				{Name: "a", Type: workflow.TypeNumber, Required: true, Value: 1.0},
				{Name: "b", Type: workflow.TypeNumber, Required: true, Value: 1.0},
			},
			Outputs: []workflow.ParameterSpec{numberParam("result", false)},
		}},
	}

	record, _, err := s.Run(context.Background(), testEC(t, wf), CheckParams{OrganizationID: "org-test"})

	require.Error(t, err)
	require.NotNil(t, record, "the in-memory record survives a persistence failure")
	assert.Equal(t, models.ExecutionCompleted, record.Status)
}

type failingExecutions struct{}

func (failingExecutions) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	return fmt.Errorf("database unavailable")
}

func (failingExecutions) Get(ctx context.Context, id, organizationID string) (*models.WorkflowExecution, error) {
	return nil, &store.NotFoundError{ID: id}
}

func (failingExecutions) List(ctx context.Context, organizationID string, f store.Filter) ([]*models.WorkflowExecution, error) {
	return nil, nil
}
