package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/runlet/engine/common/metrics"
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/credits"
	"github.com/runlet/engine/monitor"
	"github.com/runlet/engine/steps"
	"github.com/runlet/engine/store"
)

// Scheduler walks a plan's levels and drives nodes to settlement. Within a
// level every ready node runs on its own goroutine; between levels there is
// a barrier, a single-threaded apply phase in workflow-declared order, and
// a progress broadcast. The scheduler is the only writer of State.
type Scheduler struct {
	executor    *Executor
	credits     credits.Manager
	executions  store.ExecutionStore
	broadcaster monitor.Broadcaster
	stepsFor    steps.Factory
	log         Logger
	metrics     *metrics.Engine

	now func() time.Time
}

// SchedulerOpts configures a Scheduler.
type SchedulerOpts struct {
	Executor    *Executor
	Credits     credits.Manager
	Executions  store.ExecutionStore
	Broadcaster monitor.Broadcaster
	Steps       steps.Factory
	Logger      Logger
	Metrics     *metrics.Engine
}

// NewScheduler creates a scheduler.
func NewScheduler(opts SchedulerOpts) *Scheduler {
	stepsFor := opts.Steps
	if stepsFor == nil {
		stepsFor = steps.DirectFactory()
	}
	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = monitor.Nop{}
	}
	return &Scheduler{
		executor:    opts.Executor,
		credits:     opts.Credits,
		executions:  opts.Executions,
		broadcaster: broadcaster,
		stepsFor:    stepsFor,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

// CheckParams carries the caller's credit standing into Run.
type CheckParams = credits.CheckParams

// Run executes one planned workflow to settlement and persists its record.
//
// Individual node failures never stop the walk: siblings in the same level
// run to completion and downstream nodes settle as skipped, so the final
// record always covers every planned node. Only three things abort a run
// with an error: failing the credit pre-check (before any node starts),
// external cancellation (in-flight nodes finish, remaining levels are
// abandoned, the partial record persists), and a persistence failure (the
// in-memory record is still returned alongside the error).
func (s *Scheduler) Run(ctx context.Context, ec *ExecutionContext, check CheckParams) (*models.WorkflowExecution, *State, error) {
	if err := s.credits.CheckRun(ctx, check); err != nil {
		// Terminal error frame so monitors see why nothing ever started; no
		// node events, nothing persisted, the counter untouched.
		s.broadcastDenied(ctx, ec, err)
		return nil, nil, err
	}

	st := NewState()
	runner := s.stepsFor(ec.ExecutionID)
	s.metrics.ExecutionStarted(string(ec.Workflow.Trigger))
	if s.log != nil {
		s.log.Info("execution started",
			"execution_id", ec.ExecutionID,
			"workflow_id", ec.WorkflowID,
			"levels", len(ec.Plan.Levels),
			"nodes", ec.Plan.Size())
	}

	s.broadcast(ctx, ec, st, false)

	var canceled error
	for _, level := range ec.Plan.Levels {
		if err := ctx.Err(); err != nil {
			canceled = err
			break
		}
		s.runLevel(ctx, ec, st, runner, level)
		s.broadcast(ctx, ec, st, false)
	}

	record, err := s.finalize(ctx, ec, st, canceled)
	return record, st, err
}

// runLevel launches one goroutine per node, waits for all of them, then
// applies the results in level order. Workers read State concurrently;
// nothing writes it until the barrier has passed.
func (s *Scheduler) runLevel(ctx context.Context, ec *ExecutionContext, st *State, runner steps.Runner, level []string) {
	results := make([]*NodeResult, len(level))
	var wg sync.WaitGroup
	wg.Add(len(level))
	for i, nodeID := range level {
		go func(i int, nodeID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					if s.log != nil {
						s.log.Error("node panicked", "node_id", nodeID, "panic", fmt.Sprintf("%v", r))
					}
					results[i] = ErroredResult(nodeID, fmt.Sprintf("node panicked: %v", r), 0)
				}
			}()
			results[i] = s.executor.ExecuteOne(ctx, ec, st, runner, nodeID)
		}(i, nodeID)
	}
	wg.Wait()

	for _, res := range results {
		if res == nil {
			continue
		}
		st.Apply(res)
		if s.log != nil {
			switch res.Status {
			case ResultErrored:
				s.log.Warn("node errored", "node_id", res.NodeID, "error", res.Error, "usage", res.Usage)
			default:
				s.log.Debug("node settled", "node_id", res.NodeID, "status", string(res.Status))
			}
		}
	}
}

// finalize derives the status, records usage once, persists the record and
// emits the must-deliver final snapshot.
func (s *Scheduler) finalize(ctx context.Context, ec *ExecutionContext, st *State, canceled error) (*models.WorkflowExecution, error) {
	// Finalization must run even when the run context is gone.
	base := context.WithoutCancel(ctx)

	status := StatusOf(ec.Plan, st)
	if canceled != nil && status == models.ExecutionExecuting {
		status = models.ExecutionError
	}

	total := st.TotalUsage()
	if err := s.credits.Record(base, ec.OrganizationID, total); err != nil {
		// Accounting must not erase finished work; surface it loudly.
		if s.log != nil {
			s.log.Error("failed to record usage",
				"execution_id", ec.ExecutionID,
				"organization_id", ec.OrganizationID,
				"usage", total,
				"error", err)
		}
	}
	s.metrics.CreditsConsumed(total)

	record := s.buildRecord(ec, st, status, canceled)
	s.metrics.ExecutionSettled(string(status), record.EndedAt.Sub(record.StartedAt))
	if s.log != nil {
		s.log.Info("execution settled",
			"execution_id", ec.ExecutionID,
			"status", string(status),
			"usage", total,
			"duration_ms", record.EndedAt.Sub(record.StartedAt).Milliseconds())
	}

	var saveErr error
	if s.executions != nil {
		if saveErr = s.executions.Save(base, record); saveErr != nil {
			saveErr = fmt.Errorf("failed to persist execution %s: %w", ec.ExecutionID, saveErr)
		}
	}

	s.broadcastFinal(base, ec, st, status)
	return record, saveErr
}

// buildRecord assembles the persisted execution from the final state, one
// entry per planned node in plan order. Inputs are recomputed from edges
// against the final state, so the record echoes what each node actually
// saw.
func (s *Scheduler) buildRecord(ec *ExecutionContext, st *State, status models.ExecutionStatus, canceled error) *models.WorkflowExecution {
	nodes := make([]models.NodeExecution, 0, len(ec.Plan.Order))
	for _, nodeID := range ec.Plan.Order {
		if !st.Settled(nodeID) {
			continue
		}
		ne := models.NodeExecution{NodeID: nodeID, Usage: st.Usage[nodeID]}
		if node, ok := ec.Plan.Node(nodeID); ok {
			inputs, _ := GatherInputs(ec.Plan, st, node)
			if len(inputs) > 0 {
				ne.Inputs = inputs
			}
		}
		errMsg, errored := st.Errors[nodeID]
		reason, skipped := st.SkipReasons[nodeID]
		switch {
		case errored:
			ne.Status = models.NodeErrored
			ne.Error = errMsg
		case skipped:
			ne.Status = models.NodeSkipped
			ne.SkipReason = string(reason)
			ne.BlockedBy = st.BlockedBy[nodeID]
		default:
			ne.Status = models.NodeCompleted
			ne.Outputs = st.Outputs[nodeID]
		}
		nodes = append(nodes, ne)
	}

	visibility := ec.Visibility
	if visibility == "" {
		visibility = models.VisibilityPrivate
	}
	record := &models.WorkflowExecution{
		ID:             ec.ExecutionID,
		WorkflowID:     ec.WorkflowID,
		OrganizationID: ec.OrganizationID,
		Status:         status,
		StartedAt:      ec.StartedAt,
		EndedAt:        s.now().UTC(),
		NodeExecutions: nodes,
		Visibility:     visibility,
	}
	if ec.DeploymentID != "" {
		id := ec.DeploymentID
		record.DeploymentID = &id
	}
	if msg := s.topError(st, canceled); msg != "" {
		record.Error = &msg
	}
	return record
}

// topError summarizes a failed run: the cancellation cause if there was
// one, otherwise the first errored node in a stable order.
func (s *Scheduler) topError(st *State, canceled error) string {
	if canceled != nil {
		return fmt.Sprintf("execution canceled: %v", canceled)
	}
	if len(st.Errors) == 0 {
		return ""
	}
	ids := make([]string, 0, len(st.Errors))
	for id := range st.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("node %s failed: %s", ids[0], st.Errors[ids[0]])
}

func (s *Scheduler) broadcast(ctx context.Context, ec *ExecutionContext, st *State, final bool) {
	if !ec.Monitor {
		return
	}
	snap := s.snapshot(ec, st, StatusOf(ec.Plan, st), final)
	if err := s.broadcaster.Publish(ctx, snap); err != nil {
		s.metrics.BroadcastDropped()
		if s.log != nil {
			s.log.Warn("snapshot broadcast dropped", "execution_id", ec.ExecutionID, "error", err)
		}
	}
}

func (s *Scheduler) broadcastFinal(ctx context.Context, ec *ExecutionContext, st *State, status models.ExecutionStatus) {
	if !ec.Monitor {
		return
	}
	snap := s.snapshot(ec, st, status, true)
	if err := s.broadcaster.Publish(ctx, snap); err != nil {
		s.metrics.BroadcastDropped()
		if s.log != nil {
			s.log.Warn("final snapshot broadcast failed", "execution_id", ec.ExecutionID, "error", err)
		}
	}
}

// broadcastDenied emits the terminal frame for a run rejected before any
// node started.
func (s *Scheduler) broadcastDenied(ctx context.Context, ec *ExecutionContext, reason error) {
	if !ec.Monitor {
		return
	}
	snap := &monitor.Snapshot{
		ExecutionID: ec.ExecutionID,
		WorkflowID:  ec.WorkflowID,
		Status:      string(models.ExecutionError),
		Error:       reason.Error(),
		StartedAt:   ec.StartedAt,
		Timestamp:   s.now().UTC(),
		Final:       true,
	}
	if err := s.broadcaster.Publish(ctx, snap); err != nil {
		s.metrics.BroadcastDropped()
	}
}

// snapshot projects plan+state into the monitoring view, nodes in plan
// order.
func (s *Scheduler) snapshot(ec *ExecutionContext, st *State, status models.ExecutionStatus, final bool) *monitor.Snapshot {
	nodes := make([]monitor.NodeSnapshot, 0, len(ec.Plan.Order))
	for _, nodeID := range ec.Plan.Order {
		ns := monitor.NodeSnapshot{NodeID: nodeID, Status: monitor.NodePending}
		errMsg, errored := st.Errors[nodeID]
		reason, skipped := st.SkipReasons[nodeID]
		switch {
		case errored:
			ns.Status = monitor.NodeErrored
			ns.Error = errMsg
			ns.Usage = st.Usage[nodeID]
		case skipped:
			ns.Status = monitor.NodeSkipped
			ns.SkipReason = string(reason)
			ns.BlockedBy = st.BlockedBy[nodeID]
		case st.Settled(nodeID):
			ns.Status = monitor.NodeCompleted
			ns.Usage = st.Usage[nodeID]
			outputs := st.Outputs[nodeID]
			if len(outputs) > 0 {
				names := make([]string, 0, len(outputs))
				for name := range outputs {
					names = append(names, name)
				}
				sort.Strings(names)
				ns.Outputs = names
			}
		}
		nodes = append(nodes, ns)
	}
	return &monitor.Snapshot{
		ExecutionID: ec.ExecutionID,
		WorkflowID:  ec.WorkflowID,
		Status:      string(status),
		Usage:       st.TotalUsage(),
		StartedAt:   ec.StartedAt,
		Timestamp:   s.now().UTC(),
		Final:       final,
		Nodes:       nodes,
	}
}
