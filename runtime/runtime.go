package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runlet/engine/blob"
	"github.com/runlet/engine/common/metrics"
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/credits"
	"github.com/runlet/engine/monitor"
	"github.com/runlet/engine/steps"
	"github.com/runlet/engine/store"
	"github.com/runlet/engine/workflow"
)

// Params is one execution request: the workflow to run plus the caller's
// identity and credit standing.
type Params struct {
	Workflow *workflow.Workflow

	UserID         string
	OrganizationID string

	// ComputeCredits is the organization's allowance; the pre-check blocks
	// runs the allowance cannot cover.
	ComputeCredits     int64
	SubscriptionStatus string
	OverageLimit       *int64

	// DeploymentID marks runs started from a stored deployment.
	DeploymentID string

	// Visibility of the persisted record; defaults to private.
	Visibility models.Visibility

	// MonitorProgress enables live snapshot broadcasts for this run.
	MonitorProgress bool

	// ExecutionID pins the execution id, which replays an earlier run under
	// a durable step factory. Empty means a fresh id.
	ExecutionID string
}

// Opts wires a Runtime's collaborators. Zero-value fields get working
// in-memory defaults, so tests and dev mode construct a Runtime from
// nothing but a registry.
type Opts struct {
	Registry     *Registry
	Store        blob.Store
	Secrets      SecretProvider
	Integrations IntegrationProvider
	Credits      credits.Manager
	Executions   store.ExecutionStore
	Broadcaster  monitor.Broadcaster
	Steps        steps.Factory

	// Env is handed to node contexts as provider-defined settings.
	Env map[string]string

	// Mode is "dev" or "prod"; dev relaxes credit and subscription gates.
	Mode string

	Logger  Logger
	Metrics *metrics.Engine

	// Progress receives per-node progress callbacks; optional.
	Progress func(nodeID string, fraction float64)
}

// Runtime is the execution engine's entry point: it plans a workflow,
// schedules it and returns the persisted record.
type Runtime struct {
	registry  *Registry
	scheduler *Scheduler
	mode      string
	log       Logger
}

// New builds a Runtime. The registry is required; everything else defaults
// to in-memory implementations.
func New(opts Opts) (*Runtime, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("runtime requires a node registry")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeProd
	}
	if mode != ModeDev && mode != ModeProd {
		return nil, fmt.Errorf("invalid runtime mode: %s", mode)
	}
	if opts.Store == nil {
		opts.Store = blob.NewMemory(nil)
	}
	if opts.Credits == nil {
		opts.Credits = credits.NewMemory(mode == ModeDev)
	}
	if opts.Executions == nil {
		opts.Executions = store.NewMemory()
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = monitor.Nop{}
	}
	if opts.Steps == nil {
		opts.Steps = steps.DirectFactory()
	}

	executor := NewExecutor(ExecutorOpts{
		Registry:     opts.Registry,
		Store:        opts.Store,
		Secrets:      opts.Secrets,
		Integrations: opts.Integrations,
		Env:          opts.Env,
		Mode:         mode,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
		Progress:     opts.Progress,
	})
	scheduler := NewScheduler(SchedulerOpts{
		Executor:    executor,
		Credits:     opts.Credits,
		Executions:  opts.Executions,
		Broadcaster: opts.Broadcaster,
		Steps:       opts.Steps,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})

	return &Runtime{
		registry:  opts.Registry,
		scheduler: scheduler,
		mode:      mode,
		log:       opts.Logger,
	}, nil
}

// Execute runs one workflow to settlement.
//
// Graph validation failures and a failed credit pre-check abort before any
// node runs and return the error with no record. Per-node failures do not:
// the run settles, the record persists, and the returned record's status
// reports the outcome. A record is returned alongside the error when only
// persistence failed.
func (rt *Runtime) Execute(ctx context.Context, p Params) (*models.WorkflowExecution, error) {
	if p.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if p.OrganizationID == "" {
		return nil, fmt.Errorf("organization id is required")
	}

	plan, err := workflow.Plan(p.Workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to plan workflow %s: %w", p.Workflow.ID, err)
	}

	executionID := p.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	ec := &ExecutionContext{
		Workflow:           p.Workflow,
		Plan:               plan,
		WorkflowID:         p.Workflow.ID,
		ExecutionID:        executionID,
		OrganizationID:     p.OrganizationID,
		UserID:             p.UserID,
		DeploymentID:       p.DeploymentID,
		SubscriptionStatus: p.SubscriptionStatus,
		Visibility:         p.Visibility,
		Monitor:            p.MonitorProgress,
		StartedAt:          time.Now().UTC(),
	}

	check := credits.CheckParams{
		OrganizationID:     p.OrganizationID,
		ComputeCredits:     p.ComputeCredits,
		EstimatedUsage:     rt.registry.Estimate(p.Workflow),
		SubscriptionStatus: p.SubscriptionStatus,
		OverageLimit:       p.OverageLimit,
	}

	record, _, err := rt.scheduler.Run(ctx, ec, check)
	return record, err
}

// Registry exposes the runtime's node catalog for discovery endpoints.
func (rt *Runtime) Registry() *Registry {
	return rt.registry
}

// Mode reports whether the runtime runs in dev or prod mode.
func (rt *Runtime) Mode() string {
	return rt.mode
}
