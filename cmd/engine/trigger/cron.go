// Package trigger schedules deployed workflows whose trigger is cron. Each
// matching deployment gets a cron entry that runs it through the engine
// runtime on schedule.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/runlet/engine/common/logger"
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/credits"
	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/store"
	"github.com/runlet/engine/workflow"
)

// runTimeout bounds one scheduled execution.
const runTimeout = 10 * time.Minute

// CronDispatcher owns the cron schedule for deployed workflows.
type CronDispatcher struct {
	cron        *cron.Cron
	deployments store.DeploymentStore
	runtime     *runtime.Runtime
	log         *logger.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// CronDispatcherOpts configures a CronDispatcher.
type CronDispatcherOpts struct {
	Deployments store.DeploymentStore
	Runtime     *runtime.Runtime
	Logger      *logger.Logger
}

// NewCronDispatcher creates a dispatcher. Nothing is scheduled until Start.
func NewCronDispatcher(opts CronDispatcherOpts) *CronDispatcher {
	return &CronDispatcher{
		cron:        cron.New(),
		deployments: opts.Deployments,
		runtime:     opts.Runtime,
		log:         opts.Logger,
		entries:     make(map[string]cron.EntryID),
	}
}

// Start loads every cron deployment and begins dispatching. Deployments with
// broken expressions are skipped with a warning rather than failing startup.
func (d *CronDispatcher) Start(ctx context.Context) error {
	deps, err := d.deployments.ListCronDeployments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cron deployments: %w", err)
	}

	for _, dep := range deps {
		if err := d.Add(dep); err != nil {
			d.log.Warn("skipping cron deployment",
				"deployment_id", dep.ID,
				"error", err,
			)
		}
	}

	d.cron.Start()
	d.log.Info("cron dispatcher started", "deployments", len(d.entries))
	return nil
}

// Add schedules one deployment. Re-adding a deployment id replaces its
// previous entry, so a re-deploy picks up a changed expression.
func (d *CronDispatcher) Add(dep *models.WorkflowDeployment) error {
	if dep.CronExpr == nil || *dep.CronExpr == "" {
		return fmt.Errorf("cron deployment %s has no cron expression", dep.ID)
	}

	run := *dep
	id, err := d.cron.AddFunc(*dep.CronExpr, func() { d.run(&run) })
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", *dep.CronExpr, err)
	}

	d.mu.Lock()
	if old, ok := d.entries[dep.ID]; ok {
		d.cron.Remove(old)
	}
	d.entries[dep.ID] = id
	d.mu.Unlock()
	return nil
}

// Remove drops a deployment's schedule. Unknown ids are a no-op.
func (d *CronDispatcher) Remove(deploymentID string) {
	d.mu.Lock()
	if id, ok := d.entries[deploymentID]; ok {
		d.cron.Remove(id)
		delete(d.entries, deploymentID)
	}
	d.mu.Unlock()
}

// Scheduled returns how many deployments currently hold a cron entry.
func (d *CronDispatcher) Scheduled() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Stop halts dispatching and waits for running jobs, bounded by ctx.
func (d *CronDispatcher) Stop(ctx context.Context) {
	done := d.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		d.log.Warn("cron dispatcher stop timed out with jobs still running")
	}
}

// run executes one scheduled deployment. Scheduled runs are not pre-blocked
// on credits: the organization deployed the schedule deliberately and usage
// is still recorded against it.
func (d *CronDispatcher) run(dep *models.WorkflowDeployment) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var wf workflow.Workflow
	if err := json.Unmarshal(dep.Definition, &wf); err != nil {
		d.log.Error("cron deployment has an unreadable definition",
			"deployment_id", dep.ID,
			"error", err,
		)
		return
	}
	if wf.ID == "" {
		wf.ID = dep.ID
	}

	record, err := d.runtime.Execute(ctx, runtime.Params{
		Workflow:           &wf,
		OrganizationID:     dep.OrganizationID,
		DeploymentID:       dep.ID,
		SubscriptionStatus: credits.StatusActive,
	})
	if err != nil {
		d.log.Error("scheduled execution failed",
			"deployment_id", dep.ID,
			"workflow_id", wf.ID,
			"error", err,
		)
		return
	}

	d.log.Info("scheduled execution settled",
		"deployment_id", dep.ID,
		"execution_id", record.ID,
		"status", record.Status,
		"usage", record.TotalUsage(),
	)
}
