// Package credits enforces compute-credit accounting for workflow
// executions: a conservative pre-check before any node runs, and a single
// atomic usage record once an execution settles.
package credits

import (
	"context"
	"fmt"
)

// Subscription statuses the policy distinguishes. Anything that is not
// active is treated as the trial path.
const (
	StatusActive = "active"
	StatusTrial  = "trial"
	StatusNone   = "none"
)

// InsufficientCreditsError rejects an execution before any node has run.
type InsufficientCreditsError struct {
	OrganizationID string
	Estimated      int64
	Allowance      int64
	Used           int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient compute credits for organization %s: used %d of %d, estimated run cost %d",
		e.OrganizationID, e.Used, e.Allowance, e.Estimated)
}

// CheckParams describes one prospective execution.
type CheckParams struct {
	OrganizationID     string
	ComputeCredits     int64
	EstimatedUsage     int64
	SubscriptionStatus string

	// OverageLimit caps how far an active subscription may run past its
	// allowance. nil means unlimited overage.
	OverageLimit *int64
}

// Manager answers whether an execution may start and records what it
// actually consumed.
type Manager interface {
	// CheckRun returns *InsufficientCreditsError when the organization's
	// balance does not cover the estimated cost. The estimate may exceed the
	// eventual actual usage; blocking on the estimate is intentional.
	CheckRun(ctx context.Context, p CheckParams) error

	// Record adds an execution's total usage to the organization's counter.
	// Called exactly once per execution, never per node.
	Record(ctx context.Context, organizationID string, usage int64) error

	// Used returns the organization's accumulated usage.
	Used(ctx context.Context, organizationID string) (int64, error)
}

// evaluate applies the credit policy given the current usage counter.
func evaluate(p CheckParams, used int64, devMode bool) error {
	if devMode {
		return nil
	}

	if p.SubscriptionStatus == StatusActive {
		if p.OverageLimit == nil {
			return nil
		}
		overage := used - p.ComputeCredits
		if overage < 0 {
			overage = 0
		}
		if overage >= *p.OverageLimit {
			return &InsufficientCreditsError{
				OrganizationID: p.OrganizationID,
				Estimated:      p.EstimatedUsage,
				Allowance:      p.ComputeCredits,
				Used:           used,
			}
		}
		return nil
	}

	if used+p.EstimatedUsage <= p.ComputeCredits {
		return nil
	}
	return &InsufficientCreditsError{
		OrganizationID: p.OrganizationID,
		Estimated:      p.EstimatedUsage,
		Allowance:      p.ComputeCredits,
		Used:           used,
	}
}
