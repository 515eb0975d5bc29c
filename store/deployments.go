package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/runlet/engine/common/models"
)

// DeploymentNotFoundError reports a missing deployment, including lookups
// across organization boundaries.
type DeploymentNotFoundError struct {
	ID string
}

func (e *DeploymentNotFoundError) Error() string {
	return fmt.Sprintf("deployment not found: %s", e.ID)
}

// DeploymentStore persists deployed workflow definitions.
type DeploymentStore interface {
	SaveDeployment(ctx context.Context, d *models.WorkflowDeployment) error
	GetDeployment(ctx context.Context, id, organizationID string) (*models.WorkflowDeployment, error)
	ListDeployments(ctx context.Context, organizationID string) ([]*models.WorkflowDeployment, error)

	// DeleteDeployment removes a deployment. A missing id and an id owned by
	// another organization both yield *DeploymentNotFoundError.
	DeleteDeployment(ctx context.Context, id, organizationID string) error

	// ListCronDeployments returns every cron-triggered deployment across all
	// organizations; the cron dispatcher schedules them at service start.
	ListCronDeployments(ctx context.Context) ([]*models.WorkflowDeployment, error)
}

// MemoryDeployments is an in-process DeploymentStore for tests and dev mode.
type MemoryDeployments struct {
	mu   sync.RWMutex
	byID map[string]models.WorkflowDeployment
}

// NewMemoryDeployments creates an empty in-memory deployment store.
func NewMemoryDeployments() *MemoryDeployments {
	return &MemoryDeployments{byID: make(map[string]models.WorkflowDeployment)}
}

func (s *MemoryDeployments) SaveDeployment(ctx context.Context, d *models.WorkflowDeployment) error {
	if d.ID == "" {
		return fmt.Errorf("deployment id is required")
	}
	s.mu.Lock()
	s.byID[d.ID] = *d
	s.mu.Unlock()
	return nil
}

func (s *MemoryDeployments) GetDeployment(ctx context.Context, id, organizationID string) (*models.WorkflowDeployment, error) {
	s.mu.RLock()
	d, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok || d.OrganizationID != organizationID {
		return nil, &DeploymentNotFoundError{ID: id}
	}
	cp := d
	return &cp, nil
}

func (s *MemoryDeployments) ListDeployments(ctx context.Context, organizationID string) ([]*models.WorkflowDeployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowDeployment
	for _, d := range s.byID {
		if d.OrganizationID == organizationID {
			cp := d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryDeployments) DeleteDeployment(ctx context.Context, id, organizationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok || d.OrganizationID != organizationID {
		return &DeploymentNotFoundError{ID: id}
	}
	delete(s.byID, id)
	return nil
}

func (s *MemoryDeployments) ListCronDeployments(ctx context.Context) ([]*models.WorkflowDeployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowDeployment
	for _, d := range s.byID {
		if d.Trigger == "cron" {
			cp := d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
