package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/runlet/engine/common/models"
)

// Memory is an in-process ExecutionStore. Used by tests and dev mode.
type Memory struct {
	mu   sync.RWMutex
	byID map[string]*models.WorkflowExecution
}

// NewMemory creates an empty in-memory execution store.
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]*models.WorkflowExecution)}
}

func (s *Memory) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.ID == "" {
		return fmt.Errorf("execution id is required")
	}
	cp, err := deepCopy(execution)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.byID[execution.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *Memory) Get(ctx context.Context, id, organizationID string) (*models.WorkflowExecution, error) {
	s.mu.RLock()
	found, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok || found.OrganizationID != organizationID {
		return nil, &NotFoundError{ID: id}
	}
	return deepCopy(found)
}

func (s *Memory) List(ctx context.Context, organizationID string, f Filter) ([]*models.WorkflowExecution, error) {
	f = f.Normalize()

	s.mu.RLock()
	var matched []*models.WorkflowExecution
	for _, e := range s.byID {
		if e.OrganizationID != organizationID {
			continue
		}
		if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
			continue
		}
		if f.DeploymentID != "" && (e.DeploymentID == nil || *e.DeploymentID != f.DeploymentID) {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].EndedAt.Equal(matched[j].EndedAt) {
			return matched[i].EndedAt.After(matched[j].EndedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if f.Offset >= len(matched) {
		return []*models.WorkflowExecution{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]*models.WorkflowExecution, 0, len(matched))
	for _, e := range matched {
		cp, err := deepCopy(e)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func deepCopy(e *models.WorkflowExecution) (*models.WorkflowExecution, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to copy execution record: %w", err)
	}
	var cp models.WorkflowExecution
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("failed to copy execution record: %w", err)
	}
	return &cp, nil
}
