package repository

import (
	"context"
	"fmt"
	"sync"

	"approval-gate/backend/pkg/models"
)

// MemoryWorkflowStore is an in-process implementation of the WorkflowStore
// interface. Records live for the lifetime of the process.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.WorkflowRecord
}

// NewMemoryWorkflowStore creates a new MemoryWorkflowStore.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]*models.WorkflowRecord)}
}

// Create inserts a new workflow.
func (s *MemoryWorkflowStore) Create(ctx context.Context, record *models.WorkflowRecord) error {
	if record == nil || record.WorkflowID == "" {
		return fmt.Errorf("create workflow: missing workflow id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[record.WorkflowID]; ok {
		return fmt.Errorf("create workflow %s: %w", record.WorkflowID, ErrAlreadyExists)
	}
	s.workflows[record.WorkflowID] = record.Clone()
	return nil
}

// Get retrieves a workflow by its ID.
func (s *MemoryWorkflowStore) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("get workflow %s: %w", id, ErrNotFound)
	}
	return record.Clone(), nil
}

// Update applies patch to an existing workflow.
func (s *MemoryWorkflowStore) Update(ctx context.Context, id string, patch WorkflowPatch) (*models.WorkflowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("update workflow %s: %w", id, ErrNotFound)
	}
	if patch.IfStatus != nil && record.Status != *patch.IfStatus {
		return record.Clone(), fmt.Errorf("update workflow %s: want %s, have %s: %w",
			id, *patch.IfStatus, record.Status, ErrStatusMismatch)
	}

	updated := record.Clone()
	if patch.Status != nil {
		updated.Status = *patch.Status
	}
	if patch.ResolvedAt != nil {
		at := *patch.ResolvedAt
		updated.ResolvedAt = &at
	}
	if patch.ResolvedBy != nil {
		by := *patch.ResolvedBy
		updated.ResolvedBy = &by
	}
	s.workflows[id] = updated
	return updated.Clone(), nil
}
