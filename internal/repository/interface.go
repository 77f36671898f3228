package repository

import (
	"context"
	"errors"
	"time"

	"approval-gate/backend/pkg/models"
)

var (
	// ErrNotFound is returned when no workflow has the requested id.
	ErrNotFound = errors.New("workflow not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("workflow already exists")
	// ErrStatusMismatch is returned by Update when WorkflowPatch.IfStatus
	// does not match the stored status.
	ErrStatusMismatch = errors.New("workflow status mismatch")
)

// WorkflowPatch lists the fields an Update replaces. Nil fields are left
// untouched.
type WorkflowPatch struct {
	Status     *models.WorkflowStatus
	ResolvedAt *time.Time
	ResolvedBy *string

	// IfStatus, when set, makes the update conditional on the stored status.
	IfStatus *models.WorkflowStatus
}

// WorkflowStore is an interface for storing and retrieving workflows.
type WorkflowStore interface {
	// Create inserts a new workflow.
	Create(ctx context.Context, record *models.WorkflowRecord) error
	// Get retrieves a workflow by its ID.
	Get(ctx context.Context, id string) (*models.WorkflowRecord, error)
	// Update atomically applies patch to an existing workflow and returns
	// the result. On ErrStatusMismatch the current record is returned too.
	Update(ctx context.Context, id string, patch WorkflowPatch) (*models.WorkflowRecord, error)
}
