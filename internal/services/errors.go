package services

import (
	"fmt"

	"approval-gate/backend/pkg/models"
)

// ValidationError reports a malformed create request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown workflow id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow '%s' not found", e.ID)
}

// ConflictError reports a decision on a workflow that already reached a
// different terminal status.
type ConflictError struct {
	ID            string
	CurrentStatus models.WorkflowStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("workflow '%s' already resolved: %s", e.ID, e.CurrentStatus)
}
