package services

import (
	"context"

	"approval-gate/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Workflows is the set of operations the transport layers depend on.
type Workflows interface {
	// Create records a new PENDING workflow.
	Create(ctx context.Context, in CreateWorkflowInput) (*models.WorkflowRecord, error)
	// Get returns the current state of a workflow.
	Get(ctx context.Context, id string) (*models.WorkflowRecord, error)
	// Approve resolves a workflow as APPROVED.
	Approve(ctx context.Context, id, reviewer string) (*models.WorkflowRecord, error)
	// Reject resolves a workflow as REJECTED.
	Reject(ctx context.Context, id, reviewer string) (*models.WorkflowRecord, error)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
