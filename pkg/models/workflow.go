// Package models defines the domain and wire models for the approval gate
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of an approval workflow
type WorkflowStatus string

const (
	WorkflowStatusPending  WorkflowStatus = "PENDING"
	WorkflowStatusApproved WorkflowStatus = "APPROVED"
	WorkflowStatusRejected WorkflowStatus = "REJECTED"
	WorkflowStatusTimedOut WorkflowStatus = "TIMED_OUT"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusApproved, WorkflowStatusRejected, WorkflowStatusTimedOut:
		return true
	}
	return false
}

// TimeoutActor is recorded as resolved_by when a workflow times out.
const TimeoutActor = "system:timeout"

// WorkflowRecord is one approval request and its lifecycle.
type WorkflowRecord struct {
	WorkflowID  string                 `json:"workflow_id"`
	Action      string                 `json:"action"`
	RequestedBy string                 `json:"requested_by"`
	Context     map[string]interface{} `json:"context"`
	Status      WorkflowStatus         `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	ExpiresAt   time.Time              `json:"expires_at"`
	ResolvedAt  *time.Time             `json:"resolved_at"` // nil while PENDING
	ResolvedBy  *string                `json:"resolved_by"` // nil while PENDING
}

// Clone returns a deep copy of r, including nested Context values.
func (r *WorkflowRecord) Clone() *WorkflowRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Context != nil {
		c.Context = copyObject(r.Context)
	}
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		c.ResolvedAt = &at
	}
	if r.ResolvedBy != nil {
		by := *r.ResolvedBy
		c.ResolvedBy = &by
	}
	return &c
}

func copyObject(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue copies the container types produced by encoding/json. Scalars
// are immutable and returned as is.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyObject(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

// CreateWorkflowRequest is the body of POST /v1/workflows.
type CreateWorkflowRequest struct {
	Action         string                 `json:"action"`
	RequestedBy    string                 `json:"requested_by"`
	Context        map[string]interface{} `json:"context,omitempty"`
	TimeoutMinutes int                    `json:"timeout_minutes"`
}

// CreateWorkflowResponse is returned when a workflow is created.
type CreateWorkflowResponse struct {
	WorkflowID string         `json:"workflow_id"`
	Status     WorkflowStatus `json:"status"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// ReviewRequest is the body of the approve and reject endpoints.
type ReviewRequest struct {
	ReviewedBy string `json:"reviewed_by"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error         string         `json:"error"`
	CurrentStatus WorkflowStatus `json:"current_status,omitempty"`
	Detail        string         `json:"detail,omitempty"`
}
