package services

import "approval-gate/backend/pkg/models"

// outcome is what a requested transition does to a workflow.
type outcome int

const (
	outcomeConflict outcome = iota
	outcomeNoop
	outcomeApply
)

func (o outcome) String() string {
	switch o {
	case outcomeNoop:
		return "noop"
	case outcomeApply:
		return "apply"
	}
	return "conflict"
}

type transition struct {
	from, to models.WorkflowStatus
}

// transitions is keyed by (current, target). Pairs that are not listed are
// conflicts.
var transitions = map[transition]outcome{
	{models.WorkflowStatusPending, models.WorkflowStatusApproved}: outcomeApply,
	{models.WorkflowStatusPending, models.WorkflowStatusRejected}: outcomeApply,
	{models.WorkflowStatusPending, models.WorkflowStatusTimedOut}: outcomeApply,

	{models.WorkflowStatusApproved, models.WorkflowStatusApproved}: outcomeNoop,
	{models.WorkflowStatusRejected, models.WorkflowStatusRejected}: outcomeNoop,
	{models.WorkflowStatusTimedOut, models.WorkflowStatusTimedOut}: outcomeNoop,
}

func nextOutcome(current, target models.WorkflowStatus) outcome {
	if o, ok := transitions[transition{from: current, to: target}]; ok {
		return o
	}
	return outcomeConflict
}
