package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"approval-gate/backend/internal/repository"
	"approval-gate/backend/pkg/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "approval-gate/backend/internal/services"

// MaxTimeoutMinutes is the largest timeout whose deadline still fits in a
// time.Duration.
const MaxTimeoutMinutes = int(math.MaxInt64 / int64(time.Minute))

// CreateWorkflowInput holds the caller-supplied fields of a new workflow.
type CreateWorkflowInput struct {
	Action         string
	RequestedBy    string
	Context        map[string]interface{}
	TimeoutMinutes int
}

// WorkflowService drives the approval state machine on top of a
// WorkflowStore. Deadlines are enforced lazily: every read or resolve
// checks the deadline before looking at the status.
type WorkflowService struct {
	store  repository.WorkflowStore
	logger Logger
	now    func() time.Time
	newID  func() string
	meter  metric.Meter

	transitions metric.Int64Counter
	conflicts   metric.Int64Counter
}

// Option configures a WorkflowService.
type Option func(*WorkflowService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *WorkflowService) { s.now = now }
}

// WithIDGenerator overrides workflow id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *WorkflowService) { s.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(s *WorkflowService) { s.logger = logger }
}

// WithMeter sets the meter used for transition metrics.
func WithMeter(meter metric.Meter) Option {
	return func(s *WorkflowService) { s.meter = meter }
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(store repository.WorkflowStore, opts ...Option) *WorkflowService {
	s := &WorkflowService{
		store:  store,
		logger: nopLogger{},
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.transitions, err = s.meter.Int64Counter("approval_gate.workflow.transitions",
		metric.WithDescription("Workflows entering a status"),
	); err != nil {
		s.logger.Warn("failed to create transitions counter", "error", err)
		s.transitions, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("noop")
	}
	if s.conflicts, err = s.meter.Int64Counter("approval_gate.workflow.conflicts",
		metric.WithDescription("Decisions rejected because the workflow was already resolved"),
	); err != nil {
		s.logger.Warn("failed to create conflicts counter", "error", err)
		s.conflicts, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("noop")
	}
	return s
}

// Create records a new PENDING workflow that expires TimeoutMinutes from now.
func (s *WorkflowService) Create(ctx context.Context, in CreateWorkflowInput) (*models.WorkflowRecord, error) {
	if in.TimeoutMinutes < 0 {
		return nil, &ValidationError{Field: "timeout_minutes", Reason: "must be greater than or equal to 0"}
	}
	if in.TimeoutMinutes > MaxTimeoutMinutes {
		return nil, &ValidationError{Field: "timeout_minutes", Reason: fmt.Sprintf("must be at most %d", MaxTimeoutMinutes)}
	}

	wfContext := in.Context
	if wfContext == nil {
		wfContext = map[string]interface{}{}
	}

	now := s.now().UTC()
	record := &models.WorkflowRecord{
		WorkflowID:  s.newID(),
		Action:      in.Action,
		RequestedBy: in.RequestedBy,
		Context:     wfContext,
		Status:      models.WorkflowStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(in.TimeoutMinutes) * time.Minute),
	}
	if err := s.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	s.logger.Info("Workflow created",
		"workflow_id", record.WorkflowID,
		"action", record.Action,
		"requested_by", record.RequestedBy,
		"expires_at", record.ExpiresAt,
	)
	s.countTransition(ctx, models.WorkflowStatusPending)
	return record.Clone(), nil
}

// Get returns the current state of a workflow, timing it out first if its
// deadline has passed.
func (s *WorkflowService) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	return s.fetch(ctx, id)
}

// Approve resolves a workflow as APPROVED.
func (s *WorkflowService) Approve(ctx context.Context, id, reviewer string) (*models.WorkflowRecord, error) {
	return s.Resolve(ctx, id, models.WorkflowStatusApproved, reviewer)
}

// Reject resolves a workflow as REJECTED.
func (s *WorkflowService) Reject(ctx context.Context, id, reviewer string) (*models.WorkflowRecord, error) {
	return s.Resolve(ctx, id, models.WorkflowStatusRejected, reviewer)
}

// Resolve moves a workflow to target on behalf of reviewer. Repeating the
// decision the workflow already carries is a no-op; any other decision on
// a terminal workflow fails with a *ConflictError.
func (s *WorkflowService) Resolve(ctx context.Context, id string, target models.WorkflowStatus, reviewer string) (*models.WorkflowRecord, error) {
	if target != models.WorkflowStatusApproved && target != models.WorkflowStatusRejected {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("cannot resolve to %s", target)}
	}

	record, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	for {
		switch nextOutcome(record.Status, target) {
		case outcomeNoop:
			s.logger.Debug("Repeated decision ignored", "workflow_id", id, "status", record.Status, "reviewed_by", reviewer)
			return record, nil
		case outcomeConflict:
			s.conflicts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("current_status", string(record.Status)),
				attribute.String("requested_status", string(target)),
			))
			s.logger.Info("Conflicting decision rejected",
				"workflow_id", id,
				"current_status", record.Status,
				"requested_status", target,
				"reviewed_by", reviewer,
			)
			return nil, &ConflictError{ID: id, CurrentStatus: record.Status}
		}

		now := s.now().UTC()
		pending := models.WorkflowStatusPending
		updated, err := s.store.Update(ctx, id, repository.WorkflowPatch{
			Status:     &target,
			ResolvedAt: &now,
			ResolvedBy: &reviewer,
			IfStatus:   &pending,
		})
		if errors.Is(err, repository.ErrStatusMismatch) {
			// Someone else resolved it first; judge the decision against theirs.
			record = updated
			continue
		}
		if err != nil {
			return nil, s.storeError(id, err)
		}

		s.logger.Info("Workflow resolved", "workflow_id", id, "status", target, "reviewed_by", reviewer)
		s.countTransition(ctx, target)
		return updated, nil
	}
}

func (s *WorkflowService) fetch(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError(id, err)
	}
	return s.applyLazyTimeout(ctx, record)
}

// applyLazyTimeout must run before any status is returned to a caller.
func (s *WorkflowService) applyLazyTimeout(ctx context.Context, record *models.WorkflowRecord) (*models.WorkflowRecord, error) {
	if record.Status != models.WorkflowStatusPending || !s.now().After(record.ExpiresAt) {
		return record, nil
	}

	timedOut := models.WorkflowStatusTimedOut
	pending := models.WorkflowStatusPending
	resolvedAt := record.ExpiresAt
	resolvedBy := models.TimeoutActor
	updated, err := s.store.Update(ctx, record.WorkflowID, repository.WorkflowPatch{
		Status:     &timedOut,
		ResolvedAt: &resolvedAt,
		ResolvedBy: &resolvedBy,
		IfStatus:   &pending,
	})
	switch {
	case err == nil:
		s.logger.Info("Workflow timed out", "workflow_id", record.WorkflowID, "expires_at", record.ExpiresAt)
		s.countTransition(ctx, models.WorkflowStatusTimedOut)
		return updated, nil
	case errors.Is(err, repository.ErrStatusMismatch):
		return updated, nil
	default:
		return nil, s.storeError(record.WorkflowID, err)
	}
}

func (s *WorkflowService) storeError(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{ID: id}
	}
	s.logger.Error("Workflow store failure", "workflow_id", id, "error", err)
	return err
}

func (s *WorkflowService) countTransition(ctx context.Context, status models.WorkflowStatus) {
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
