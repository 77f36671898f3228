package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"approval-gate/backend/internal/repository"
	"approval-gate/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*WorkflowService, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewWorkflowService(repository.NewMemoryWorkflowStore(), WithClock(clock.Now)), clock
}

func createWorkflow(t *testing.T, svc *WorkflowService, timeoutMinutes int) *models.WorkflowRecord {
	t.Helper()
	record, err := svc.Create(context.Background(), CreateWorkflowInput{
		Action:         "terminate-ec2-instance",
		RequestedBy:    "agent-1",
		Context:        map[string]interface{}{"instance_id": "i-abc123", "tags": map[string]interface{}{"env": "prod"}},
		TimeoutMinutes: timeoutMinutes,
	})
	require.NoError(t, err)
	return record
}

func TestWorkflowService_Create(t *testing.T) {
	svc, clock := newTestService(t)

	record := createWorkflow(t, svc, 30)

	assert.NotEmpty(t, record.WorkflowID)
	assert.Equal(t, models.WorkflowStatusPending, record.Status)
	assert.Equal(t, clock.Now(), record.CreatedAt)
	assert.Equal(t, record.CreatedAt.Add(30*time.Minute), record.ExpiresAt)
	assert.Nil(t, record.ResolvedAt)
	assert.Nil(t, record.ResolvedBy)
	assert.Equal(t, "prod", record.Context["tags"].(map[string]interface{})["env"])
}

func TestWorkflowService_CreateDefaultsContext(t *testing.T) {
	svc, _ := newTestService(t)

	record, err := svc.Create(context.Background(), CreateWorkflowInput{Action: "deploy", RequestedBy: "agent-2"})
	require.NoError(t, err)
	assert.NotNil(t, record.Context)
	assert.Empty(t, record.Context)
	assert.Equal(t, record.CreatedAt, record.ExpiresAt)
}

func TestWorkflowService_CreateRejectsNegativeTimeout(t *testing.T) {
	svc, _ := newTestService(t)

	record, err := svc.Create(context.Background(), CreateWorkflowInput{
		Action:         "deploy",
		RequestedBy:    "agent-2",
		TimeoutMinutes: -1,
	})
	assert.Nil(t, record)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "timeout_minutes", validationErr.Field)
}

func TestWorkflowService_CreateTimeoutBound(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)

	record := createWorkflow(t, svc, MaxTimeoutMinutes)
	assert.True(t, record.ExpiresAt.After(record.CreatedAt))
	assert.Equal(t, time.Duration(MaxTimeoutMinutes)*time.Minute, record.ExpiresAt.Sub(record.CreatedAt))

	clock.Advance(time.Second)
	got, err := svc.Get(ctx, record.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPending, got.Status)

	for _, minutes := range []int{MaxTimeoutMinutes + 1, 200_000_000} {
		record, err := svc.Create(ctx, CreateWorkflowInput{
			Action:         "deploy",
			RequestedBy:    "agent-2",
			TimeoutMinutes: minutes,
		})
		assert.Nil(t, record)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr, "timeout %d", minutes)
		assert.Equal(t, "timeout_minutes", validationErr.Field)
	}
}

func TestWorkflowService_ReturnedContextIsIsolated(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	input := map[string]interface{}{"instance_id": "i-abc123", "tags": map[string]interface{}{"env": "prod"}}
	created, err := svc.Create(ctx, CreateWorkflowInput{
		Action:         "terminate-ec2-instance",
		RequestedBy:    "agent-1",
		Context:        input,
		TimeoutMinutes: 5,
	})
	require.NoError(t, err)

	input["instance_id"] = "changed-by-caller"
	created.Context["tags"].(map[string]interface{})["env"] = "dev"

	got, err := svc.Get(ctx, created.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "i-abc123", got.Context["instance_id"])
	assert.Equal(t, "prod", got.Context["tags"].(map[string]interface{})["env"])

	got.Context["instance_id"] = "tampered"
	approved, err := svc.Approve(ctx, created.WorkflowID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "i-abc123", approved.Context["instance_id"])

	approved.Context["instance_id"] = "tampered"
	again, err := svc.Get(ctx, created.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "i-abc123", again.Context["instance_id"])
}

func TestWorkflowService_CreateUsesIDGenerator(t *testing.T) {
	svc := NewWorkflowService(repository.NewMemoryWorkflowStore(), WithIDGenerator(func() string { return "wf-1" }))

	record, err := svc.Create(context.Background(), CreateWorkflowInput{Action: "deploy", RequestedBy: "agent"})
	require.NoError(t, err)
	assert.Equal(t, "wf-1", record.WorkflowID)

	_, err = svc.Create(context.Background(), CreateWorkflowInput{Action: "deploy", RequestedBy: "agent"})
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)
}

func TestWorkflowService_GetUnknown(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "missing")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.ID)
}

func TestWorkflowService_LazyTimeout(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	record := createWorkflow(t, svc, 5)

	t.Run("still pending at the deadline", func(t *testing.T) {
		clock.Advance(5 * time.Minute)
		got, err := svc.Get(ctx, record.WorkflowID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusPending, got.Status)
	})

	t.Run("timed out just after the deadline", func(t *testing.T) {
		clock.Advance(time.Nanosecond)
		got, err := svc.Get(ctx, record.WorkflowID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusTimedOut, got.Status)
		require.NotNil(t, got.ResolvedAt)
		assert.Equal(t, record.ExpiresAt, *got.ResolvedAt)
		require.NotNil(t, got.ResolvedBy)
		assert.Equal(t, models.TimeoutActor, *got.ResolvedBy)
	})

	t.Run("timeout is persisted", func(t *testing.T) {
		got, err := svc.store.Get(ctx, record.WorkflowID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusTimedOut, got.Status)
	})
}

func TestWorkflowService_ZeroTimeoutExpiresImmediately(t *testing.T) {
	svc, clock := newTestService(t)
	record := createWorkflow(t, svc, 0)

	clock.Advance(time.Second)
	_, err := svc.Approve(context.Background(), record.WorkflowID, "alice")

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, models.WorkflowStatusTimedOut, conflict.CurrentStatus)
}

func TestWorkflowService_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		first      models.WorkflowStatus
		second     models.WorkflowStatus
		wantStatus models.WorkflowStatus
		wantErr    bool
	}{
		{"approve twice is idempotent", models.WorkflowStatusApproved, models.WorkflowStatusApproved, models.WorkflowStatusApproved, false},
		{"reject twice is idempotent", models.WorkflowStatusRejected, models.WorkflowStatusRejected, models.WorkflowStatusRejected, false},
		{"reject after approve conflicts", models.WorkflowStatusApproved, models.WorkflowStatusRejected, models.WorkflowStatusApproved, true},
		{"approve after reject conflicts", models.WorkflowStatusRejected, models.WorkflowStatusApproved, models.WorkflowStatusRejected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, clock := newTestService(t)
			record := createWorkflow(t, svc, 30)

			first, err := svc.Resolve(ctx, record.WorkflowID, tt.first, "alice")
			require.NoError(t, err)
			assert.Equal(t, tt.first, first.Status)
			require.NotNil(t, first.ResolvedBy)
			assert.Equal(t, "alice", *first.ResolvedBy)
			require.NotNil(t, first.ResolvedAt)
			assert.Equal(t, clock.Now(), *first.ResolvedAt)

			clock.Advance(time.Minute)
			second, err := svc.Resolve(ctx, record.WorkflowID, tt.second, "bob")
			if tt.wantErr {
				var conflict *ConflictError
				require.ErrorAs(t, err, &conflict)
				assert.Equal(t, tt.wantStatus, conflict.CurrentStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, second.Status)
			assert.Equal(t, "alice", *second.ResolvedBy)
			assert.Equal(t, *first.ResolvedAt, *second.ResolvedAt)
		})
	}
}

func TestWorkflowService_ResolveAfterDeadline(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	record := createWorkflow(t, svc, 1)

	clock.Advance(2 * time.Minute)

	for _, resolve := range []func(context.Context, string, string) (*models.WorkflowRecord, error){svc.Approve, svc.Reject} {
		_, err := resolve(ctx, record.WorkflowID, "alice")
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, models.WorkflowStatusTimedOut, conflict.CurrentStatus)
	}
}

func TestWorkflowService_ResolveUnknown(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Approve(context.Background(), "missing", "alice")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = svc.Reject(context.Background(), "missing", "alice")
	assert.ErrorAs(t, err, &notFound)
}

func TestWorkflowService_ResolveRejectsNonDecisionTarget(t *testing.T) {
	svc, _ := newTestService(t)
	record := createWorkflow(t, svc, 30)

	_, err := svc.Resolve(context.Background(), record.WorkflowID, models.WorkflowStatusTimedOut, "alice")
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestWorkflowService_ConcurrentDecisionsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	record := createWorkflow(t, svc, 30)

	const reviewers = 50
	results := make(chan error, reviewers)
	var wg sync.WaitGroup
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = svc.Approve(ctx, record.WorkflowID, "approver")
			} else {
				_, err = svc.Reject(ctx, record.WorkflowID, "rejecter")
			}
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	final, err := svc.Get(ctx, record.WorkflowID)
	require.NoError(t, err)
	require.True(t, final.Status.IsTerminal())

	var successes, conflicts int
	for err := range results {
		var conflict *ConflictError
		switch {
		case err == nil:
			successes++
		case errors.As(err, &conflict):
			conflicts++
			assert.Equal(t, final.Status, conflict.CurrentStatus)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, reviewers/2, successes)
	assert.Equal(t, reviewers/2, conflicts)
}

// MockWorkflowStore satisfies repository.WorkflowStore
type MockWorkflowStore struct {
	mock.Mock
}

func (m *MockWorkflowStore) Create(ctx context.Context, record *models.WorkflowRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockWorkflowStore) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowRecord), args.Error(1)
}

func (m *MockWorkflowStore) Update(ctx context.Context, id string, patch repository.WorkflowPatch) (*models.WorkflowRecord, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowRecord), args.Error(1)
}

func TestWorkflowService_LostRaceIsJudgedAgainstWinner(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := new(MockWorkflowStore)
	svc := NewWorkflowService(store, WithClock(clock.Now))

	pending := &models.WorkflowRecord{
		WorkflowID: "wf-1",
		Status:     models.WorkflowStatusPending,
		CreatedAt:  clock.Now(),
		ExpiresAt:  clock.Now().Add(time.Hour),
	}
	by := "bob"
	at := clock.Now()
	rejected := pending.Clone()
	rejected.Status = models.WorkflowStatusRejected
	rejected.ResolvedAt = &at
	rejected.ResolvedBy = &by

	store.On("Get", mock.Anything, "wf-1").Return(pending, nil)
	store.On("Update", mock.Anything, "wf-1", mock.MatchedBy(func(p repository.WorkflowPatch) bool {
		return p.IfStatus != nil && *p.IfStatus == models.WorkflowStatusPending &&
			p.Status != nil && *p.Status == models.WorkflowStatusApproved
	})).Return(rejected, repository.ErrStatusMismatch).Once()

	_, err := svc.Approve(ctx, "wf-1", "alice")

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, models.WorkflowStatusRejected, conflict.CurrentStatus)
	store.AssertExpectations(t)
}

func TestWorkflowService_StoreFailureIsSurfaced(t *testing.T) {
	store := new(MockWorkflowStore)
	svc := NewWorkflowService(store)
	boom := errors.New("boom")

	store.On("Get", mock.Anything, "wf-1").Return(nil, boom)

	_, err := svc.Get(context.Background(), "wf-1")
	assert.ErrorIs(t, err, boom)
	var notFound *NotFoundError
	assert.False(t, errors.As(err, &notFound))
}

func TestNextOutcome(t *testing.T) {
	statuses := []models.WorkflowStatus{
		models.WorkflowStatusPending,
		models.WorkflowStatusApproved,
		models.WorkflowStatusRejected,
		models.WorkflowStatusTimedOut,
	}
	for _, from := range statuses {
		for _, to := range statuses[1:] {
			got := nextOutcome(from, to)
			switch {
			case from == models.WorkflowStatusPending:
				assert.Equal(t, outcomeApply, got, "%s -> %s", from, to)
			case from == to:
				assert.Equal(t, outcomeNoop, got, "%s -> %s", from, to)
			default:
				assert.Equal(t, outcomeConflict, got, "%s -> %s", from, to)
			}
		}
	}
	assert.Equal(t, outcomeConflict, nextOutcome(models.WorkflowStatusApproved, models.WorkflowStatusPending))
}

// counterValues sums an int64 counter by the value of attribute key.
func counterValues(t *testing.T, reader *sdkmetric.ManualReader, name, key string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	values := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is %T", name, m.Data)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key(key))
				values[v.AsString()] += dp.Value
			}
		}
	}
	return values
}

func TestWorkflowService_Metrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	clock := newFakeClock()
	svc := NewWorkflowService(repository.NewMemoryWorkflowStore(),
		WithClock(clock.Now),
		WithMeter(provider.Meter("test")),
	)

	approved := createWorkflow(t, svc, 10)
	expiring := createWorkflow(t, svc, 1)

	_, err := svc.Approve(ctx, approved.WorkflowID, "alice")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, approved.WorkflowID, "alice")
	require.NoError(t, err)
	_, err = svc.Reject(ctx, approved.WorkflowID, "bob")
	require.Error(t, err)

	clock.Advance(2 * time.Minute)
	_, err = svc.Get(ctx, expiring.WorkflowID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, expiring.WorkflowID, "carol")
	require.Error(t, err)

	assert.Equal(t, map[string]int64{
		"PENDING":   2,
		"APPROVED":  1,
		"TIMED_OUT": 1,
	}, counterValues(t, reader, "approval_gate.workflow.transitions", "status"))

	assert.Equal(t, map[string]int64{
		"APPROVED":  1,
		"TIMED_OUT": 1,
	}, counterValues(t, reader, "approval_gate.workflow.conflicts", "current_status"))

	assert.Equal(t, map[string]int64{
		"REJECTED": 1,
		"APPROVED": 1,
	}, counterValues(t, reader, "approval_gate.workflow.conflicts", "requested_status"))
}
