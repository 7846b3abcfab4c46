package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandofuc/tistis-platform-sub016/internal/billing"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/db/models"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
)

type fakeReconciler struct {
	report *billing.Report
	err    error
	runs   int
}

func (f *fakeReconciler) ProcessMonthlyBilling(context.Context) (*billing.Report, error) {
	f.runs++
	return f.report, f.err
}

func TestMonthlyBillingJobReportsAndSucceeds(t *testing.T) {
	reconciler := &fakeReconciler{report: &billing.Report{TenantsProcessed: 3}}
	job, err := NewMonthlyBillingJob(MonthlyBillingJobParams{
		Logger:     testLogger(),
		Reconciler: reconciler,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, reconciler.runs)
	assert.Equal(t, "monthly-overage-billing", job.Name())
}

func TestMonthlyBillingJobSurfacesBatchErrors(t *testing.T) {
	reconciler := &fakeReconciler{
		report: &billing.Report{TenantsProcessed: 2, Errors: []error{errors.New("boom")}},
		err:    errors.New("boom"),
	}
	job, err := NewMonthlyBillingJob(MonthlyBillingJobParams{
		Logger:     testLogger(),
		Reconciler: reconciler,
	})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}

type fakeBreakerStore struct {
	stuck []models.BreakerState
	err   error
	got   time.Time
	saved []models.BreakerState
}

func (f *fakeBreakerStore) ListStuckOpen(_ context.Context, openedBefore time.Time) ([]models.BreakerState, error) {
	f.got = openedBefore
	return f.stuck, f.err
}

func (f *fakeBreakerStore) Save(_ context.Context, state *models.BreakerState) error {
	f.saved = append(f.saved, *state)
	return nil
}

func TestBreakerJanitorUsesCutoff(t *testing.T) {
	store := &fakeBreakerStore{stuck: []models.BreakerState{{
		TenantID:          uuid.New(),
		State:             enums.BreakerStateOpen,
		FailureCount:      12,
		LastStateChangeAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}}}
	now := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	job, err := NewBreakerJanitorJob(BreakerJanitorJobParams{
		Logger:         testLogger(),
		Store:          store,
		StuckOpenAfter: 24 * time.Hour,
		Now:            func() time.Time { return now },
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-24*time.Hour), store.got)
	assert.Equal(t, "breaker-janitor", job.Name())

	require.Len(t, store.saved, 1)
	assert.Equal(t, enums.BreakerStateClosed, store.saved[0].State)
	assert.Equal(t, 0, store.saved[0].FailureCount)
	assert.Equal(t, now, store.saved[0].LastStateChangeAt)
}

func TestBreakerJanitorPropagatesStoreError(t *testing.T) {
	job, err := NewBreakerJanitorJob(BreakerJanitorJobParams{
		Logger: testLogger(),
		Store:  &fakeBreakerStore{err: errors.New("db down")},
	})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}
