package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/pkg/models"
)

func testTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	store, err := state.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(store.Health, zap.NewNop())
	tr.clock = func() time.Time { return now }
	return tr, &now
}

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		class       models.FailureClass
		consecutive int
		want        time.Duration
	}{
		{models.FailureNetwork, 1, 5 * time.Second},
		{models.FailureNetwork, 2, 10 * time.Second},
		{models.FailureNetwork, 3, 20 * time.Second},
		{models.FailureNetwork, 7, 5 * time.Minute},
		{models.FailureNetwork, 100, 5 * time.Minute},
		{models.FailureCrash, 1, 15 * time.Second},
		{models.FailureCrash, 2, 30 * time.Second},
		{models.FailureCrash, 3, time.Minute},
		{models.FailureCrash, 6, 8 * time.Minute},
		{models.FailureCrash, 7, 10 * time.Minute},
		{models.FailureCrash, 100, 10 * time.Minute},
		{models.FailurePermission, 1, 0},
		{models.FailurePermission, 50, 0},
	}
	for _, tt := range tests {
		got := BackoffDuration(tt.class, tt.consecutive)
		assert.Equal(t, tt.want, got, "%s x%d", tt.class, tt.consecutive)
	}
}

func TestBackoffMonotonic(t *testing.T) {
	for _, class := range []models.FailureClass{models.FailureNetwork, models.FailureCrash} {
		prev := time.Duration(0)
		for k := 1; k <= 12; k++ {
			d := BackoffDuration(class, k)
			assert.GreaterOrEqual(t, d, prev, "%s x%d", class, k)
			prev = d
		}
	}
}

func TestFailureSetsBackoffAndStreak(t *testing.T) {
	tr, now := testTracker(t)

	_, err := tr.RecordFailure("claude", models.FailureNetwork)
	require.NoError(t, err)

	h, err := tr.Get("claude")
	require.NoError(t, err)
	assert.Equal(t, 1, h.ConsecutiveFailures)
	require.NotNil(t, h.BackoffUntil)
	assert.Equal(t, now.Add(5*time.Second), *h.BackoffUntil)

	ok, err := tr.IsAvailable("claude")
	require.NoError(t, err)
	assert.False(t, ok)

	*now = now.Add(6 * time.Second)
	ok, err = tr.IsAvailable("claude")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPermissionFailureNoBackoff(t *testing.T) {
	tr, _ := testTracker(t)

	_, err := tr.RecordFailure("codex", models.FailurePermission)
	require.NoError(t, err)

	h, _ := tr.Get("codex")
	assert.Equal(t, 1, h.ConsecutiveFailures)
	assert.Nil(t, h.BackoffUntil)

	ok, err := tr.IsAvailable("codex")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSuccessResetsStreak(t *testing.T) {
	tr, _ := testTracker(t)

	for i := 0; i < 3; i++ {
		_, err := tr.RecordFailure("amp", models.FailureCrash)
		require.NoError(t, err)
	}
	h, _ := tr.Get("amp")
	assert.Equal(t, models.HealthDegraded, h.Status())

	change, err := tr.RecordSuccess("amp")
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, models.HealthDegraded, change.From)
	assert.Equal(t, models.HealthHealthy, change.To)

	h, _ = tr.Get("amp")
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Nil(t, h.BackoffUntil)
	assert.Equal(t, 4, h.TotalRuns)
	assert.Equal(t, 1, h.TotalSuccesses)
}

func TestChangeEmittedOnThresholdCross(t *testing.T) {
	tr, _ := testTracker(t)

	change, err := tr.RecordFailure("opencode", models.FailureCrash)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, models.HealthHealthy, change.From)
	assert.Equal(t, models.HealthWarning, change.To)

	// Second and third failures both land in degraded, so only the second
	// crossing produces a change.
	change, err = tr.RecordFailure("opencode", models.FailureCrash)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, models.HealthDegraded, change.To)

	change, err = tr.RecordFailure("opencode", models.FailureCrash)
	require.NoError(t, err)
	assert.Nil(t, change)
}

func TestResetClearsBackoff(t *testing.T) {
	tr, _ := testTracker(t)

	for i := 0; i < 5; i++ {
		_, err := tr.RecordFailure("claude", models.FailureNetwork)
		require.NoError(t, err)
	}
	require.NoError(t, tr.Reset("claude"))

	h, _ := tr.Get("claude")
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Nil(t, h.BackoffUntil)
	assert.Equal(t, 5, h.TotalRuns)
}
