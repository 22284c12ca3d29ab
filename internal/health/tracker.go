// Package health tracks per-agent reliability and computes spawn backoff.
package health

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/pkg/models"
)

// Backoff schedules per failure class. Permission failures get no schedule:
// retrying cannot fix a permission wall, so the task is routed to a human
// instead.
const (
	networkBase = 5 * time.Second
	networkCap  = 5 * time.Minute
	crashBase   = 15 * time.Second
	crashCap    = 10 * time.Minute
)

// Change describes a health status transition, emitted when recording a
// result moves an agent across a status boundary.
type Change struct {
	Agent  string
	From   models.HealthStatus
	To     models.HealthStatus
	Health *models.AgentHealth
}

// Tracker records run outcomes per agent and derives backoff windows.
// All methods are safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	repo  *state.HealthRepo
	log   *zap.Logger
	clock func() time.Time
}

// NewTracker creates a Tracker over the health repo.
func NewTracker(repo *state.HealthRepo, log *zap.Logger) *Tracker {
	return &Tracker{repo: repo, log: log, clock: func() time.Time { return time.Now().UTC() }}
}

// RecordSuccess clears the failure streak and backoff for an agent.
// Returns a Change when the agent's status bucket moved.
func (t *Tracker) RecordSuccess(agent string) (*Change, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.repo.Get(agent)
	if err != nil {
		return nil, err
	}
	before := h.Status()

	now := t.clock()
	h.LastSuccessAt = &now
	h.ConsecutiveFailures = 0
	h.BackoffUntil = nil
	h.TotalRuns++
	h.TotalSuccesses++
	if err := t.repo.Put(h); err != nil {
		return nil, err
	}
	return t.change(h, before), nil
}

// RecordFailure bumps the failure streak and sets the backoff window for the
// failure class. Permission failures never set a backoff.
func (t *Tracker) RecordFailure(agent string, class models.FailureClass) (*Change, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.repo.Get(agent)
	if err != nil {
		return nil, err
	}
	before := h.Status()

	now := t.clock()
	h.LastFailureAt = &now
	h.ConsecutiveFailures++
	h.TotalRuns++
	if d := BackoffDuration(class, h.ConsecutiveFailures); d > 0 {
		until := now.Add(d)
		h.BackoffUntil = &until
	}
	if err := t.repo.Put(h); err != nil {
		return nil, err
	}

	t.log.Warn("agent failure recorded",
		zap.String("agent", agent),
		zap.String("class", string(class)),
		zap.Int("streak", h.ConsecutiveFailures),
		zap.String("status", string(h.Status())))
	return t.change(h, before), nil
}

// IsAvailable reports whether an agent may be spawned now.
func (t *Tracker) IsAvailable(agent string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, err := t.repo.Get(agent)
	if err != nil {
		return false, err
	}
	return h.IsAvailable(t.clock()), nil
}

// Get returns the current health row for an agent.
func (t *Tracker) Get(agent string) (*models.AgentHealth, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.repo.Get(agent)
}

// All returns every tracked agent's health keyed by name.
func (t *Tracker) All() (map[string]*models.AgentHealth, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.repo.All()
}

// Reset clears the streak and backoff for an agent, typically on operator
// request after fixing the underlying problem.
func (t *Tracker) Reset(agent string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.repo.Reset(agent); err != nil {
		return err
	}
	t.log.Info("agent health reset", zap.String("agent", agent))
	return nil
}

func (t *Tracker) change(h *models.AgentHealth, before models.HealthStatus) *Change {
	after := h.Status()
	if after == before {
		return nil
	}
	return &Change{Agent: h.Agent, From: before, To: after, Health: h}
}

// BackoffDuration returns the wait before the next attempt given a failure
// class and the consecutive failure count (1 = first failure).
//
//	network: 5s, 10s, 20s, ... capped at 5m
//	crash:   15s, 30s, 60s, ... capped at 10m
//	permission: zero, not retryable
func BackoffDuration(class models.FailureClass, consecutive int) time.Duration {
	if consecutive < 1 {
		consecutive = 1
	}
	var base, max time.Duration
	switch class {
	case models.FailureNetwork:
		base, max = networkBase, networkCap
	case models.FailureCrash:
		base, max = crashBase, crashCap
	case models.FailurePermission:
		return 0
	default:
		base, max = crashBase, crashCap
	}

	d := base
	for i := 1; i < consecutive; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Describe renders a short human summary for status output.
func Describe(h *models.AgentHealth, now time.Time) string {
	if h.BackoffUntil != nil && h.BackoffUntil.After(now) {
		return fmt.Sprintf("%s (backoff %s)", h.Status(), h.BackoffUntil.Sub(now).Round(time.Second))
	}
	return string(h.Status())
}
