// Package task implements the task and epic services: CRUD, dependency
// management with cycle prevention, and the status state machine.
package task

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/pkg/models"
)

// ErrCycleDetected indicates a dependency edge would close a cycle.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrInvalidTransition indicates a forbidden status change.
var ErrInvalidTransition = errors.New("invalid status transition")

// CycleError carries the offending dependency path for diagnostics.
type CycleError struct {
	// Path is the blocker chain that closes the cycle, from → ... → from.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %v", e.Path)
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// Service coordinates task and epic mutations over the store.
type Service struct {
	store    *state.Store
	plansDir string
	log      *zap.Logger
}

// NewService creates a Service. plansDir is where epic plans are written.
func NewService(store *state.Store, plansDir string, log *zap.Logger) *Service {
	return &Service{store: store, plansDir: plansDir, log: log}
}

// Create validates and inserts a new task.
func (s *Service) Create(t *models.Task) error {
	if t.Title == "" {
		return fmt.Errorf("task title is required")
	}
	if t.Type != "" && !t.Type.Valid() {
		return fmt.Errorf("invalid task type %q", t.Type)
	}
	if t.Complexity != "" && !t.Complexity.Valid() {
		return fmt.Errorf("invalid complexity %q", t.Complexity)
	}
	if t.Priority < models.PriorityCritical || t.Priority > models.PriorityLowest {
		return fmt.Errorf("priority must be between %d and %d", models.PriorityCritical, models.PriorityLowest)
	}
	if t.EpicID != "" {
		if _, err := s.store.Epics.Get(t.EpicID); err != nil {
			return fmt.Errorf("epic for task: %w", err)
		}
	}
	for _, blocker := range t.BlockedBy {
		if _, err := s.store.Tasks.Get(blocker); err != nil {
			return fmt.Errorf("blocker %s: %w", blocker, err)
		}
	}
	if err := s.store.Tasks.Create(t); err != nil {
		return err
	}
	s.log.Info("task created",
		zap.String("task", t.ShortID),
		zap.String("title", t.Title),
		zap.String("type", string(t.Type)))
	return nil
}

// Update persists a task after validating its status.
func (s *Service) Update(t *models.Task) error {
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	return s.store.Tasks.Update(t)
}

// Find resolves a full or partial task id.
func (s *Service) Find(query string) (*models.Task, error) {
	return s.store.Tasks.Find(query)
}

// All returns every task.
func (s *Service) All() ([]*models.Task, error) {
	return s.store.Tasks.All()
}

// AddDependency records that `from` is blocked by `to`. The edge is refused
// when it would close a cycle: a breadth-first walk from `to` through
// existing blockers must not reach `from`.
func (s *Service) AddDependency(fromID, toID string) error {
	from, err := s.store.Tasks.Find(fromID)
	if err != nil {
		return err
	}
	to, err := s.store.Tasks.Find(toID)
	if err != nil {
		return err
	}
	if from.ShortID == to.ShortID {
		return &CycleError{Path: []string{from.ShortID, to.ShortID}}
	}
	if from.BlockedByTask(to.ShortID) {
		return nil
	}

	all, err := s.store.Tasks.All()
	if err != nil {
		return err
	}
	if path := findPath(all, to.ShortID, from.ShortID); path != nil {
		return &CycleError{Path: append([]string{from.ShortID}, path...)}
	}

	from.BlockedBy = append(from.BlockedBy, to.ShortID)
	if err := s.store.Tasks.Update(from); err != nil {
		return err
	}
	s.log.Info("dependency added",
		zap.String("task", from.ShortID),
		zap.String("blocked_by", to.ShortID))
	return nil
}

// RemoveDependency deletes the edge if present. Idempotent.
func (s *Service) RemoveDependency(fromID, toID string) error {
	from, err := s.store.Tasks.Find(fromID)
	if err != nil {
		return err
	}
	if !from.BlockedByTask(toID) {
		return nil
	}
	out := from.BlockedBy[:0]
	for _, b := range from.BlockedBy {
		if b != toID {
			out = append(out, b)
		}
	}
	from.BlockedBy = out
	return s.store.Tasks.Update(from)
}

// findPath runs a breadth-first search through blocked_by edges from start,
// returning the path start→...→target if target is reachable.
func findPath(all []*models.Task, start, target string) []string {
	byID := make(map[string]*models.Task, len(all))
	for _, t := range all {
		byID[t.ShortID] = t
	}

	type node struct {
		id   string
		path []string
	}
	queue := []node{{id: start, path: []string{start}}}
	visited := map[string]bool{start: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.id == target {
			return cur.path
		}
		t, ok := byID[cur.id]
		if !ok {
			continue
		}
		for _, next := range t.BlockedBy {
			if visited[next] {
				continue
			}
			visited[next] = true
			path := append(append([]string{}, cur.path...), next)
			queue = append(queue, node{id: next, path: path})
		}
	}
	return nil
}

// Start transitions a task to in_progress.
func (s *Service) Start(taskID string) (*models.Task, error) {
	t, err := s.store.Tasks.Find(taskID)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanTransition(models.TaskStatusInProgress) {
		return nil, fmt.Errorf("start %s from %s: %w", t.ShortID, t.Status, ErrInvalidTransition)
	}
	t.Status = models.TaskStatusInProgress
	if err := s.store.Tasks.Update(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Done marks a task done, recording an optional reason and commit, and
// closes any pending review row.
func (s *Service) Done(taskID, reason, commitHash string) (*models.Task, error) {
	t, err := s.store.Tasks.Find(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return t, nil
	}
	now := time.Now().UTC()
	t.Status = models.TaskStatusDone
	t.CompletedAt = &now
	if reason != "" {
		t.Reason = reason
	}
	if commitHash != "" {
		t.CommitHash = commitHash
	}
	if err := s.store.Tasks.Update(t); err != nil {
		return nil, err
	}

	if rev, err := s.store.Reviews.PendingByTask(t.ShortID); err == nil {
		rev.Status = models.ReviewStatusCompleted
		rev.CompletedAt = &now
		if err := s.store.Reviews.Update(rev); err != nil {
			s.log.Warn("close pending review", zap.String("task", t.ShortID), zap.Error(err))
		}
	}

	s.log.Info("task done", zap.String("task", t.ShortID), zap.String("reason", reason))
	return t, nil
}

// Reopen returns a task to the open state. A no-op when already open.
func (s *Service) Reopen(taskID string) (*models.Task, error) {
	t, err := s.store.Tasks.Find(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == models.TaskStatusOpen {
		return t, nil
	}
	t.Status = models.TaskStatusOpen
	t.CompletedAt = nil
	if err := s.store.Tasks.Update(t); err != nil {
		return nil, err
	}
	s.log.Info("task reopened", zap.String("task", t.ShortID))
	return t, nil
}

// Cancel tombstones a task.
func (s *Service) Cancel(taskID, reason string) (*models.Task, error) {
	t, err := s.store.Tasks.Find(taskID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t.Status = models.TaskStatusCancelled
	t.CompletedAt = &now
	if reason != "" {
		t.Reason = reason
	}
	if err := s.store.Tasks.Update(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes a task row entirely.
func (s *Service) Delete(taskID string) error {
	t, err := s.store.Tasks.Find(taskID)
	if err != nil {
		return err
	}
	return s.store.Tasks.Delete(t.ShortID)
}

// CreateNeedsHumanBlocker creates a needs-human sibling for the task and
// adds it as a blocker, pulling the original out of the ready set until a
// human resolves it.
func (s *Service) CreateNeedsHumanBlocker(t *models.Task, why string) (*models.Task, error) {
	blocker := &models.Task{
		Title:       "NEEDS HUMAN: " + t.Title,
		Description: why,
		Type:        models.TaskTypeTask,
		Priority:    models.PriorityCritical,
		Complexity:  models.ComplexityTrivial,
		Labels:      []string{models.LabelNeedsHuman},
		EpicID:      t.EpicID,
	}
	if err := s.store.Tasks.Create(blocker); err != nil {
		return nil, err
	}
	t.BlockedBy = append(t.BlockedBy, blocker.ShortID)
	if err := s.store.Tasks.Update(t); err != nil {
		return nil, err
	}
	s.log.Warn("needs-human blocker created",
		zap.String("task", t.ShortID),
		zap.String("blocker", blocker.ShortID),
		zap.String("why", why))
	return blocker, nil
}
