package task

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/plan"
	"github.com/fuelsh/fuel/pkg/models"
)

// CreateEpic inserts an epic and writes its plan file. With mirrors enabled,
// the epic starts with a pending mirror so the mirror manager picks it up.
func (s *Service) CreateEpic(e *models.Epic, mirrorsEnabled bool) error {
	if e.Title == "" {
		return fmt.Errorf("epic title is required")
	}
	if mirrorsEnabled {
		e.MirrorStatus = models.MirrorPending
	} else {
		e.MirrorStatus = models.MirrorNone
	}
	if err := s.store.Epics.Create(e); err != nil {
		return err
	}

	filename, err := plan.Create(s.plansDir, e.Title, e.Description, e.ShortID)
	if err != nil {
		return fmt.Errorf("create epic plan: %w", err)
	}
	e.PlanFilename = filename
	if err := s.store.Epics.Update(e); err != nil {
		return err
	}

	s.log.Info("epic created",
		zap.String("epic", e.ShortID),
		zap.String("plan", filename),
		zap.Bool("mirror", mirrorsEnabled))
	return nil
}

// FindEpic resolves a full or partial epic id.
func (s *Service) FindEpic(query string) (*models.Epic, error) {
	return s.store.Epics.Find(query)
}

// EpicStatus computes the epic's derived status from its tasks.
func (s *Service) EpicStatus(e *models.Epic) (models.EpicStatus, error) {
	tasks, err := s.store.Tasks.ByEpic(e.ShortID)
	if err != nil {
		return "", err
	}
	return e.ComputedStatus(tasks), nil
}

// PauseEpic marks an epic paused; its tasks stop being scheduled.
func (s *Service) PauseEpic(epicID string) (*models.Epic, error) {
	e, err := s.store.Epics.Find(epicID)
	if err != nil {
		return nil, err
	}
	if e.PausedAt == nil {
		now := time.Now().UTC()
		e.PausedAt = &now
		if err := s.store.Epics.Update(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ResumeEpic clears the paused marker.
func (s *Service) ResumeEpic(epicID string) (*models.Epic, error) {
	e, err := s.store.Epics.Find(epicID)
	if err != nil {
		return nil, err
	}
	if e.PausedAt != nil {
		e.PausedAt = nil
		if err := s.store.Epics.Update(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ApproveEpic records approval and enqueues a merge task when the epic has
// a ready mirror.
func (s *Service) ApproveEpic(epicID, approvedBy string) (*models.Epic, *models.Task, error) {
	e, err := s.store.Epics.Find(epicID)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	e.ApprovedAt = &now
	e.ApprovedBy = approvedBy
	if err := s.store.Epics.Update(e); err != nil {
		return nil, nil, err
	}

	var mergeTask *models.Task
	if e.MirrorStatus == models.MirrorReady {
		mergeTask, err = s.EnqueueMergeTask(e)
		if err != nil {
			return nil, nil, err
		}
	}
	return e, mergeTask, nil
}

// EnqueueMergeTask files the critical-priority merge task that merges an
// epic's mirror branch back into the primary checkout.
func (s *Service) EnqueueMergeTask(e *models.Epic) (*models.Task, error) {
	mergeTask := &models.Task{
		Title:      fmt.Sprintf("Merge epic %s: %s", e.ShortID, e.Title),
		Type:       models.TaskTypeMerge,
		Priority:   models.PriorityCritical,
		Complexity: models.ComplexityComplex,
		EpicID:     e.ShortID,
	}
	if err := s.store.Tasks.Create(mergeTask); err != nil {
		return nil, fmt.Errorf("enqueue merge task: %w", err)
	}
	s.log.Info("merge task enqueued",
		zap.String("epic", e.ShortID),
		zap.String("task", mergeTask.ShortID))
	return mergeTask, nil
}
