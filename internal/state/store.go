package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fuelsh/fuel/pkg/models"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Store bundles the typed repositories over one database.
type Store struct {
	DB      *DB
	Tasks   *TaskRepo
	Epics   *EpicRepo
	Runs    *RunRepo
	Reviews *ReviewRepo
	Health  *HealthRepo
}

// NewStore opens the database at path, migrates it, and wires repositories.
func NewStore(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return newStore(db), nil
}

// NewMemoryStore builds an in-memory store for tests.
func NewMemoryStore() (*Store, error) {
	db, err := OpenMemory()
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return newStore(db), nil
}

func newStore(db *DB) *Store {
	return &Store{
		DB:      db,
		Tasks:   NewTaskRepo(db),
		Epics:   NewEpicRepo(db),
		Runs:    NewRunRepo(db),
		Reviews: NewReviewRepo(db),
		Health:  NewHealthRepo(db),
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Board is one consistent read of everything the snapshot builder needs.
type Board struct {
	Tasks  []*models.Task
	Epics  []*models.Epic
	Runs   []*models.Run
	Health map[string]*models.AgentHealth
}

// ReadBoard loads tasks, epics, running runs, and health in one transaction
// so the snapshot never mixes generations.
func (s *Store) ReadBoard() (*Board, error) {
	board := &Board{Health: make(map[string]*models.AgentHealth)}
	err := s.DB.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY short_id`)
		if err != nil {
			return fmt.Errorf("board tasks: %w", err)
		}
		board.Tasks, err = scanTasks(rows)
		rows.Close()
		if err != nil {
			return err
		}

		rows, err = tx.Query(`SELECT ` + epicColumns + ` FROM epics ORDER BY short_id`)
		if err != nil {
			return fmt.Errorf("board epics: %w", err)
		}
		for rows.Next() {
			e, err := scanEpic(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("board scan epic: %w", err)
			}
			board.Epics = append(board.Epics, e)
		}
		rows.Close()

		rows, err = tx.Query(`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY short_id`,
			string(models.RunStatusRunning))
		if err != nil {
			return fmt.Errorf("board runs: %w", err)
		}
		board.Runs, err = scanRuns(rows)
		rows.Close()
		if err != nil {
			return err
		}

		rows, err = tx.Query(`SELECT ` + healthColumns + ` FROM agent_health`)
		if err != nil {
			return fmt.Errorf("board health: %w", err)
		}
		for rows.Next() {
			h, err := scanHealth(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("board scan health: %w", err)
			}
			board.Health[h.Agent] = h
		}
		rows.Close()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

// RecoverOrphanedRuns finalizes runs left in the running state by a dead
// daemon and clears the consumed flag on their tasks. Returns the number of
// runs recovered.
func (s *Store) RecoverOrphanedRuns() (int, error) {
	running, err := s.Runs.Running()
	if err != nil {
		return 0, err
	}
	for _, run := range running {
		now := nowUTC()
		run.Status = models.RunStatusFailed
		run.ErrorType = models.CompletionFailed
		run.ExitCode = -1
		run.EndedAt = &now
		run.DurationSeconds = now.Sub(run.StartedAt).Seconds()
		if err := s.Runs.Update(run); err != nil {
			return 0, err
		}

		task, err := s.Tasks.Get(run.TaskID)
		if err != nil {
			continue // reviews run under synthetic task ids
		}
		task.Consumed = false
		task.ConsumedAt = nil
		task.ConsumePID = 0
		if task.Status == models.TaskStatusInProgress {
			task.Status = models.TaskStatusOpen
		}
		if err := s.Tasks.Update(task); err != nil {
			return 0, err
		}
	}
	return len(running), nil
}
