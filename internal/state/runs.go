package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fuelsh/fuel/internal/ids"
	"github.com/fuelsh/fuel/pkg/models"
)

// RunRepo provides typed access to the runs table.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a RunRepo backed by the given store.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

const runColumns = `short_id, task_id, agent, status, pid, exit_code, session_id,
	error_type, model, output_path, cost_usd, started_at, ended_at, duration_seconds`

// Create inserts a run, assigning a fresh short id.
func (r *RunRepo) Create(run *models.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if run.ShortID == "" {
			id, err := ids.New(ids.PrefixRun, attempt)
			if err != nil {
				return err
			}
			run.ShortID = id
		}
		_, err := r.db.Exec(`
			INSERT INTO runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ShortID, run.TaskID, run.Agent, string(run.Status), run.PID, run.ExitCode,
			run.SessionID, string(run.ErrorType), run.Model, run.OutputPath, run.CostUSD,
			formatTime(run.StartedAt), formatNullableTime(run.EndedAt), run.DurationSeconds,
		)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) && attempt < maxIDAttempts-1 {
			run.ShortID = ""
			continue
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return fmt.Errorf("insert run: exhausted id attempts")
}

// Update persists all mutable fields of the run.
func (r *RunRepo) Update(run *models.Run) error {
	res, err := r.db.Exec(`
		UPDATE runs SET
			task_id = ?, agent = ?, status = ?, pid = ?, exit_code = ?, session_id = ?,
			error_type = ?, model = ?, output_path = ?, cost_usd = ?,
			ended_at = ?, duration_seconds = ?
		WHERE short_id = ?
	`,
		run.TaskID, run.Agent, string(run.Status), run.PID, run.ExitCode, run.SessionID,
		string(run.ErrorType), run.Model, run.OutputPath, run.CostUSD,
		formatNullableTime(run.EndedAt), run.DurationSeconds,
		run.ShortID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ShortID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ShortID, err)
	}
	if n == 0 {
		return fmt.Errorf("update run %s: %w", run.ShortID, ErrNotFound)
	}
	return nil
}

// Get returns the run with the exact short id.
func (r *RunRepo) Get(shortID string) (*models.Run, error) {
	row := r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE short_id = ?`, shortID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", shortID, ErrNotFound)
	}
	return run, err
}

// Running returns all runs currently in the running state.
func (r *RunRepo) Running() ([]*models.Run, error) {
	rows, err := r.db.Query(`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY short_id`,
		string(models.RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("query running runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ByTask returns all runs for a task, newest first.
func (r *RunRepo) ByTask(taskID string) ([]*models.Run, error) {
	rows, err := r.db.Query(`SELECT `+runColumns+` FROM runs WHERE task_id = ? ORDER BY started_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query runs by task: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRun(s scanner) (*models.Run, error) {
	var (
		run                models.Run
		status, errorType  string
		startedAt, endedAt sql.NullString
	)
	err := s.Scan(
		&run.ShortID, &run.TaskID, &run.Agent, &status, &run.PID, &run.ExitCode,
		&run.SessionID, &errorType, &run.Model, &run.OutputPath, &run.CostUSD,
		&startedAt, &endedAt, &run.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.ErrorType = models.CompletionType(errorType)
	if startedAt.Valid {
		run.StartedAt, _ = parseTime(startedAt.String)
	}
	run.EndedAt = parseNullableTime(endedAt)
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*models.Run, error) {
	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
