package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fuelsh/fuel/internal/ids"
	"github.com/fuelsh/fuel/pkg/models"
)

// ErrNotFound indicates no row matched the given id.
var ErrNotFound = errors.New("not found")

// ErrAmbiguous indicates a partial id matched more than one row.
var ErrAmbiguous = errors.New("ambiguous id")

// maxIDAttempts bounds short-id collision retries at insert time.
const maxIDAttempts = 10

// TaskRepo provides typed access to the tasks table.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo creates a TaskRepo backed by the given store.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

const taskColumns = `short_id, title, description, type, status, priority, complexity,
	labels, blocked_by, epic_id, commit_hash, reason,
	consumed, consumed_at, consume_pid, last_review_issues,
	selfguided_iteration, selfguided_stuck_count, retry_count,
	created_at, updated_at, completed_at`

// Create inserts a task, assigning a fresh short id. Id generation widens
// adaptively when collisions occur.
func (r *TaskRepo) Create(t *models.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.TaskStatusOpen
	}
	if t.Type == "" {
		t.Type = models.TaskTypeTask
	}
	if t.Complexity == "" {
		t.Complexity = models.ComplexityModerate
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if t.ShortID == "" {
			id, err := ids.New(ids.PrefixTask, attempt)
			if err != nil {
				return err
			}
			t.ShortID = id
		}
		err := r.insert(t)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) && attempt < maxIDAttempts-1 {
			t.ShortID = ""
			continue
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return fmt.Errorf("insert task: exhausted id attempts")
}

func (r *TaskRepo) insert(t *models.Task) error {
	_, err := r.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ShortID, t.Title, t.Description, string(t.Type), string(t.Status), t.Priority, string(t.Complexity),
		marshalStrings(t.Labels), marshalStrings(t.BlockedBy), nullString(t.EpicID), t.CommitHash, t.Reason,
		boolToInt(t.Consumed), formatNullableTime(t.ConsumedAt), t.ConsumePID, marshalStrings(t.LastReviewIssues),
		t.SelfGuidedIteration, t.SelfGuidedStuckCount, t.RetryCount,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), formatNullableTime(t.CompletedAt),
	)
	return err
}

// Update persists all mutable fields of the task.
func (r *TaskRepo) Update(t *models.Task) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE tasks SET
			title = ?, description = ?, type = ?, status = ?, priority = ?, complexity = ?,
			labels = ?, blocked_by = ?, epic_id = ?, commit_hash = ?, reason = ?,
			consumed = ?, consumed_at = ?, consume_pid = ?, last_review_issues = ?,
			selfguided_iteration = ?, selfguided_stuck_count = ?, retry_count = ?,
			updated_at = ?, completed_at = ?
		WHERE short_id = ?
	`,
		t.Title, t.Description, string(t.Type), string(t.Status), t.Priority, string(t.Complexity),
		marshalStrings(t.Labels), marshalStrings(t.BlockedBy), nullString(t.EpicID), t.CommitHash, t.Reason,
		boolToInt(t.Consumed), formatNullableTime(t.ConsumedAt), t.ConsumePID, marshalStrings(t.LastReviewIssues),
		t.SelfGuidedIteration, t.SelfGuidedStuckCount, t.RetryCount,
		formatTime(t.UpdatedAt), formatNullableTime(t.CompletedAt),
		t.ShortID,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ShortID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ShortID, err)
	}
	if n == 0 {
		return fmt.Errorf("update task %s: %w", t.ShortID, ErrNotFound)
	}
	return nil
}

// Get returns the task with the exact short id.
func (r *TaskRepo) Get(shortID string) (*models.Task, error) {
	row := r.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE short_id = ?`, shortID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", shortID, ErrNotFound)
	}
	return t, err
}

// Find resolves a full or partial id to exactly one task. Partial ids may
// omit the "f-" prefix; two or more matches yield ErrAmbiguous.
func (r *TaskRepo) Find(query string) (*models.Task, error) {
	if t, err := r.Get(ids.Normalize(query)); err == nil {
		return t, nil
	}

	all, err := r.All()
	if err != nil {
		return nil, err
	}
	var matches []*models.Task
	for _, t := range all {
		if ids.MatchesPartial(t.ShortID, query) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("task %q: %w", query, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("task %q matches %d tasks: %w", query, len(matches), ErrAmbiguous)
	}
}

// All returns every task ordered by short id for stable output.
func (r *TaskRepo) All() ([]*models.Task, error) {
	rows, err := r.db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY short_id`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ByStatus returns tasks with the given status.
func (r *TaskRepo) ByStatus(status models.TaskStatus) ([]*models.Task, error) {
	rows, err := r.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY short_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ByEpic returns tasks belonging to the given epic.
func (r *TaskRepo) ByEpic(epicID string) ([]*models.Task, error) {
	rows, err := r.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE epic_id = ? ORDER BY short_id`, epicID)
	if err != nil {
		return nil, fmt.Errorf("query tasks by epic: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Delete removes a task row.
func (r *TaskRepo) Delete(shortID string) error {
	res, err := r.db.Exec(`DELETE FROM tasks WHERE short_id = ?`, shortID)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", shortID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("delete task %s: %w", shortID, ErrNotFound)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.Task, error) {
	var (
		t                              models.Task
		typ, status, complexity        string
		labels, blockedBy, issues      string
		epicID                         sql.NullString
		consumed                       int
		consumedAt, createdAt          sql.NullString
		updatedAt, completedAt         sql.NullString
	)
	err := s.Scan(
		&t.ShortID, &t.Title, &t.Description, &typ, &status, &t.Priority, &complexity,
		&labels, &blockedBy, &epicID, &t.CommitHash, &t.Reason,
		&consumed, &consumedAt, &t.ConsumePID, &issues,
		&t.SelfGuidedIteration, &t.SelfGuidedStuckCount, &t.RetryCount,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Type = models.TaskType(typ)
	t.Status = models.TaskStatus(status)
	t.Complexity = models.Complexity(complexity)
	t.Labels = unmarshalStrings(labels)
	t.BlockedBy = unmarshalStrings(blockedBy)
	t.LastReviewIssues = unmarshalStrings(issues)
	t.EpicID = epicID.String
	t.Consumed = consumed != 0
	t.ConsumedAt = parseNullableTime(consumedAt)
	if createdAt.Valid {
		t.CreatedAt, _ = parseTime(createdAt.String)
	}
	if updatedAt.Valid {
		t.UpdatedAt, _ = parseTime(updatedAt.String)
	}
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// marshalStrings encodes a string slice as a JSON array for storage.
func marshalStrings(s []string) string {
	if len(s) == 0 {
		return "[]"
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// unmarshalStrings decodes a stored JSON array.
func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether the error is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
