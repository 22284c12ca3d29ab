package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fuelsh/fuel/internal/ids"
	"github.com/fuelsh/fuel/pkg/models"
)

// ReviewRepo provides typed access to the reviews table.
type ReviewRepo struct {
	db *DB
}

// NewReviewRepo creates a ReviewRepo backed by the given store.
func NewReviewRepo(db *DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

const reviewColumns = `short_id, task_id, run_id, agent, status, issues, started_at, completed_at`

// Create inserts a review, assigning a fresh short id.
func (r *ReviewRepo) Create(rev *models.Review) error {
	if rev.StartedAt.IsZero() {
		rev.StartedAt = time.Now().UTC()
	}
	if rev.Status == "" {
		rev.Status = models.ReviewStatusPending
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if rev.ShortID == "" {
			id, err := ids.New(ids.PrefixReview, attempt)
			if err != nil {
				return err
			}
			rev.ShortID = id
		}
		_, err := r.db.Exec(`
			INSERT INTO reviews (`+reviewColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rev.ShortID, rev.TaskID, rev.RunID, rev.Agent, string(rev.Status),
			marshalStrings(rev.Issues), formatTime(rev.StartedAt), formatNullableTime(rev.CompletedAt),
		)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) && attempt < maxIDAttempts-1 {
			rev.ShortID = ""
			continue
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return fmt.Errorf("insert review: exhausted id attempts")
}

// Update persists all mutable fields of the review.
func (r *ReviewRepo) Update(rev *models.Review) error {
	res, err := r.db.Exec(`
		UPDATE reviews SET
			task_id = ?, run_id = ?, agent = ?, status = ?, issues = ?, completed_at = ?
		WHERE short_id = ?
	`,
		rev.TaskID, rev.RunID, rev.Agent, string(rev.Status),
		marshalStrings(rev.Issues), formatNullableTime(rev.CompletedAt),
		rev.ShortID,
	)
	if err != nil {
		return fmt.Errorf("update review %s: %w", rev.ShortID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update review %s: %w", rev.ShortID, err)
	}
	if n == 0 {
		return fmt.Errorf("update review %s: %w", rev.ShortID, ErrNotFound)
	}
	return nil
}

// PendingByTask returns the pending review for a task, if one exists.
func (r *ReviewRepo) PendingByTask(taskID string) (*models.Review, error) {
	row := r.db.QueryRow(`
		SELECT `+reviewColumns+` FROM reviews
		WHERE task_id = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1
	`, taskID, string(models.ReviewStatusPending))
	rev, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending review for %s: %w", taskID, ErrNotFound)
	}
	return rev, err
}

// ByTask returns all reviews for a task, newest first.
func (r *ReviewRepo) ByTask(taskID string) ([]*models.Review, error) {
	rows, err := r.db.Query(`SELECT `+reviewColumns+` FROM reviews WHERE task_id = ? ORDER BY started_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query reviews by task: %w", err)
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, rev)
	}
	return reviews, rows.Err()
}

func scanReview(s scanner) (*models.Review, error) {
	var (
		rev                    models.Review
		status, issues         string
		startedAt, completedAt sql.NullString
	)
	err := s.Scan(
		&rev.ShortID, &rev.TaskID, &rev.RunID, &rev.Agent, &status, &issues,
		&startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	rev.Status = models.ReviewStatus(status)
	rev.Issues = unmarshalStrings(issues)
	if startedAt.Valid {
		rev.StartedAt, _ = parseTime(startedAt.String)
	}
	rev.CompletedAt = parseNullableTime(completedAt)
	return &rev, nil
}
