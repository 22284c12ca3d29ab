package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fuelsh/fuel/internal/ids"
	"github.com/fuelsh/fuel/pkg/models"
)

// EpicRepo provides typed access to the epics table.
type EpicRepo struct {
	db *DB
}

// NewEpicRepo creates an EpicRepo backed by the given store.
func NewEpicRepo(db *DB) *EpicRepo {
	return &EpicRepo{db: db}
}

const epicColumns = `short_id, title, description, self_guided, plan_filename,
	paused_at, reviewed_at, approved_at, approved_by, changes_requested_at,
	mirror_path, mirror_status, mirror_branch, mirror_base_commit, mirror_created_at,
	created_at, updated_at`

// Create inserts an epic, assigning a fresh short id.
func (r *EpicRepo) Create(e *models.Epic) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.MirrorStatus == "" {
		e.MirrorStatus = models.MirrorNone
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if e.ShortID == "" {
			id, err := ids.New(ids.PrefixEpic, attempt)
			if err != nil {
				return err
			}
			e.ShortID = id
		}
		_, err := r.db.Exec(`
			INSERT INTO epics (`+epicColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ShortID, e.Title, e.Description, boolToInt(e.SelfGuided), e.PlanFilename,
			formatNullableTime(e.PausedAt), formatNullableTime(e.ReviewedAt),
			formatNullableTime(e.ApprovedAt), e.ApprovedBy, formatNullableTime(e.ChangesRequestedAt),
			e.MirrorPath, string(e.MirrorStatus), e.MirrorBranch, e.MirrorBaseCommit,
			formatNullableTime(e.MirrorCreatedAt),
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) && attempt < maxIDAttempts-1 {
			e.ShortID = ""
			continue
		}
		return fmt.Errorf("insert epic: %w", err)
	}
	return fmt.Errorf("insert epic: exhausted id attempts")
}

// Update persists all mutable fields of the epic.
func (r *EpicRepo) Update(e *models.Epic) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE epics SET
			title = ?, description = ?, self_guided = ?, plan_filename = ?,
			paused_at = ?, reviewed_at = ?, approved_at = ?, approved_by = ?, changes_requested_at = ?,
			mirror_path = ?, mirror_status = ?, mirror_branch = ?, mirror_base_commit = ?, mirror_created_at = ?,
			updated_at = ?
		WHERE short_id = ?
	`,
		e.Title, e.Description, boolToInt(e.SelfGuided), e.PlanFilename,
		formatNullableTime(e.PausedAt), formatNullableTime(e.ReviewedAt),
		formatNullableTime(e.ApprovedAt), e.ApprovedBy, formatNullableTime(e.ChangesRequestedAt),
		e.MirrorPath, string(e.MirrorStatus), e.MirrorBranch, e.MirrorBaseCommit,
		formatNullableTime(e.MirrorCreatedAt),
		formatTime(e.UpdatedAt),
		e.ShortID,
	)
	if err != nil {
		return fmt.Errorf("update epic %s: %w", e.ShortID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update epic %s: %w", e.ShortID, err)
	}
	if n == 0 {
		return fmt.Errorf("update epic %s: %w", e.ShortID, ErrNotFound)
	}
	return nil
}

// Get returns the epic with the exact short id.
func (r *EpicRepo) Get(shortID string) (*models.Epic, error) {
	row := r.db.QueryRow(`SELECT `+epicColumns+` FROM epics WHERE short_id = ?`, shortID)
	e, err := scanEpic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("epic %s: %w", shortID, ErrNotFound)
	}
	return e, err
}

// Find resolves a full or partial id to exactly one epic.
func (r *EpicRepo) Find(query string) (*models.Epic, error) {
	if e, err := r.Get(ids.Normalize(query)); err == nil {
		return e, nil
	}
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	var matches []*models.Epic
	for _, e := range all {
		if ids.MatchesPartial(e.ShortID, query) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("epic %q: %w", query, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("epic %q matches %d epics: %w", query, len(matches), ErrAmbiguous)
	}
}

// All returns every epic ordered by short id.
func (r *EpicRepo) All() ([]*models.Epic, error) {
	rows, err := r.db.Query(`SELECT ` + epicColumns + ` FROM epics ORDER BY short_id`)
	if err != nil {
		return nil, fmt.Errorf("query epics: %w", err)
	}
	defer rows.Close()

	var epics []*models.Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan epic: %w", err)
		}
		epics = append(epics, e)
	}
	return epics, rows.Err()
}

// Delete removes an epic row.
func (r *EpicRepo) Delete(shortID string) error {
	res, err := r.db.Exec(`DELETE FROM epics WHERE short_id = ?`, shortID)
	if err != nil {
		return fmt.Errorf("delete epic %s: %w", shortID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("delete epic %s: %w", shortID, ErrNotFound)
	}
	return nil
}

func scanEpic(s scanner) (*models.Epic, error) {
	var (
		e            models.Epic
		selfGuided   int
		mirrorStatus string
		pausedAt, reviewedAt, approvedAt, changesAt sql.NullString
		mirrorCreatedAt, createdAt, updatedAt       sql.NullString
	)
	err := s.Scan(
		&e.ShortID, &e.Title, &e.Description, &selfGuided, &e.PlanFilename,
		&pausedAt, &reviewedAt, &approvedAt, &e.ApprovedBy, &changesAt,
		&e.MirrorPath, &mirrorStatus, &e.MirrorBranch, &e.MirrorBaseCommit, &mirrorCreatedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.SelfGuided = selfGuided != 0
	e.MirrorStatus = models.MirrorStatus(mirrorStatus)
	e.PausedAt = parseNullableTime(pausedAt)
	e.ReviewedAt = parseNullableTime(reviewedAt)
	e.ApprovedAt = parseNullableTime(approvedAt)
	e.ChangesRequestedAt = parseNullableTime(changesAt)
	e.MirrorCreatedAt = parseNullableTime(mirrorCreatedAt)
	if createdAt.Valid {
		e.CreatedAt, _ = parseTime(createdAt.String)
	}
	if updatedAt.Valid {
		e.UpdatedAt, _ = parseTime(updatedAt.String)
	}
	return &e, nil
}
