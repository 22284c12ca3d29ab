package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fuelsh/fuel/pkg/models"
)

// HealthRepo provides typed access to the agent_health table.
type HealthRepo struct {
	db *DB
}

// NewHealthRepo creates a HealthRepo backed by the given store.
func NewHealthRepo(db *DB) *HealthRepo {
	return &HealthRepo{db: db}
}

const healthColumns = `agent, last_success_at, last_failure_at, consecutive_failures,
	backoff_until, total_runs, total_successes`

// Get returns the health row for an agent, creating a zeroed row in memory
// (not persisted) when none exists yet.
func (r *HealthRepo) Get(agent string) (*models.AgentHealth, error) {
	row := r.db.QueryRow(`SELECT `+healthColumns+` FROM agent_health WHERE agent = ?`, agent)
	h, err := scanHealth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.AgentHealth{Agent: agent}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get health %s: %w", agent, err)
	}
	return h, nil
}

// Put upserts the health row for an agent.
func (r *HealthRepo) Put(h *models.AgentHealth) error {
	_, err := r.db.Exec(`
		INSERT INTO agent_health (`+healthColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent) DO UPDATE SET
			last_success_at = excluded.last_success_at,
			last_failure_at = excluded.last_failure_at,
			consecutive_failures = excluded.consecutive_failures,
			backoff_until = excluded.backoff_until,
			total_runs = excluded.total_runs,
			total_successes = excluded.total_successes
	`,
		h.Agent, formatNullableTime(h.LastSuccessAt), formatNullableTime(h.LastFailureAt),
		h.ConsecutiveFailures, formatNullableTime(h.BackoffUntil), h.TotalRuns, h.TotalSuccesses,
	)
	if err != nil {
		return fmt.Errorf("put health %s: %w", h.Agent, err)
	}
	return nil
}

// All returns every health row keyed by agent name.
func (r *HealthRepo) All() (map[string]*models.AgentHealth, error) {
	rows, err := r.db.Query(`SELECT ` + healthColumns + ` FROM agent_health`)
	if err != nil {
		return nil, fmt.Errorf("query health: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.AgentHealth)
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("scan health: %w", err)
		}
		out[h.Agent] = h
	}
	return out, rows.Err()
}

// Reset zeroes the failure streak and backoff for an agent.
func (r *HealthRepo) Reset(agent string) error {
	_, err := r.db.Exec(`
		UPDATE agent_health SET consecutive_failures = 0, backoff_until = NULL
		WHERE agent = ?
	`, agent)
	if err != nil {
		return fmt.Errorf("reset health %s: %w", agent, err)
	}
	return nil
}

func scanHealth(s scanner) (*models.AgentHealth, error) {
	var (
		h                             models.AgentHealth
		lastSuccess, lastFail, boUntil sql.NullString
	)
	err := s.Scan(&h.Agent, &lastSuccess, &lastFail, &h.ConsecutiveFailures,
		&boUntil, &h.TotalRuns, &h.TotalSuccesses)
	if err != nil {
		return nil, err
	}
	h.LastSuccessAt = parseNullableTime(lastSuccess)
	h.LastFailureAt = parseNullableTime(lastFail)
	h.BackoffUntil = parseNullableTime(boUntil)
	return &h, nil
}
