package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScheduleState is the lifecycle state of a stored schedule.
type ScheduleState string

const (
	ScheduleStateScheduled ScheduleState = "scheduled"
	ScheduleStateFired     ScheduleState = "fired"
	ScheduleStateMissed    ScheduleState = "missed"
)

// Schedule starts Action ("play" or "trigger") for Profile at At, and
// again at every CronExpr occurrence when CronExpr is set.
type Schedule struct {
	ID       string
	Profile  string
	Action   string
	At       time.Time
	CronExpr string
	State    ScheduleState
}

// AddSchedule stores sc with a fresh id and state scheduled.
func (s *Store) AddSchedule(ctx context.Context, sc *Schedule) error {
	sc.ID = uuid.NewString()
	sc.State = ScheduleStateScheduled
	_, err := s.db.ExecContext(ctx, `INSERT INTO schedules (id, profile, action, at, cron_expr, state) VALUES (?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Profile, sc.Action, sc.At.UnixNano(), sc.CronExpr, string(sc.State))
	if err != nil {
		return fmt.Errorf("error: failed to save schedule: %w", err)
	}
	return nil
}

// UpdateSchedule stores the next occurrence and state of schedule id.
func (s *Store) UpdateSchedule(ctx context.Context, id string, at time.Time, state ScheduleState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET at = ?, state = ? WHERE id = ?`, at.UnixNano(), string(state), id)
	if err != nil {
		return fmt.Errorf("error: failed to update schedule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSchedule removes schedule id.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("error: failed to delete schedule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// Schedules returns every stored schedule ordered by time.
func (s *Store) Schedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, profile, action, at, cron_expr, state FROM schedules ORDER BY at`)
	if err != nil {
		return nil, fmt.Errorf("error: failed to query schedules: %w", err)
	}
	defer rows.Close()
	var out []*Schedule
	for rows.Next() {
		var (
			sc    Schedule
			at    int64
			state string
		)
		if err := rows.Scan(&sc.ID, &sc.Profile, &sc.Action, &at, &sc.CronExpr, &state); err != nil {
			return nil, fmt.Errorf("error: failed to scan schedule row: %w", err)
		}
		sc.At = time.Unix(0, at)
		sc.State = ScheduleState(state)
		out = append(out, &sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error: failed to iterate schedule rows: %w", err)
	}
	return out, nil
}
