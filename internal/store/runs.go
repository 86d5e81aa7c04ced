package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run kinds.
const (
	KindPlaylist = "playlist"
	KindTrigger  = "trigger"
)

// Run outcomes.
const (
	OutcomeFinished = "finished"
	OutcomeStopped  = "stopped"
	OutcomeFailed   = "failed"
)

// Run is one entry of the run history.
type Run struct {
	ID        string
	Kind      string
	Profile   string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   string
	Triggers  uint64
}

// Finished reports whether FinishRun was called for r.
func (r *Run) Finished() bool {
	return !r.EndedAt.IsZero()
}

// StartRun records the start of a run and returns it with a fresh id.
func (s *Store) StartRun(ctx context.Context, kind, profile string) (*Run, error) {
	r := &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Profile:   profile,
		StartedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, kind, profile, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Kind, r.Profile, r.StartedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("error: failed to record run: %w", err)
	}
	return r, nil
}

// FinishRun stores the outcome of run id.
func (s *Store) FinishRun(ctx context.Context, id, outcome string, triggers uint64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET ended_at = ?, outcome = ?, triggers = ? WHERE id = ?`,
		s.now().UnixNano(), outcome, int64(triggers), id)
	if err != nil {
		return fmt.Errorf("error: failed to finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Runs returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, profile, started_at, ended_at, outcome, triggers
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error: failed to query runs: %w", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		var (
			r              Run
			started, ended int64
			triggers       int64
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Profile, &started, &ended, &r.Outcome, &triggers); err != nil {
			return nil, fmt.Errorf("error: failed to scan run row: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		if ended != 0 {
			r.EndedAt = time.Unix(0, ended)
		}
		r.Triggers = uint64(triggers)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error: failed to iterate run rows: %w", err)
	}
	return out, nil
}
