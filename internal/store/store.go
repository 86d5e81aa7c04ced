// Package store keeps named profiles and a run history in a SQLite
// database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/portplayer/portplayer/pkg/playlist"
)

// ErrNotFound is returned when a profile or run does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	name            TEXT PRIMARY KEY,
	backend         TEXT NOT NULL,
	device          TEXT NOT NULL,
	pins            TEXT NOT NULL,
	playlist        TEXT NOT NULL,
	durations       TEXT NOT NULL,
	unit            INTEGER NOT NULL,
	repeat          INTEGER NOT NULL,
	update_interval INTEGER NOT NULL,
	trigger_period  INTEGER NOT NULL,
	trigger_mode    TEXT NOT NULL,
	script          TEXT NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	profile    TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL DEFAULT 0,
	outcome    TEXT NOT NULL DEFAULT '',
	triggers   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS runs_started ON runs(started_at);
CREATE TABLE IF NOT EXISTS schedules (
	id        TEXT PRIMARY KEY,
	profile   TEXT NOT NULL,
	action    TEXT NOT NULL,
	at        INTEGER NOT NULL,
	cron_expr TEXT NOT NULL,
	state     TEXT NOT NULL
);
`

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error: cannot open profile database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error: cannot create profile schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveProfile inserts or replaces p after validating it.
func (s *Store) SaveProfile(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (name, backend, device, pins, playlist, durations, unit, repeat,
			update_interval, trigger_period, trigger_mode, script, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			backend = excluded.backend, device = excluded.device, pins = excluded.pins,
			playlist = excluded.playlist, durations = excluded.durations, unit = excluded.unit,
			repeat = excluded.repeat, update_interval = excluded.update_interval,
			trigger_period = excluded.trigger_period, trigger_mode = excluded.trigger_mode,
			script = excluded.script, updated_at = excluded.updated_at
	`, p.Name, p.Backend, p.Device, p.Pins, p.Playlist, p.Durations, int(p.Unit), boolToInt(p.Repeat),
		int64(p.UpdateInterval), int64(p.TriggerPeriod), p.TriggerMode, p.Script, p.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("error: failed to save profile %q: %w", p.Name, err)
	}
	return nil
}

const profileColumns = `name, backend, device, pins, playlist, durations, unit, repeat,
	update_interval, trigger_period, trigger_mode, script, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row scanner) (*Profile, error) {
	var (
		p                        Profile
		unit, repeat             int
		interval, period, update int64
	)
	err := row.Scan(&p.Name, &p.Backend, &p.Device, &p.Pins, &p.Playlist, &p.Durations, &unit, &repeat,
		&interval, &period, &p.TriggerMode, &p.Script, &update)
	if err != nil {
		return nil, err
	}
	p.Unit = playlist.Unit(unit)
	p.Repeat = repeat != 0
	p.UpdateInterval = time.Duration(interval)
	p.TriggerPeriod = time.Duration(period)
	p.UpdatedAt = time.Unix(0, update)
	return &p, nil
}

// GetProfile returns the profile called name.
func (s *Store) GetProfile(ctx context.Context, name string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE name = ?`, name)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error: failed to read profile %q: %w", name, err)
	}
	return p, nil
}

// ListProfiles returns every profile ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("error: failed to query profiles: %w", err)
	}
	defer rows.Close()
	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("error: failed to scan profile row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error: failed to iterate profile rows: %w", err)
	}
	return out, nil
}

// DeleteProfile removes the profile called name.
func (s *Store) DeleteProfile(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("error: failed to delete profile %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
