// Package activity implements the Activity Store: durable per-(domain,key)
// paused/draining state that Selection Watchers consult before triggering a
// swap. It is backed by an embedded SQLite database via sqlx, the same
// persistence style the wider stack uses for its relational layers.
package activity

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// State is the paused/draining/note tuple for one (domain, key).
type State struct {
	Domain    string    `db:"domain"`
	Key       string    `db:"key"`
	Paused    bool      `db:"paused"`
	Draining  bool      `db:"draining"`
	Note      string    `db:"note"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Decision is what a watcher should do given a (domain, key)'s activity
// state before attempting a swap.
type Decision int

const (
	// DecisionProceed means no veto is in effect; the swap may go ahead.
	DecisionProceed Decision = iota
	// DecisionReject means the pair is paused; skip and emit an event.
	DecisionReject
	// DecisionDefer means the pair is draining; retry after a bounded delay.
	DecisionDefer
)

// Counts summarizes activity totals, overall or per domain.
type Counts struct {
	Paused   int
	Draining int
	Noted    int // entries carrying a non-empty note
}

// Store is the Activity Store. All methods are safe for concurrent use;
// writes are serialized by an in-process mutex so each upsert and its
// listener notification happen together.
type Store struct {
	db *sqlx.DB

	mu        sync.Mutex // serializes writes so upsert-then-notify stays atomic
	listeners []func(State)
}

// Open creates or attaches to the SQLite-backed activity store at path (use
// ":memory:" for ephemeral/test stores) and ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("activity: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS domain_activity (
	domain     TEXT NOT NULL,
	key        TEXT NOT NULL,
	paused     INTEGER NOT NULL DEFAULT 0,
	draining   INTEGER NOT NULL DEFAULT 0,
	note       TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (domain, key)
);`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("activity: ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnChange registers a listener invoked (synchronously, in Set's
// goroutine) after every successful mutation.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Set upserts the paused/draining/note state for (domain, key).
func (s *Store) Set(ctx context.Context, domain, key string, paused, draining bool, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{Domain: domain, Key: key, Paused: paused, Draining: draining, Note: note, UpdatedAt: time.Now().UTC()}

	const upsert = `
INSERT INTO domain_activity (domain, key, paused, draining, note, updated_at)
VALUES (:domain, :key, :paused, :draining, :note, :updated_at)
ON CONFLICT(domain, key) DO UPDATE SET
	paused = excluded.paused,
	draining = excluded.draining,
	note = excluded.note,
	updated_at = excluded.updated_at;`

	if _, err := s.db.NamedExecContext(ctx, upsert, state); err != nil {
		return fmt.Errorf("activity: set %s/%s: %w", domain, key, err)
	}

	for _, listener := range s.listeners {
		listener(state)
	}
	return nil
}

// SetPaused is a convenience wrapper around Set that only touches the
// paused flag, preserving the existing draining flag.
func (s *Store) SetPaused(ctx context.Context, domain, key string, paused bool, note string) error {
	current, err := s.Get(ctx, domain, key)
	if err != nil {
		return err
	}
	return s.Set(ctx, domain, key, paused, current.Draining, note)
}

// SetDraining is the draining-flag analogue of SetPaused.
func (s *Store) SetDraining(ctx context.Context, domain, key string, draining bool, note string) error {
	current, err := s.Get(ctx, domain, key)
	if err != nil {
		return err
	}
	return s.Set(ctx, domain, key, current.Paused, draining, note)
}

// Get returns the current state for (domain, key), or a zero-value
// non-paused/non-draining State if it has never been set.
func (s *Store) Get(ctx context.Context, domain, key string) (State, error) {
	var state State
	const query = `SELECT domain, key, paused, draining, note, updated_at FROM domain_activity WHERE domain = ? AND key = ?;`
	err := s.db.GetContext(ctx, &state, query, domain, key)
	if err == sql.ErrNoRows {
		return State{Domain: domain, Key: key}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("activity: get %s/%s: %w", domain, key, err)
	}
	return state, nil
}

// ShouldAcceptWork reports what a watcher should do before swapping or
// dispatching work for (domain, key).
func (s *Store) ShouldAcceptWork(ctx context.Context, domain, key string) (Decision, error) {
	state, err := s.Get(ctx, domain, key)
	if err != nil {
		return DecisionReject, err
	}
	switch {
	case state.Paused:
		return DecisionReject, nil
	case state.Draining:
		return DecisionDefer, nil
	default:
		return DecisionProceed, nil
	}
}

// SnapshotAll returns every persisted activity record, optionally filtered
// to one domain.
func (s *Store) SnapshotAll(ctx context.Context, domain string) ([]State, error) {
	var states []State
	query := `SELECT domain, key, paused, draining, note, updated_at FROM domain_activity`
	args := []any{}
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY domain, key;`

	if err := s.db.SelectContext(ctx, &states, query, args...); err != nil {
		return nil, fmt.Errorf("activity: snapshot: %w", err)
	}
	return states, nil
}

// GlobalCounts returns paused/draining/noted totals, overall (domain=="")
// or scoped to one domain.
func (s *Store) GlobalCounts(ctx context.Context, domain string) (Counts, error) {
	states, err := s.SnapshotAll(ctx, domain)
	if err != nil {
		return Counts{}, err
	}
	var counts Counts
	for _, state := range states {
		if state.Paused {
			counts.Paused++
		}
		if state.Draining {
			counts.Draining++
		}
		if state.Note != "" {
			counts.Noted++
		}
	}
	return counts, nil
}
