package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrStaleRecord is returned when a save loses the compare-and-swap, meaning
// another writer (typically a duplicate orchestrator) advanced the record.
var ErrStaleRecord = errors.New("state: record version is stale")

// Store persists worker records and control flags in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database at path and migrates
// the schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// The record is tiny and contended only on transitions; a single
	// connection sidesteps SQLITE_BUSY entirely.
	db.SetMaxOpenConns(1)
	return NewStore(db)
}

// NewStore wraps an existing database handle and migrates the schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS worker_records (
		slot TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL DEFAULT '',
		addr TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT '',
		last_activity_at TEXT NOT NULL DEFAULT '',
		phase_since TEXT NOT NULL DEFAULT '',
		provision_retries INTEGER NOT NULL DEFAULT 0,
		configure_retries INTEGER NOT NULL DEFAULT 0,
		work_retries INTEGER NOT NULL DEFAULT 0,
		destroy_failures INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS control_flags (
		slot TEXT PRIMARY KEY,
		paused INTEGER NOT NULL DEFAULT 0,
		destroy_requested INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate state schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the record for slot, or nil when none has ever been saved.
func (s *Store) Load(ctx context.Context, slot string) (*Record, error) {
	query := `
	SELECT slot, instance_id, addr, state, created_at, last_activity_at, phase_since,
	       provision_retries, configure_retries, work_retries, destroy_failures,
	       last_error, version
	FROM worker_records WHERE slot = ?`

	var (
		r                               Record
		createdAt, activityAt, phaseraw string
	)
	err := s.db.QueryRowContext(ctx, query, slot).Scan(
		&r.Slot, &r.InstanceID, &r.Addr, &r.State,
		&createdAt, &activityAt, &phaseraw,
		&r.ProvisionRetries, &r.ConfigureRetries, &r.WorkRetries, &r.DestroyFailures,
		&r.LastError, &r.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record %q: %w", slot, err)
	}
	r.CreatedAt = parseTime(createdAt)
	r.LastActivityAt = parseTime(activityAt)
	r.PhaseSince = parseTime(phaseraw)
	return &r, nil
}

// Save persists rec with a compare-and-swap on Version. On success the
// record's Version is advanced; on a lost race it returns ErrStaleRecord
// and the record is left untouched.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.Slot == "" {
		return errors.New("state: record slot is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if rec.Version == 0 {
		query := `
		INSERT INTO worker_records (
			slot, instance_id, addr, state, created_at, last_activity_at, phase_since,
			provision_retries, configure_retries, work_retries, destroy_failures,
			last_error, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`
		_, err := s.db.ExecContext(ctx, query,
			rec.Slot, rec.InstanceID, rec.Addr, rec.State,
			formatTime(rec.CreatedAt), formatTime(rec.LastActivityAt), formatTime(rec.PhaseSince),
			rec.ProvisionRetries, rec.ConfigureRetries, rec.WorkRetries, rec.DestroyFailures,
			rec.LastError, now,
		)
		if err != nil {
			if isConstraintErr(err) {
				return ErrStaleRecord
			}
			return fmt.Errorf("insert record %q: %w", rec.Slot, err)
		}
		rec.Version = 1
		return nil
	}

	query := `
	UPDATE worker_records SET
		instance_id = ?, addr = ?, state = ?, created_at = ?, last_activity_at = ?,
		phase_since = ?, provision_retries = ?, configure_retries = ?, work_retries = ?,
		destroy_failures = ?, last_error = ?, version = version + 1, updated_at = ?
	WHERE slot = ? AND version = ?`
	res, err := s.db.ExecContext(ctx, query,
		rec.InstanceID, rec.Addr, rec.State,
		formatTime(rec.CreatedAt), formatTime(rec.LastActivityAt), formatTime(rec.PhaseSince),
		rec.ProvisionRetries, rec.ConfigureRetries, rec.WorkRetries, rec.DestroyFailures,
		rec.LastError, now, rec.Slot, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update record %q: %w", rec.Slot, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record %q: %w", rec.Slot, err)
	}
	if n == 0 {
		return ErrStaleRecord
	}
	rec.Version++
	return nil
}

// SetControl upserts operator control flags for slot.
func (s *Store) SetControl(ctx context.Context, c Control) error {
	query := `
	INSERT INTO control_flags (slot, paused, destroy_requested, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(slot) DO UPDATE SET
		paused = excluded.paused,
		destroy_requested = excluded.destroy_requested,
		updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		c.Slot, boolToInt(c.Paused), boolToInt(c.DestroyRequested),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set control %q: %w", c.Slot, err)
	}
	return nil
}

// GetControl returns the control flags for slot; the zero value when unset.
func (s *Store) GetControl(ctx context.Context, slot string) (Control, error) {
	var (
		c               Control
		paused, destroy int
		updatedAt       string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT slot, paused, destroy_requested, updated_at FROM control_flags WHERE slot = ?`,
		slot,
	).Scan(&c.Slot, &paused, &destroy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Control{Slot: slot}, nil
	}
	if err != nil {
		return Control{}, fmt.Errorf("get control %q: %w", slot, err)
	}
	c.Paused = paused != 0
	c.DestroyRequested = destroy != 0
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isConstraintErr(err error) bool {
	// modernc's sqlite driver surfaces SQLITE_CONSTRAINT in the message;
	// matching on it keeps the store decoupled from driver error types.
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "unique")
}
