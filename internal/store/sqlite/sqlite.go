// Package sqlite is the default reaction ledger, a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"reactally/internal/model"
)

// DB wraps a SQLite database used as the reaction ledger.
type DB struct {
	sql     *sql.DB
	nameTTL time.Duration
	now     func() time.Time
}

// Open opens (creating if needed) the ledger at path. ":memory:" is accepted for tests.
func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &model.StoreError{Op: "open", Err: err}
	}
	// one connection: single writer, and ":memory:" stays one database
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = d.Close()
		return nil, &model.StoreError{Op: "open", Err: err}
	}
	db := &DB{sql: d, now: time.Now}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, &model.StoreError{Op: "migrate", Err: err}
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

// SetNameTTL makes Lookup ignore names remembered longer than ttl ago. Zero keeps them forever.
func (d *DB) SetNameTTL(ttl time.Duration) { d.nameTTL = ttl }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS reactions (
	  message_id TEXT NOT NULL,
	  user_id TEXT NOT NULL,
	  reaction TEXT NOT NULL,
	  count INTEGER NOT NULL,
	  date TEXT NOT NULL,
	  UNIQUE(message_id, user_id, reaction)
	);
	CREATE INDEX IF NOT EXISTS idx_reactions_reaction ON reactions(reaction);
	CREATE TABLE IF NOT EXISTS user_names (
	  user_id TEXT PRIMARY KEY,
	  name TEXT NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sync_runs (
	  run_id TEXT PRIMARY KEY,
	  reaction TEXT NOT NULL,
	  started_at INTEGER NOT NULL,
	  finished_at INTEGER NOT NULL,
	  channels INTEGER NOT NULL,
	  failures INTEGER NOT NULL,
	  events INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
	`)
	return err
}

// Exists reports whether the (message, user, reaction) key is already stored.
func (d *DB) Exists(ctx context.Context, messageID, userID, reaction string) (bool, error) {
	var one int
	err := d.sql.QueryRowContext(ctx, `SELECT 1 FROM reactions WHERE message_id=? AND user_id=? AND reaction=?`, messageID, userID, reaction).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &model.StoreError{Op: "exists", Err: err}
	}
	return true, nil
}

// Upsert inserts the event or overwrites the stored count and date for its key.
func (d *DB) Upsert(ctx context.Context, ev model.ReactionEvent) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO reactions(message_id, user_id, reaction, count, date) VALUES(?,?,?,?,?)
	ON CONFLICT(message_id, user_id, reaction) DO UPDATE SET count=excluded.count, date=excluded.date`,
		ev.MessageID, ev.UserID, ev.Reaction, ev.Count, model.Day(ev.ObservedDate).Format(model.DateLayout))
	if err != nil {
		return &model.StoreError{Op: "upsert", Err: err}
	}
	return nil
}

// MostRecentDate returns the latest observed date for reaction, if any event exists.
func (d *DB) MostRecentDate(ctx context.Context, reaction string) (time.Time, bool, error) {
	var s sql.NullString
	if err := d.sql.QueryRowContext(ctx, `SELECT MAX(date) FROM reactions WHERE reaction=?`, reaction).Scan(&s); err != nil {
		return time.Time{}, false, &model.StoreError{Op: "most_recent_date", Err: err}
	}
	if !s.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(model.DateLayout, s.String)
	if err != nil {
		return time.Time{}, false, &model.StoreError{Op: "most_recent_date", Err: err}
	}
	return t, true, nil
}

// Totals sums counts per user for reaction, ordered by user id.
func (d *DB) Totals(ctx context.Context, reaction string) ([]model.UserTotal, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT user_id, SUM(count) FROM reactions WHERE reaction=? GROUP BY user_id ORDER BY user_id`, reaction)
	if err != nil {
		return nil, &model.StoreError{Op: "totals", Err: err}
	}
	defer rows.Close()
	var out []model.UserTotal
	for rows.Next() {
		var ut model.UserTotal
		if err := rows.Scan(&ut.UserID, &ut.Total); err != nil {
			return nil, &model.StoreError{Op: "totals", Err: err}
		}
		out = append(out, ut)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "totals", Err: err}
	}
	return out, nil
}

// DailyTotals sums counts per observed date for reaction from since onward, oldest first.
func (d *DB) DailyTotals(ctx context.Context, reaction string, since time.Time) ([]model.DayTotal, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT date, SUM(count) FROM reactions WHERE reaction=? AND date>=? GROUP BY date ORDER BY date`,
		reaction, model.Day(since).Format(model.DateLayout))
	if err != nil {
		return nil, &model.StoreError{Op: "daily_totals", Err: err}
	}
	defer rows.Close()
	var out []model.DayTotal
	for rows.Next() {
		var (
			date  string
			total int
		)
		if err := rows.Scan(&date, &total); err != nil {
			return nil, &model.StoreError{Op: "daily_totals", Err: err}
		}
		t, err := time.Parse(model.DateLayout, date)
		if err != nil {
			return nil, &model.StoreError{Op: "daily_totals", Err: err}
		}
		out = append(out, model.DayTotal{Date: t, Total: total})
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "daily_totals", Err: err}
	}
	return out, nil
}

// Lookup returns a cached display name that has not outlived the name TTL.
func (d *DB) Lookup(ctx context.Context, userID string) (string, bool, error) {
	var cutoff int64
	if d.nameTTL > 0 {
		cutoff = d.now().Add(-d.nameTTL).UTC().Unix()
	}
	var name string
	err := d.sql.QueryRowContext(ctx, `SELECT name FROM user_names WHERE user_id=? AND updated_at>=?`, userID, cutoff).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &model.StoreError{Op: "lookup_name", Err: err}
	}
	return name, true, nil
}

// Remember caches a display name.
func (d *DB) Remember(ctx context.Context, userID, name string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO user_names(user_id, name, updated_at) VALUES(?,?,?)
	ON CONFLICT(user_id) DO UPDATE SET name=excluded.name, updated_at=excluded.updated_at`, userID, name, d.now().UTC().Unix())
	if err != nil {
		return &model.StoreError{Op: "remember_name", Err: err}
	}
	return nil
}

// RecordRun stores a finished sync run.
func (d *DB) RecordRun(ctx context.Context, run model.SyncRun) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO sync_runs(run_id, reaction, started_at, finished_at, channels, failures, events) VALUES(?,?,?,?,?,?,?)`,
		run.ID, run.Reaction, run.StartedAt.UTC().Unix(), run.FinishedAt.UTC().Unix(), run.Channels, run.Failures, run.Events)
	if err != nil {
		return &model.StoreError{Op: "record_run", Err: err}
	}
	return nil
}

// LastRun returns the most recent sync run for reaction.
func (d *DB) LastRun(ctx context.Context, reaction string) (model.SyncRun, bool, error) {
	var run model.SyncRun
	var started, finished int64
	err := d.sql.QueryRowContext(ctx, `SELECT run_id, reaction, started_at, finished_at, channels, failures, events FROM sync_runs WHERE reaction=? ORDER BY started_at DESC, rowid DESC LIMIT 1`, reaction).
		Scan(&run.ID, &run.Reaction, &started, &finished, &run.Channels, &run.Failures, &run.Events)
	if errors.Is(err, sql.ErrNoRows) {
		return run, false, nil
	}
	if err != nil {
		return run, false, &model.StoreError{Op: "last_run", Err: err}
	}
	run.StartedAt = time.Unix(started, 0).UTC()
	run.FinishedAt = time.Unix(finished, 0).UTC()
	return run, true, nil
}
