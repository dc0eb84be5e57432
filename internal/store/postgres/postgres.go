// Package postgres is a reaction ledger on a shared Postgres database.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reactally/internal/model"
)

// DB implements the ledger on top of pgxpool.
type DB struct {
	pool    *pgxpool.Pool
	nameTTL time.Duration
}

// Connect opens a pool and applies the schema.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &model.StoreError{Op: "open", Err: err}
	}
	// single writer
	cfg.MaxConns = 1
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(cctx, cfg)
	if err != nil {
		return nil, &model.StoreError{Op: "open", Err: err}
	}
	db := &DB{pool: pool}
	if err := db.migrate(cctx); err != nil {
		pool.Close()
		return nil, &model.StoreError{Op: "migrate", Err: err}
	}
	return db, nil
}

func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

// SetNameTTL makes Lookup ignore names remembered longer than ttl ago. Zero keeps them forever.
func (d *DB) SetNameTTL(ttl time.Duration) { d.nameTTL = ttl }

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
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
	  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS sync_runs (
	  run_id TEXT PRIMARY KEY,
	  reaction TEXT NOT NULL,
	  started_at TIMESTAMPTZ NOT NULL,
	  finished_at TIMESTAMPTZ NOT NULL,
	  channels INTEGER NOT NULL,
	  failures INTEGER NOT NULL,
	  events INTEGER NOT NULL
	);`)
	return err
}

func (d *DB) Exists(ctx context.Context, messageID, userID, reaction string) (bool, error) {
	var ok bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reactions WHERE message_id=$1 AND user_id=$2 AND reaction=$3)`, messageID, userID, reaction).Scan(&ok)
	if err != nil {
		return false, &model.StoreError{Op: "exists", Err: err}
	}
	return ok, nil
}

func (d *DB) Upsert(ctx context.Context, ev model.ReactionEvent) error {
	_, err := d.pool.Exec(ctx, `
	INSERT INTO reactions (message_id, user_id, reaction, count, date)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (message_id, user_id, reaction) DO UPDATE SET count=EXCLUDED.count, date=EXCLUDED.date`,
		ev.MessageID, ev.UserID, ev.Reaction, ev.Count, model.Day(ev.ObservedDate).Format(model.DateLayout))
	if err != nil {
		return &model.StoreError{Op: "upsert", Err: err}
	}
	return nil
}

func (d *DB) MostRecentDate(ctx context.Context, reaction string) (time.Time, bool, error) {
	var s *string
	if err := d.pool.QueryRow(ctx, `SELECT MAX(date) FROM reactions WHERE reaction=$1`, reaction).Scan(&s); err != nil {
		return time.Time{}, false, &model.StoreError{Op: "most_recent_date", Err: err}
	}
	if s == nil {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(model.DateLayout, *s)
	if err != nil {
		return time.Time{}, false, &model.StoreError{Op: "most_recent_date", Err: err}
	}
	return t, true, nil
}

func (d *DB) Totals(ctx context.Context, reaction string) ([]model.UserTotal, error) {
	rows, err := d.pool.Query(ctx, `SELECT user_id, SUM(count)::BIGINT FROM reactions WHERE reaction=$1 GROUP BY user_id ORDER BY user_id`, reaction)
	if err != nil {
		return nil, &model.StoreError{Op: "totals", Err: err}
	}
	defer rows.Close()
	var out []model.UserTotal
	for rows.Next() {
		var (
			userID string
			total  int64
		)
		if err := rows.Scan(&userID, &total); err != nil {
			return nil, &model.StoreError{Op: "totals", Err: err}
		}
		out = append(out, model.UserTotal{UserID: userID, Total: int(total)})
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "totals", Err: err}
	}
	return out, nil
}

func (d *DB) DailyTotals(ctx context.Context, reaction string, since time.Time) ([]model.DayTotal, error) {
	rows, err := d.pool.Query(ctx, `SELECT date, SUM(count)::BIGINT FROM reactions WHERE reaction=$1 AND date>=$2 GROUP BY date ORDER BY date`,
		reaction, model.Day(since).Format(model.DateLayout))
	if err != nil {
		return nil, &model.StoreError{Op: "daily_totals", Err: err}
	}
	defer rows.Close()
	var out []model.DayTotal
	for rows.Next() {
		var (
			date  string
			total int64
		)
		if err := rows.Scan(&date, &total); err != nil {
			return nil, &model.StoreError{Op: "daily_totals", Err: err}
		}
		t, err := time.Parse(model.DateLayout, date)
		if err != nil {
			return nil, &model.StoreError{Op: "daily_totals", Err: err}
		}
		out = append(out, model.DayTotal{Date: t, Total: int(total)})
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "daily_totals", Err: err}
	}
	return out, nil
}

func (d *DB) Lookup(ctx context.Context, userID string) (string, bool, error) {
	var name string
	var err error
	if d.nameTTL > 0 {
		err = d.pool.QueryRow(ctx, `SELECT name FROM user_names WHERE user_id=$1 AND updated_at >= $2`,
			userID, time.Now().UTC().Add(-d.nameTTL)).Scan(&name)
	} else {
		err = d.pool.QueryRow(ctx, `SELECT name FROM user_names WHERE user_id=$1`, userID).Scan(&name)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &model.StoreError{Op: "lookup_name", Err: err}
	}
	return name, true, nil
}

func (d *DB) Remember(ctx context.Context, userID, name string) error {
	_, err := d.pool.Exec(ctx, `
	INSERT INTO user_names (user_id, name, updated_at) VALUES ($1, $2, now())
	ON CONFLICT (user_id) DO UPDATE SET name=EXCLUDED.name, updated_at=now()`, userID, name)
	if err != nil {
		return &model.StoreError{Op: "remember_name", Err: err}
	}
	return nil
}

func (d *DB) RecordRun(ctx context.Context, run model.SyncRun) error {
	_, err := d.pool.Exec(ctx, `
	INSERT INTO sync_runs (run_id, reaction, started_at, finished_at, channels, failures, events)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Reaction, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Channels, run.Failures, run.Events)
	if err != nil {
		return &model.StoreError{Op: "record_run", Err: err}
	}
	return nil
}

func (d *DB) LastRun(ctx context.Context, reaction string) (model.SyncRun, bool, error) {
	var run model.SyncRun
	err := d.pool.QueryRow(ctx, `
	SELECT run_id, reaction, started_at, finished_at, channels, failures, events
	FROM sync_runs WHERE reaction=$1 ORDER BY started_at DESC LIMIT 1`, reaction).
		Scan(&run.ID, &run.Reaction, &run.StartedAt, &run.FinishedAt, &run.Channels, &run.Failures, &run.Events)
	if errors.Is(err, pgx.ErrNoRows) {
		return run, false, nil
	}
	if err != nil {
		return run, false, &model.StoreError{Op: "last_run", Err: err}
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	return run, true, nil
}
