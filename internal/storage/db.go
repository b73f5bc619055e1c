// Package storage persists worker snapshots and hourly/daily share
// aggregates to a relational store, and manages failover across one or
// more database endpoints.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/stats"
	"github.com/tos-network/statsserver/internal/util"
)

// maxBatchRows bounds how many rows a single upsert statement covers.
const maxBatchRows = 200

// Open opens (creating if necessary) a sqlite-backed database at path and
// ensures the schema exists. path may be ":memory:" for an in-process store.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage: empty db path")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create db dir: %w", err)
		}
		dsn = path + "?_foreign_keys=1&_journal=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, util.NewStorageError(err, "open sqlite")
	}
	if path == ":memory:" {
		// A file-less sqlite connection loses its schema if the pool opens
		// a second connection; keep this handle alone.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, util.NewStorageError(err, "ping sqlite")
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mining_workers (
			user_id         INTEGER NOT NULL,
			worker_id       INTEGER NOT NULL,
			accept_1m       INTEGER NOT NULL,
			accept_5m       INTEGER NOT NULL,
			accept_15m      INTEGER NOT NULL,
			reject_15m      INTEGER NOT NULL,
			accept_count    INTEGER NOT NULL,
			last_share_ip   INTEGER NOT NULL,
			last_share_time INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			PRIMARY KEY (user_id, worker_id)
		)`,
		`CREATE TABLE IF NOT EXISTS stats_shares_hour (
			user_id   INTEGER NOT NULL,
			worker_id INTEGER NOT NULL,
			day       INTEGER NOT NULL,
			hour      INTEGER NOT NULL,
			accept    INTEGER NOT NULL,
			reject    INTEGER NOT NULL,
			score     REAL NOT NULL,
			PRIMARY KEY (user_id, worker_id, day, hour)
		)`,
		`CREATE TABLE IF NOT EXISTS stats_shares_day (
			user_id   INTEGER NOT NULL,
			worker_id INTEGER NOT NULL,
			day       INTEGER NOT NULL,
			accept    INTEGER NOT NULL,
			reject    INTEGER NOT NULL,
			score     REAL NOT NULL,
			PRIMARY KEY (user_id, worker_id, day)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return util.NewStorageError(err, "create schema")
		}
	}
	return nil
}

// WorkerRow is one (userId, workerId) snapshot ready for upsert.
type WorkerRow struct {
	Key    share.WorkerKey
	Status stats.WorkerStatus
	Now    int64
}

// UpsertWorkers batch-upserts worker snapshots into mining_workers, splitting
// rows into statements of at most maxBatchRows.
func UpsertWorkers(db *sql.DB, rows []WorkerRow) error {
	for len(rows) > 0 {
		n := len(rows)
		if n > maxBatchRows {
			n = maxBatchRows
		}
		if err := upsertWorkerBatch(db, rows[:n]); err != nil {
			return err
		}
		rows = rows[n:]
	}
	return nil
}

func upsertWorkerBatch(db *sql.DB, rows []WorkerRow) error {
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO mining_workers
		(user_id, worker_id, accept_1m, accept_5m, accept_15m, reject_15m, accept_count, last_share_ip, last_share_time, updated_at)
		VALUES `)

	args := make([]interface{}, 0, len(rows)*10)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		st := r.Status
		args = append(args,
			r.Key.UserID, r.Key.WorkerID,
			st.Accept1m, st.Accept5m, st.Accept15m, st.Reject15m,
			st.AcceptCount, st.LastShareIP, st.LastShareTime, r.Now,
		)
	}

	b.WriteString(` ON CONFLICT (user_id, worker_id) DO UPDATE SET
		accept_1m = excluded.accept_1m,
		accept_5m = excluded.accept_5m,
		accept_15m = excluded.accept_15m,
		reject_15m = excluded.reject_15m,
		accept_count = excluded.accept_count,
		last_share_ip = excluded.last_share_ip,
		last_share_time = excluded.last_share_time,
		updated_at = excluded.updated_at`)

	if _, err := db.Exec(b.String(), args...); err != nil {
		return util.NewStorageError(err, "upsert mining_workers")
	}
	return nil
}

// HourRow is one dirty-hour bucket ready for upsert into stats_shares_hour.
type HourRow struct {
	Key    share.WorkerKey
	Day    int64
	Hour   int
	Accept uint64
	Reject uint64
	Score  float64
}

// DayRow is one day total ready for upsert into stats_shares_day.
type DayRow struct {
	Key    share.WorkerKey
	Day    int64
	Accept uint64
	Reject uint64
	Score  float64
}

// UpsertShareHours batch-upserts hourly buckets.
func UpsertShareHours(db *sql.DB, rows []HourRow) error {
	for len(rows) > 0 {
		n := len(rows)
		if n > maxBatchRows {
			n = maxBatchRows
		}
		if err := upsertHourBatch(db, rows[:n]); err != nil {
			return err
		}
		rows = rows[n:]
	}
	return nil
}

func upsertHourBatch(db *sql.DB, rows []HourRow) error {
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO stats_shares_hour (user_id, worker_id, day, hour, accept, reject, score) VALUES `)

	args := make([]interface{}, 0, len(rows)*7)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, r.Key.UserID, r.Key.WorkerID, r.Day, r.Hour, r.Accept, r.Reject, r.Score)
	}

	b.WriteString(` ON CONFLICT (user_id, worker_id, day, hour) DO UPDATE SET
		accept = excluded.accept,
		reject = excluded.reject,
		score = excluded.score`)

	if _, err := db.Exec(b.String(), args...); err != nil {
		return util.NewStorageError(err, "upsert stats_shares_hour")
	}
	return nil
}

// UpsertShareDays batch-upserts daily totals.
func UpsertShareDays(db *sql.DB, rows []DayRow) error {
	for len(rows) > 0 {
		n := len(rows)
		if n > maxBatchRows {
			n = maxBatchRows
		}
		if err := upsertDayBatch(db, rows[:n]); err != nil {
			return err
		}
		rows = rows[n:]
	}
	return nil
}

func upsertDayBatch(db *sql.DB, rows []DayRow) error {
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO stats_shares_day (user_id, worker_id, day, accept, reject, score) VALUES `)

	args := make([]interface{}, 0, len(rows)*6)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, r.Key.UserID, r.Key.WorkerID, r.Day, r.Accept, r.Reject, r.Score)
	}

	b.WriteString(` ON CONFLICT (user_id, worker_id, day) DO UPDATE SET
		accept = excluded.accept,
		reject = excluded.reject,
		score = excluded.score`)

	if _, err := db.Exec(b.String(), args...); err != nil {
		return util.NewStorageError(err, "upsert stats_shares_day")
	}
	return nil
}
