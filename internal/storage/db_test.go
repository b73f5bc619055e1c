package storage

import (
	"database/sql"
	"testing"

	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/stats"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openMemDB(t)

	for _, table := range []string{"mining_workers", "stats_shares_hour", "stats_shares_day"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestUpsertWorkersInsertsAndUpdates(t *testing.T) {
	db := openMemDB(t)

	key := share.WorkerKey{UserID: 1, WorkerID: 2}
	row := WorkerRow{
		Key:    key,
		Status: stats.WorkerStatus{Accept1m: 10, AcceptCount: 10, LastShareIP: 0x01020304, LastShareTime: 100},
		Now:    100,
	}
	if err := UpsertWorkers(db, []WorkerRow{row}); err != nil {
		t.Fatalf("UpsertWorkers insert: %v", err)
	}

	row.Status.AcceptCount = 20
	row.Now = 200
	if err := UpsertWorkers(db, []WorkerRow{row}); err != nil {
		t.Fatalf("UpsertWorkers update: %v", err)
	}

	var acceptCount uint32
	var updatedAt int64
	err := db.QueryRow(`SELECT accept_count, updated_at FROM mining_workers WHERE user_id = ? AND worker_id = ?`, key.UserID, key.WorkerID).Scan(&acceptCount, &updatedAt)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if acceptCount != 20 || updatedAt != 200 {
		t.Errorf("got (%d, %d), want (20, 200)", acceptCount, updatedAt)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM mining_workers`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1 (update, not insert)", count)
	}
}

func TestUpsertWorkersBatchesLargeSets(t *testing.T) {
	db := openMemDB(t)

	rows := make([]WorkerRow, 0, 450)
	for i := 0; i < 450; i++ {
		rows = append(rows, WorkerRow{
			Key:    share.WorkerKey{UserID: int32(i), WorkerID: int64(i)},
			Status: stats.WorkerStatus{AcceptCount: uint32(i)},
			Now:    1,
		})
	}

	if err := UpsertWorkers(db, rows); err != nil {
		t.Fatalf("UpsertWorkers: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM mining_workers`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 450 {
		t.Errorf("row count = %d, want 450", count)
	}
}

func TestUpsertShareHoursAndDays(t *testing.T) {
	db := openMemDB(t)
	key := share.WorkerKey{UserID: 1, WorkerID: 1}

	hour := HourRow{Key: key, Day: 19600, Hour: 3, Accept: 5, Reject: 1, Score: 2.5}
	if err := UpsertShareHours(db, []HourRow{hour}); err != nil {
		t.Fatalf("UpsertShareHours: %v", err)
	}
	hour.Accept = 8
	if err := UpsertShareHours(db, []HourRow{hour}); err != nil {
		t.Fatalf("UpsertShareHours update: %v", err)
	}

	var accept uint64
	err := db.QueryRow(`SELECT accept FROM stats_shares_hour WHERE user_id=? AND worker_id=? AND day=? AND hour=?`,
		key.UserID, key.WorkerID, hour.Day, hour.Hour).Scan(&accept)
	if err != nil {
		t.Fatalf("query hour: %v", err)
	}
	if accept != 8 {
		t.Errorf("hour accept = %d, want 8", accept)
	}

	day := DayRow{Key: key, Day: 19600, Accept: 100, Reject: 10, Score: 50}
	if err := UpsertShareDays(db, []DayRow{day}); err != nil {
		t.Fatalf("UpsertShareDays: %v", err)
	}

	var dayAccept uint64
	err = db.QueryRow(`SELECT accept FROM stats_shares_day WHERE user_id=? AND worker_id=? AND day=?`,
		key.UserID, key.WorkerID, day.Day).Scan(&dayAccept)
	if err != nil {
		t.Fatalf("query day: %v", err)
	}
	if dayAccept != 100 {
		t.Errorf("day accept = %d, want 100", dayAccept)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") should fail")
	}
}
