package daystats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/storage"
)

func TestProcessShareAccept(t *testing.T) {
	d := New()
	s := &share.Share{Result: share.ResultAccept, ShareValue: 4, Diff: 1000}
	d.ProcessShare(3, s)

	if d.AcceptPerHour[3] != 4 || d.AcceptDay != 4 {
		t.Errorf("accept totals = (%d, %d), want (4, 4)", d.AcceptPerHour[3], d.AcceptDay)
	}
	if d.DirtyHoursBitmap != 1<<3 {
		t.Errorf("DirtyHoursBitmap = %b, want %b", d.DirtyHoursBitmap, 1<<3)
	}
}

func TestProcessShareReject(t *testing.T) {
	d := New()
	s := &share.Share{Result: share.ResultReject, ShareValue: 2}
	d.ProcessShare(5, s)

	if d.RejectPerHour[5] != 2 || d.RejectDay != 2 {
		t.Errorf("reject totals = (%d, %d), want (2, 2)", d.RejectPerHour[5], d.RejectDay)
	}
	if d.AcceptDay != 0 {
		t.Errorf("AcceptDay = %d, want 0", d.AcceptDay)
	}
}

func TestDirtyHoursBitmapAccumulatesAcrossHours(t *testing.T) {
	d := New()
	d.ProcessShare(0, &share.Share{Result: share.ResultAccept, ShareValue: 1})
	d.ProcessShare(23, &share.Share{Result: share.ResultAccept, ShareValue: 1})

	want := uint32(1<<0 | 1<<23)
	if d.DirtyHoursBitmap != want {
		t.Errorf("DirtyHoursBitmap = %b, want %b", d.DirtyHoursBitmap, want)
	}
}

func writeRecords(t *testing.T, path string, shares []*share.Share) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, share.RecordSize)
	for _, s := range shares {
		if err := s.Encode(buf); err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := f.Write(buf); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestProcessUnchangedShareLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sharelog-test.bin")

	shares := []*share.Share{
		{UserID: 1, WorkerID: 1, Result: share.ResultAccept, ShareValue: 3, Timestamp: 3600 * 2, Diff: 1},
		{UserID: 1, WorkerID: 1, Result: share.ResultReject, ShareValue: 1, Timestamp: 3600 * 2},
		{UserID: 1, WorkerID: 2, Result: share.ResultAccept, ShareValue: 5, Timestamp: 3600 * 5, Diff: 1},
	}
	writeRecords(t, path, shares)

	p := NewParser(0)
	if err := p.ProcessUnchangedShareLog(path); err != nil {
		t.Fatalf("ProcessUnchangedShareLog: %v", err)
	}

	w1 := p.statsFor(share.WorkerKey{UserID: 1, WorkerID: 1})
	if w1.AcceptPerHour[2] != 3 || w1.RejectPerHour[2] != 1 {
		t.Errorf("worker1 hour2 = (%d, %d), want (3, 1)", w1.AcceptPerHour[2], w1.RejectPerHour[2])
	}

	w2 := p.statsFor(share.WorkerKey{UserID: 1, WorkerID: 2})
	if w2.AcceptPerHour[5] != 5 {
		t.Errorf("worker2 hour5 accept = %d, want 5", w2.AcceptPerHour[5])
	}
}

func TestProcessGrowingShareLogConsumesWholeRecordsOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sharelog-growing.bin")

	shares := []*share.Share{
		{UserID: 1, WorkerID: 1, Result: share.ResultAccept, ShareValue: 1, Timestamp: 0, Diff: 1},
		{UserID: 1, WorkerID: 1, Result: share.ResultAccept, ShareValue: 1, Timestamp: 0, Diff: 1},
	}
	writeRecords(t, path, shares)

	// Append a trailing partial record.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("append partial: %v", err)
	}
	f.Close()

	p := NewParser(0)
	n, err := p.ProcessGrowingShareLog(path)
	if err != nil {
		t.Fatalf("ProcessGrowingShareLog: %v", err)
	}
	if n != 2 {
		t.Errorf("records processed = %d, want 2", n)
	}
	if p.lastPosition != int64(2*share.RecordSize) {
		t.Errorf("lastPosition = %d, want %d", p.lastPosition, 2*share.RecordSize)
	}

	eof, err := p.IsReachEOF(path)
	if err != nil {
		t.Fatalf("IsReachEOF: %v", err)
	}
	if !eof {
		t.Error("IsReachEOF = false, want true (only a partial record remains)")
	}
}

func TestProcessGrowingShareLogAdvancesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sharelog-growing2.bin")

	writeRecords(t, path, []*share.Share{
		{UserID: 1, WorkerID: 1, Result: share.ResultAccept, ShareValue: 1, Timestamp: 0, Diff: 1},
	})

	p := NewParser(0)
	n, err := p.ProcessGrowingShareLog(path)
	if err != nil || n != 1 {
		t.Fatalf("first call: n=%d err=%v", n, err)
	}

	// Simulate the writer appending more records after the parser's read.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	buf := make([]byte, share.RecordSize)
	s := &share.Share{UserID: 1, WorkerID: 1, Result: share.ResultAccept, ShareValue: 1, Timestamp: 0, Diff: 1}
	if err := s.Encode(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	n, err = p.ProcessGrowingShareLog(path)
	if err != nil || n != 1 {
		t.Fatalf("second call: n=%d err=%v", n, err)
	}

	w := p.statsFor(share.WorkerKey{UserID: 1, WorkerID: 1})
	if w.AcceptDay != 2 {
		t.Errorf("AcceptDay = %d, want 2 across both calls", w.AcceptDay)
	}
}

func TestFlushToDBWritesDirtyHoursAndDayTotals(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer db.Close()

	p := NewParser(19700)
	key := share.WorkerKey{UserID: 1, WorkerID: 1}
	p.statsFor(key).ProcessShare(4, &share.Share{Result: share.ResultAccept, ShareValue: 10, Diff: 1})

	if err := p.FlushToDB(db); err != nil {
		t.Fatalf("FlushToDB: %v", err)
	}

	var accept uint64
	err = db.QueryRow(`SELECT accept FROM stats_shares_hour WHERE user_id=? AND worker_id=? AND day=? AND hour=?`,
		1, 1, int64(19700), 4).Scan(&accept)
	if err != nil {
		t.Fatalf("query hour: %v", err)
	}
	if accept != 10 {
		t.Errorf("hour accept = %d, want 10", accept)
	}

	var dayAccept uint64
	err = db.QueryRow(`SELECT accept FROM stats_shares_day WHERE user_id=? AND worker_id=? AND day=?`,
		1, 1, int64(19700)).Scan(&dayAccept)
	if err != nil {
		t.Fatalf("query day: %v", err)
	}
	if dayAccept != 10 {
		t.Errorf("day accept = %d, want 10", dayAccept)
	}
}
