// Package daystats accumulates per-worker hourly and daily share totals for
// a single day, and parses previously-written sharelog files into those
// totals.
package daystats

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/storage"
)

const hoursPerDay = 24

// DayStats accumulates one worker's accept/reject/score totals for a single
// UTC day, broken down by hour, plus a bitmap marking which hours changed
// since the last flush.
type DayStats struct {
	AcceptPerHour [hoursPerDay]uint64
	RejectPerHour [hoursPerDay]uint64
	ScorePerHour  [hoursPerDay]float64

	AcceptDay uint64
	RejectDay uint64
	ScoreDay  float64

	// DirtyHoursBitmap has bit hourIdx set if that hour's totals changed
	// since the last flush. Set with bitwise OR, never cleared here.
	DirtyHoursBitmap uint32
}

// New returns a zeroed DayStats.
func New() *DayStats {
	return &DayStats{}
}

// ProcessShare folds one share into hour hourIdx (0-23) of the day.
func (d *DayStats) ProcessShare(hourIdx int, s *share.Share) {
	if s.Result.IsAccept() {
		d.AcceptPerHour[hourIdx] += s.ShareValue
		d.AcceptDay += s.ShareValue
		d.ScorePerHour[hourIdx] += s.Score()
		d.ScoreDay += s.Score()
	} else {
		d.RejectPerHour[hourIdx] += s.ShareValue
		d.RejectDay += s.ShareValue
	}
	d.DirtyHoursBitmap |= 1 << uint(hourIdx)
}

func hourOfDay(timestamp uint32) int {
	return int((timestamp % secondsPerDay) / 3600)
}

const secondsPerDay = 86400

// ShareLogParser replays a day's sharelog file into per-worker DayStats.
type ShareLogParser struct {
	perWorker map[share.WorkerKey]*DayStats
	day       int64

	// lastPosition tracks how many bytes of a growing file have already
	// been consumed by ProcessGrowingShareLog.
	lastPosition int64
}

// NewParser creates a parser for the given day (unix seconds, truncated to
// a day boundary).
func NewParser(day int64) *ShareLogParser {
	return &ShareLogParser{
		perWorker: make(map[share.WorkerKey]*DayStats),
		day:       day,
	}
}

func (p *ShareLogParser) statsFor(key share.WorkerKey) *DayStats {
	d, ok := p.perWorker[key]
	if !ok {
		d = New()
		p.perWorker[key] = d
	}
	return d
}

func (p *ShareLogParser) processRecord(buf []byte) error {
	s, err := share.Decode(buf)
	if err != nil {
		return err
	}
	p.statsFor(s.Key()).ProcessShare(hourOfDay(s.Timestamp), s)
	return nil
}

// ProcessUnchangedShareLog memory-maps path in full and replays every
// record. Intended for a sealed (no-longer-growing) day file.
func (p *ShareLogParser) ProcessUnchangedShareLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("daystats: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("daystats: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	region, err := mapFile(f, 0, size)
	if err != nil {
		return fmt.Errorf("daystats: mmap %s: %w", path, err)
	}
	defer region.Close()

	data := region.Bytes()
	recordCount := len(data) / share.RecordSize
	for i := 0; i < recordCount; i++ {
		start := i * share.RecordSize
		if err := p.processRecord(data[start : start+share.RecordSize]); err != nil {
			return fmt.Errorf("daystats: decode record %d: %w", i, err)
		}
	}
	return nil
}

// kElementsNum bounds how many records ProcessGrowingShareLog reads per
// call (500,000 records * 48 bytes each is roughly 24MB).
const kElementsNum = 500000

// ProcessGrowingShareLog reads up to kElementsNum whole records starting at
// p.lastPosition, advances lastPosition by exactly the bytes consumed, and
// returns the number of records processed. A trailing partial record is
// left unconsumed for the next call.
func (p *ShareLogParser) ProcessGrowingShareLog(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("daystats: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(p.lastPosition, io.SeekStart); err != nil {
		return 0, fmt.Errorf("daystats: seek %s: %w", path, err)
	}

	buf := make([]byte, kElementsNum*share.RecordSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("daystats: read %s: %w", path, err)
	}

	wholeRecords := n / share.RecordSize
	consumed := wholeRecords * share.RecordSize

	for i := 0; i < wholeRecords; i++ {
		start := i * share.RecordSize
		if err := p.processRecord(buf[start : start+share.RecordSize]); err != nil {
			return i, fmt.Errorf("daystats: decode record %d: %w", i, err)
		}
	}

	p.lastPosition += int64(consumed)
	return wholeRecords, nil
}

// IsReachEOF reports whether the next ProcessGrowingShareLog call would find
// no new whole record to consume.
func (p *ShareLogParser) IsReachEOF(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("daystats: stat %s: %w", path, err)
	}
	remaining := info.Size() - p.lastPosition
	return remaining < share.RecordSize, nil
}

// FlushToDB upserts one row per dirty hour into stats_shares_hour and one
// row per day into stats_shares_day, for every worker seen so far.
func (p *ShareLogParser) FlushToDB(db *sql.DB) error {
	hourRows := make([]storage.HourRow, 0)
	dayRows := make([]storage.DayRow, 0, len(p.perWorker))

	for key, d := range p.perWorker {
		for hour := 0; hour < hoursPerDay; hour++ {
			if d.DirtyHoursBitmap&(1<<uint(hour)) == 0 {
				continue
			}
			hourRows = append(hourRows, storage.HourRow{
				Key:    key,
				Day:    p.day,
				Hour:   hour,
				Accept: d.AcceptPerHour[hour],
				Reject: d.RejectPerHour[hour],
				Score:  d.ScorePerHour[hour],
			})
		}

		dayRows = append(dayRows, storage.DayRow{
			Key:    key,
			Day:    p.day,
			Accept: d.AcceptDay,
			Reject: d.RejectDay,
			Score:  d.ScoreDay,
		})
	}

	if err := storage.UpsertShareHours(db, hourRows); err != nil {
		return err
	}
	return storage.UpsertShareDays(db, dayRows)
}
