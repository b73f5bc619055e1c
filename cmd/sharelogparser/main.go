// sharelogparser replays one day's sharelog file into the relational store.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tos-network/statsserver/internal/config"
	"github.com/tos-network/statsserver/internal/daystats"
	"github.com/tos-network/statsserver/internal/storage"
	"github.com/tos-network/statsserver/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	dataDir := flag.String("data-dir", "", "Override sharelog.data_dir from config")
	date := flag.String("date", "today", "Day to replay, as YYYYMMDD or \"today\"")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	dir := cfg.ShareLog.DataDir
	if *dataDir != "" {
		dir = *dataDir
	}

	day, isToday, err := parseDay(*date)
	if err != nil {
		util.Fatalf("Invalid -date: %v", err)
	}

	path := filepath.Join(dir, dayFileName(day))
	if _, err := os.Stat(path); err != nil {
		util.Fatalf("Sharelog file not found: %v", err)
	}

	db, err := storage.Open(cfg.DB.Primary)
	if err != nil {
		util.Fatalf("Failed to open storage: %v", err)
	}
	defer db.Close()

	parser := daystats.NewParser(day)

	if isToday {
		if err := replayGrowing(parser, path); err != nil {
			util.Fatalf("Failed to replay growing sharelog %s: %v", path, err)
		}
	} else {
		if err := parser.ProcessUnchangedShareLog(path); err != nil {
			util.Fatalf("Failed to replay sealed sharelog %s: %v", path, err)
		}
	}

	if err := parser.FlushToDB(db); err != nil {
		util.Fatalf("Failed to flush parsed day to storage: %v", err)
	}

	util.Infof("Replayed %s into storage", path)
}

// replayGrowing drains every whole record currently in path, tolerating a
// trailing partial record left by a writer still appending to the file.
func replayGrowing(parser *daystats.ShareLogParser, path string) error {
	for {
		n, err := parser.ProcessGrowingShareLog(path)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		eof, err := parser.IsReachEOF(path)
		if err != nil {
			return err
		}
		if eof {
			return nil
		}
	}
}

func parseDay(date string) (day int64, isToday bool, err error) {
	if date == "today" {
		now := time.Now().UTC()
		t := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return t.Unix(), true, nil
	}

	t, err := time.Parse("20060102", date)
	if err != nil {
		return 0, false, fmt.Errorf("expected YYYYMMDD, got %q: %w", date, err)
	}
	return t.Unix(), false, nil
}

func dayFileName(day int64) string {
	t := time.Unix(day, 0).UTC()
	return fmt.Sprintf("sharelog-%04d%02d%02d.bin", t.Year(), t.Month(), t.Day())
}
