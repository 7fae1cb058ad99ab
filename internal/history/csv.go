// Package history persists per-cycle aircraft positions: a daily CSV file
// on disk and an optional ClickHouse archive for long-term queries.
package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jonboulle/clockwork"

	"aero_alerts/internal/store"
)

var csvHeader = []string{"Timestamp", "Hex", "Type", "Flight", "Altitude", "Groundspeed", "Track", "Lat", "Lon", "FlightID"}

// CSVWriter appends track rows to one CSV file per day. Creating a new
// day's file fires the rollover callback, which the backup uploader hooks
// to ship the finished files.
type CSVWriter struct {
	dir        string
	clock      clockwork.Clock
	logger     *slog.Logger
	onRollover func(ctx context.Context)
}

// NewCSVWriter creates a writer storing files under dir. onRollover may be
// nil.
func NewCSVWriter(dir string, clock clockwork.Clock, logger *slog.Logger, onRollover func(ctx context.Context)) *CSVWriter {
	return &CSVWriter{dir: dir, clock: clock, logger: logger, onRollover: onRollover}
}

// FileForDate returns the csv path for a given day.
func (w *CSVWriter) FileForDate(date string) string {
	return filepath.Join(w.dir, "tracks-"+date+".csv")
}

// Append writes one track row to today's file, creating it with a header
// row first when the day has rolled over.
func (w *CSVWriter) Append(ctx context.Context, tr *store.TrackRecord) error {
	path := w.FileForDate(w.clock.Now().Format("2006-01-02"))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := w.createWithHeader(path); err != nil {
			return err
		}
		w.logger.Info("created new daily track file", "path", path)
		if w.onRollover != nil {
			w.onRollover(ctx)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open track file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(trackRow(tr)); err != nil {
		return fmt.Errorf("write track row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

func (w *CSVWriter) createWithHeader(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create track file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

func trackRow(tr *store.TrackRecord) []string {
	row := make([]string, 0, len(csvHeader))
	row = append(row, strconv.FormatInt(tr.Timestamp, 10), tr.Hex)
	row = append(row, strOrEmpty(tr.Type), strOrEmpty(tr.Flight))
	if tr.Altitude != nil {
		row = append(row, strconv.Itoa(*tr.Altitude))
	} else {
		row = append(row, "")
	}
	if tr.GroundSpeed != nil {
		row = append(row, strconv.FormatFloat(*tr.GroundSpeed, 'f', -1, 64))
	} else {
		row = append(row, "")
	}
	if tr.Track != nil {
		row = append(row, strconv.Itoa(*tr.Track))
	} else {
		row = append(row, "")
	}
	row = append(row, floatOrEmpty(tr.Lat), floatOrEmpty(tr.Lon))
	if tr.FlightID != nil {
		row = append(row, strconv.FormatInt(*tr.FlightID, 10))
	} else {
		row = append(row, "")
	}
	return row
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatOrEmpty(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
