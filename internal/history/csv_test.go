package history

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aero_alerts/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func sampleTrack(ts int64) *store.TrackRecord {
	flight := "ACA123"
	alt := 37000
	gs := 834.5
	trk := 270
	lat, lon := 45.4, -75.7
	fid := int64(7)
	return &store.TrackRecord{
		Timestamp: ts, Hex: "c06f5a", Flight: &flight,
		Altitude: &alt, GroundSpeed: &gs, Track: &trk,
		Lat: &lat, Lon: &lon, FlightID: &fid,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVAppendCreatesFileWithHeader(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	w := NewCSVWriter(dir, clock, testLogger(), nil)
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, sampleTrack(1000)))
	require.NoError(t, w.Append(ctx, sampleTrack(1010)))

	rows := readCSV(t, w.FileForDate("2025-06-18"))
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"1000", "c06f5a", "", "ACA123", "37000", "834.5", "270", "45.4", "-75.7", "7"}, rows[1])
}

func TestCSVRolloverFiresCallback(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 18, 23, 59, 0, 0, time.UTC))
	var rollovers int
	w := NewCSVWriter(dir, clock, testLogger(), func(ctx context.Context) { rollovers++ })
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, sampleTrack(1000)))
	require.NoError(t, w.Append(ctx, sampleTrack(1010)))
	assert.Equal(t, 1, rollovers)

	clock.Advance(2 * time.Minute)
	require.NoError(t, w.Append(ctx, sampleTrack(1200)))
	assert.Equal(t, 2, rollovers)

	assert.FileExists(t, w.FileForDate("2025-06-18"))
	assert.FileExists(t, w.FileForDate("2025-06-19"))
}

func TestCSVNilFieldsWriteEmptyColumns(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	w := NewCSVWriter(dir, clock, testLogger(), nil)

	require.NoError(t, w.Append(context.Background(), &store.TrackRecord{Timestamp: 500, Hex: "abc123"}))

	rows := readCSV(t, w.FileForDate("2025-06-18"))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"500", "abc123", "", "", "", "", "", "", "", ""}, rows[1])
}
