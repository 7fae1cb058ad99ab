package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aero_alerts/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.CreateSchema(context.Background()))
	return NewServer(":0", st, nil, testLogger()), st
}

type fakeCounter struct {
	counts map[string]uint64
	limit  int
}

func (f *fakeCounter) CountByHex(ctx context.Context, limit int) (map[string]uint64, error) {
	f.limit = limit
	return f.counts, nil
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSightingsEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	flight := "ACA123"
	for i := int64(1); i <= 3; i++ {
		_, err := st.InsertFlight(ctx, &store.FlightRecord{
			Timestamp: 1000 + i, ICAOHex: "c06f5a", Flight: &flight,
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sightings?limit=2", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sightings []SightingResponse `json:"sightings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sightings, 2)
	// Newest first.
	assert.Equal(t, int64(1003), body.Sightings[0].Timestamp)
	assert.Equal(t, "ACA123", *body.Sightings[0].Flight)
}

func TestSightingsEndpointBadLimit(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sightings?limit=9999", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackCountsEndpoint(t *testing.T) {
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	counter := &fakeCounter{counts: map[string]uint64{"c06f5a": 42, "a1b2c3": 7}}
	s := NewServer(":0", st, counter, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tracks/counts?limit=10", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, counter.limit)
	var body struct {
		Counts map[string]uint64 `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(42), body.Counts["c06f5a"])
}

func TestTrackCountsEndpointAbsentWithoutArchive(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tracks/counts", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
