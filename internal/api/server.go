// Package api exposes the service's status endpoints: health, Prometheus
// metrics, and recent sightings.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aero_alerts/internal/store"
)

// TrackCounter reports archived track volume per aircraft, busiest first.
type TrackCounter interface {
	CountByHex(ctx context.Context, limit int) (map[string]uint64, error)
}

// Server is the status HTTP server.
type Server struct {
	store   store.Store
	counter TrackCounter
	logger  *slog.Logger
	http    *http.Server
}

// NewServer builds the server on addr. counter may be nil when no track
// archive is configured; the endpoint is then not registered.
func NewServer(addr string, st store.Store, counter TrackCounter, logger *slog.Logger) *Server {
	s := &Server{store: st, counter: counter, logger: logger}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the configured chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sightings", s.handleSightings)
		if s.counter != nil {
			r.Get("/tracks/counts", s.handleTrackCounts)
		}
	})

	return r
}

// Start begins serving. It blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("status server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// SightingResponse is one recent sighting in API form.
type SightingResponse struct {
	ID         int64    `json:"id"`
	Timestamp  int64    `json:"timestamp"`
	ICAOHex    string   `json:"icao_hex"`
	Flight     *string  `json:"flight,omitempty"`
	Altitude   *int     `json:"altitude,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
	Bearing    *int     `json:"bearing,omitempty"`
	OriginICAO *string  `json:"origin_icao,omitempty"`
	DestICAO   *string  `json:"dest_icao,omitempty"`
}

func (s *Server) handleSightings(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	flights, err := s.store.RecentFlights(r.Context(), limit)
	if err != nil {
		s.logger.Warn("sightings query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]SightingResponse, 0, len(flights))
	for i := range flights {
		f := &flights[i]
		out = append(out, SightingResponse{
			ID:         f.ID,
			Timestamp:  f.Timestamp,
			ICAOHex:    f.ICAOHex,
			Flight:     f.Flight,
			Altitude:   f.Altitude,
			Speed:      f.Speed,
			DistanceKm: f.Distance,
			Bearing:    f.Bearing,
			OriginICAO: f.OriginICAO,
			DestICAO:   f.DestICAO,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"sightings": out})
}

func (s *Server) handleTrackCounts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	counts, err := s.counter.CountByHex(r.Context(), limit)
	if err != nil {
		s.logger.Warn("track counts query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
