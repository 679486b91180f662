package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/flightfusion/internal/correlation"
	"github.com/yegors/flightfusion/internal/enrichment"
	"github.com/yegors/flightfusion/internal/geo"
	"github.com/yegors/flightfusion/internal/storage/sqlite"
	"github.com/yegors/flightfusion/pkg/logger"
)

// SnapshotProvider exposes the most recently published snapshot
type SnapshotProvider interface {
	Latest() *enrichment.Snapshot
}

// ScheduleReader reads persisted schedule documents
type ScheduleReader interface {
	GetSchedule(ctx context.Context, flightNumber string) (*sqlite.StoredSchedule, error)
}

// Handler contains the API handlers
type Handler struct {
	snapshots SnapshotProvider
	schedules ScheduleReader
	station   geo.Point
	zone      *geo.Zone
	tiles     []geo.BoundingBox
	logger    *logger.Logger
}

// NewHandler creates a new API handler. schedules may be nil when the store is disabled.
func NewHandler(snapshots SnapshotProvider, schedules ScheduleReader, station geo.Point, zone *geo.Zone, tiles []geo.BoundingBox, log *logger.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		schedules: schedules,
		station:   station,
		zone:      zone,
		tiles:     tiles,
		logger:    log.Named("api-handler"),
	}
}

// GetHealth reports service state and per-source status of the last cycle
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Latest()
	if snap == nil {
		WriteJSON(w, http.StatusOK, map[string]any{
			"status": "starting",
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"snapshot_id":  snap.ID,
		"last_cycle":   snap.GeneratedAt,
		"flight_count": len(snap.Flights),
		"board_count":  len(snap.Board),
		"demo":         snap.Demo,
		"sources":      snap.Sources,
	})
}

// GetFlights returns the enriched flights of the latest snapshot. With radius_km the
// flights are re-filtered around lat/lon (default: the station); status takes a comma
// separated list of status tags.
func (h *Handler) GetFlights(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.latest(w)
	if !ok {
		return
	}

	filters, err := parseFlightFilters(r, h.station)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flights := snap.Flights
	if filters.radiusKm > 0 {
		flights = snap.FlightsNear(filters.center, filters.radiusKm)
	}
	flights = enrichment.FilterByStatus(flights, filters.statuses...)

	WriteJSON(w, http.StatusOK, map[string]any{
		"snapshot_id":  snap.ID,
		"generated_at": snap.GeneratedAt,
		"demo":         snap.Demo,
		"count":        len(flights),
		"flights":      flights,
	})
}

// GetFlight returns one flight by callsign
func (h *Handler) GetFlight(w http.ResponseWriter, r *http.Request) {
	callsign := chi.URLParam(r, "callsign")
	if strings.TrimSpace(callsign) == "" {
		http.Error(w, "Missing callsign", http.StatusBadRequest)
		return
	}

	snap, ok := h.latest(w)
	if !ok {
		return
	}

	flight, found := snap.FindFlight(callsign)
	if !found {
		http.Error(w, "Flight not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, flight)
}

// GetBoard returns the departure board of the latest snapshot
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.latest(w)
	if !ok {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"snapshot_id":  snap.ID,
		"generated_at": snap.GeneratedAt,
		"count":        len(snap.Board),
		"board":        snap.Board,
	})
}

// GetZone returns the search zone and the telemetry query tiles derived from it
func (h *Handler) GetZone(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"enabled": h.zone != nil,
		"station": h.station,
		"zone":    h.zone,
		"tiles":   h.tiles,
	})
}

// GetSchedule returns a persisted schedule document by flight number
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if h.schedules == nil {
		http.Error(w, "Schedule store not available", http.StatusServiceUnavailable)
		return
	}

	flightNumber := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "flightNumber")))
	if flightNumber == "" {
		http.Error(w, "Missing flight number", http.StatusBadRequest)
		return
	}

	stored, err := h.schedules.GetSchedule(r.Context(), flightNumber)
	if err != nil {
		h.logger.Error("Failed to read schedule",
			logger.String("flight_number", flightNumber),
			logger.Error(err))
		http.Error(w, "Failed to read schedule", http.StatusInternalServerError)
		return
	}
	if stored == nil {
		http.Error(w, "Schedule not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, stored)
}

// latest writes a 503 and returns false until the first snapshot is published
func (h *Handler) latest(w http.ResponseWriter) (*enrichment.Snapshot, bool) {
	snap := h.snapshots.Latest()
	if snap == nil {
		http.Error(w, "No snapshot available yet", http.StatusServiceUnavailable)
		return nil, false
	}
	return snap, true
}

type flightFilters struct {
	center   geo.Point
	radiusKm float64
	statuses []correlation.Status
}

func parseFlightFilters(r *http.Request, station geo.Point) (flightFilters, error) {
	q := r.URL.Query()
	filters := flightFilters{center: station}

	if radiusStr := q.Get("radius_km"); radiusStr != "" {
		radius, err := strconv.ParseFloat(radiusStr, 64)
		if err != nil || math.IsNaN(radius) || radius <= 0 || math.IsInf(radius, 0) {
			return filters, fmt.Errorf("invalid radius_km: %q", radiusStr)
		}
		filters.radiusKm = radius
	}

	if latStr := q.Get("lat"); latStr != "" {
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
			return filters, fmt.Errorf("invalid lat: %q", latStr)
		}
		filters.center.Lat = lat
	}

	if lonStr := q.Get("lon"); lonStr != "" {
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil || math.IsNaN(lon) || lon < -180 || lon > 180 {
			return filters, fmt.Errorf("invalid lon: %q", lonStr)
		}
		filters.center.Lon = lon
	}

	if statusStr := q.Get("status"); statusStr != "" {
		for _, s := range strings.Split(statusStr, ",") {
			status := correlation.Status(strings.ToUpper(strings.TrimSpace(s)))
			if status == "" {
				continue
			}
			if !status.Valid() {
				return filters, fmt.Errorf("unknown status: %q", s)
			}
			filters.statuses = append(filters.statuses, status)
		}
	}

	return filters, nil
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// requestLogger logs each request at debug level
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("HTTP request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.String("remote_addr", r.RemoteAddr),
				logger.Duration("took", time.Since(start)))
		})
	}
}
