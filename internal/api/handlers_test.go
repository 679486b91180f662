package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/flightfusion/internal/correlation"
	"github.com/yegors/flightfusion/internal/enrichment"
	"github.com/yegors/flightfusion/internal/geo"
	"github.com/yegors/flightfusion/internal/observability"
	"github.com/yegors/flightfusion/internal/schedule"
	"github.com/yegors/flightfusion/internal/storage/sqlite"
	"github.com/yegors/flightfusion/pkg/logger"
)

var station = geo.Point{Lat: 50.0379, Lon: 8.5622}

type staticSnapshots struct {
	snap *enrichment.Snapshot
}

func (s staticSnapshots) Latest() *enrichment.Snapshot { return s.snap }

type failingReader struct{}

func (failingReader) GetSchedule(ctx context.Context, flightNumber string) (*sqlite.StoredSchedule, error) {
	return nil, errors.New("database is locked")
}

func flightAt(callsign string, lat, lon float64, status correlation.Status) enrichment.Flight {
	f := enrichment.Flight{Callsign: callsign, Status: status}
	f.Position.Callsign = callsign
	f.Position.Latitude = lat
	f.Position.Longitude = lon
	return f
}

func testSnapshot() *enrichment.Snapshot {
	return &enrichment.Snapshot{
		ID:          "snap-1",
		GeneratedAt: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Flights: []enrichment.Flight{
			flightAt("LH123", 50.1, 8.6, correlation.StatusInFlight),
			flightAt("BA900", 50.04, 8.56, correlation.StatusOnGround),
			flightAt("AF1000", 52.5, 13.4, correlation.StatusInFlight),
		},
		Board: []enrichment.BoardEntry{
			{FlightNumber: "LH123", Status: correlation.StatusInFlight},
		},
		Sources: map[string]enrichment.SourceStatus{
			enrichment.SourceTelemetry: {OK: true, Records: 3},
			enrichment.SourceSchedule:  {OK: false, Error: "timeout"},
		},
	}
}

func newTestRouter(t *testing.T, snap *enrichment.Snapshot, reader ScheduleReader) (http.Handler, *observability.Collector) {
	t.Helper()
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	zone := &geo.Zone{Center: station, RadiusKm: 200}
	h := NewHandler(staticSnapshots{snap: snap}, reader, station, zone, zone.Tiles(), logger.NewNop())
	return NewRouter(h, nil, metrics, logger.NewNop()).Routes(), metrics
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

type flightsBody struct {
	SnapshotID string              `json:"snapshot_id"`
	Count      int                 `json:"count"`
	Flights    []enrichment.Flight `json:"flights"`
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, testSnapshot(), nil)

	rec := get(t, router, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status      string                             `json:"status"`
		FlightCount int                                `json:"flight_count"`
		Sources     map[string]enrichment.SourceStatus `json:"sources"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 3, body.FlightCount)
	assert.False(t, body.Sources[enrichment.SourceSchedule].OK)
}

func TestHealthBeforeFirstCycle(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	rec := get(t, router, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "starting")

	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/api/v1/flights").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/api/v1/board").Code)
}

func TestGetFlights(t *testing.T) {
	router, _ := newTestRouter(t, testSnapshot(), nil)

	rec := get(t, router, "/api/v1/flights")
	require.Equal(t, http.StatusOK, rec.Code)
	var all flightsBody
	decode(t, rec, &all)
	assert.Equal(t, "snap-1", all.SnapshotID)
	assert.Equal(t, 3, all.Count)
}

func TestGetFlightsWithinRadius(t *testing.T) {
	router, _ := newTestRouter(t, testSnapshot(), nil)

	rec := get(t, router, "/api/v1/flights?radius_km=20")
	require.Equal(t, http.StatusOK, rec.Code)
	var body flightsBody
	decode(t, rec, &body)

	require.Len(t, body.Flights, 2)
	assert.Equal(t, "BA900", body.Flights[0].Callsign, "nearest first")
	assert.Equal(t, "LH123", body.Flights[1].Callsign)
	require.NotNil(t, body.Flights[0].DistanceKm)
	assert.Less(t, *body.Flights[0].DistanceKm, *body.Flights[1].DistanceKm)

	// Around Berlin only AF1000 is close.
	rec = get(t, router, "/api/v1/flights?radius_km=20&lat=52.52&lon=13.40")
	require.Equal(t, http.StatusOK, rec.Code)
	body = flightsBody{}
	decode(t, rec, &body)
	require.Len(t, body.Flights, 1)
	assert.Equal(t, "AF1000", body.Flights[0].Callsign)
}

func TestGetFlightsByStatus(t *testing.T) {
	router, _ := newTestRouter(t, testSnapshot(), nil)

	rec := get(t, router, "/api/v1/flights?status=on_ground")
	require.Equal(t, http.StatusOK, rec.Code)
	var body flightsBody
	decode(t, rec, &body)
	require.Len(t, body.Flights, 1)
	assert.Equal(t, "BA900", body.Flights[0].Callsign)
}

func TestGetFlightsRejectsBadQuery(t *testing.T) {
	router, _ := newTestRouter(t, testSnapshot(), nil)

	for _, q := range []string{
		"radius_km=abc", "radius_km=-5", "radius_km=NaN", "radius_km=Inf",
		"lat=91", "lat=NaN", "lon=200", "lon=nan", "status=HOVERING",
	} {
		rec := get(t, router, "/api/v1/flights?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestGetFlight(t *testing.T) {
	router, _ := newTestRouter(t, testSnapshot(), nil)

	rec := get(t, router, "/api/v1/flights/lh123")
	require.Equal(t, http.StatusOK, rec.Code)
	var f enrichment.Flight
	decode(t, rec, &f)
	assert.Equal(t, "LH123", f.Callsign)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/flights/ZZZ999").Code)
}

func TestGetBoardAndZone(t *testing.T) {
	router, _ := newTestRouter(t, testSnapshot(), nil)

	rec := get(t, router, "/api/v1/board")
	require.Equal(t, http.StatusOK, rec.Code)
	var board struct {
		Count int                     `json:"count"`
		Board []enrichment.BoardEntry `json:"board"`
	}
	decode(t, rec, &board)
	assert.Equal(t, 1, board.Count)

	rec = get(t, router, "/api/v1/zone")
	require.Equal(t, http.StatusOK, rec.Code)
	var zone struct {
		Enabled bool              `json:"enabled"`
		Zone    geo.Zone          `json:"zone"`
		Tiles   []geo.BoundingBox `json:"tiles"`
	}
	decode(t, rec, &zone)
	assert.True(t, zone.Enabled)
	assert.Equal(t, 200.0, zone.Zone.RadiusKm)
	require.Len(t, zone.Tiles, 1)
	assert.True(t, zone.Tiles[0].Contains(station.Lat, station.Lon))
}

func TestGetSchedule(t *testing.T) {
	store, err := sqlite.NewScheduleStore(filepath.Join(t.TempDir(), "schedules.db"), logger.NewNop())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.UpsertSchedules(context.Background(),
		[]schedule.Record{{FlightNumber: "LH123", AirlineName: "Lufthansa"}},
		func(schedule.Record) string { return "SCHEDULED" })
	require.NoError(t, err)

	router, _ := newTestRouter(t, testSnapshot(), store)

	rec := get(t, router, "/api/v1/schedules/lh123")
	require.Equal(t, http.StatusOK, rec.Code)
	var stored sqlite.StoredSchedule
	decode(t, rec, &stored)
	assert.Equal(t, "Lufthansa", stored.Record.AirlineName)
	assert.Equal(t, "SCHEDULED", stored.SourceStatus)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/schedules/XX1").Code)
}

func TestGetScheduleStoreUnavailable(t *testing.T) {
	router, _ := newTestRouter(t, testSnapshot(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/api/v1/schedules/LH123").Code)

	router, _ = newTestRouter(t, testSnapshot(), failingReader{})
	assert.Equal(t, http.StatusInternalServerError, get(t, router, "/api/v1/schedules/LH123").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, testSnapshot(), nil)

	get(t, router, "/api/v1/flights/LH123")

	rec := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `route="/api/v1/flights/{callsign}"`))
}
