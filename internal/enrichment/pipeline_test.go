package enrichment

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/flightfusion/internal/adsb"
	"github.com/yegors/flightfusion/internal/correlation"
	"github.com/yegors/flightfusion/internal/geo"
	"github.com/yegors/flightfusion/internal/observability"
	"github.com/yegors/flightfusion/internal/schedule"
	"github.com/yegors/flightfusion/internal/simulation"
	"github.com/yegors/flightfusion/pkg/logger"
)

var (
	station  = geo.Point{Lat: 50.0379, Lon: 8.5622}
	cycleNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
)

type fakeTelemetry struct {
	snap  *adsb.StateSnapshot
	err   error
	wait  <-chan struct{}
	tiles []geo.BoundingBox
}

func (f *fakeTelemetry) FetchStates(ctx context.Context, tiles []geo.BoundingBox) (*adsb.StateSnapshot, error) {
	f.tiles = tiles
	if f.wait != nil {
		select {
		case <-f.wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.snap, f.err
}

type fakeSchedules struct {
	records []schedule.Record
	err     error
	called  chan struct{}
	airport string
}

func (f *fakeSchedules) FetchDepartures(ctx context.Context, iata string) ([]schedule.Record, error) {
	f.airport = iata
	if f.called != nil {
		close(f.called)
	}
	return f.records, f.err
}

type fakeCache struct {
	mu       sync.Mutex
	stored   map[string]adsb.Position
	storeErr error
	getErr   error
}

func (f *fakeCache) StorePositions(ctx context.Context, positions []adsb.Position) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return 0, f.storeErr
	}
	if f.stored == nil {
		f.stored = map[string]adsb.Position{}
	}
	for _, p := range positions {
		f.stored[p.Callsign] = p
	}
	return len(positions), nil
}

func (f *fakeCache) GetPosition(ctx context.Context, callsign string) (*adsb.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.stored[callsign]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type fakeStore struct {
	records  []schedule.Record
	statuses []string
	err      error
}

func (f *fakeStore) UpsertSchedules(ctx context.Context, records []schedule.Record, statusOf func(schedule.Record) string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.records = append(f.records, records...)
	for _, r := range records {
		f.statuses = append(f.statuses, statusOf(r))
	}
	return len(records), nil
}

type fakeDemo struct{}

func (fakeDemo) GenerateStates(now time.Time) []adsb.StateVector {
	return []adsb.StateVector{stateAt("DEMO1", 5, 3000, false)}
}

func (fakeDemo) GenerateSchedules(now time.Time) []schedule.Record {
	return []schedule.Record{{FlightNumber: "DEMO1", AirlineName: "Demo Air"}}
}

// stateAt places a state distanceKm due north of the station
func stateAt(callsign string, distanceKm, altM float64, onGround bool) adsb.StateVector {
	lat := station.Lat + distanceKm/(2*math.Pi*geo.EarthRadiusKm/360)
	lon := station.Lon
	cs := callsign
	return adsb.StateVector{
		ICAO24:        "abc123",
		Callsign:      &cs,
		Latitude:      &lat,
		Longitude:     &lon,
		BaroAltitudeM: &altM,
		OnGround:      &onGround,
	}
}

func newTestPipeline(t *testing.T, cfg Config, deps Dependencies) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, deps, logger.NewNop())
	require.NoError(t, err)
	p.now = func() time.Time { return cycleNow }
	p.newID = func() string { return "snap-1" }
	return p
}

func zoneConfig(radiusKm float64) Config {
	return Config{
		Station:     station,
		AirportIATA: "FRA",
		Zone:        &geo.Zone{Center: station, RadiusKm: radiusKm},
	}
}

func TestRunEndToEnd(t *testing.T) {
	departed := cycleNow.Add(-10 * time.Minute)
	telemetry := &fakeTelemetry{snap: &adsb.StateSnapshot{States: []adsb.StateVector{
		stateAt("LH123", 60, 2500, false),  // 8202 ft, in flight
		stateAt("QTR8", 10, 100, false),    // 328 ft, taxiing
		stateAt("LH123", 60, 2500, false),  // duplicate report
		stateAt("FAR1", 250, 10000, false), // outside zone
		{ICAO24: "nopos", Callsign: ptr("NOPOS")},
	}}}
	schedules := &fakeSchedules{records: []schedule.Record{
		{FlightNumber: "XY999", Aircraft: schedule.Aircraft{Registration: "LH123"}},
		{FlightNumber: "LH123", AirlineName: "Lufthansa", Departure: schedule.Endpoint{Gate: "A26", Terminal: "1", Actual: &departed}, Status: "active"},
	}}
	cache := &fakeCache{}
	store := &fakeStore{}

	p := newTestPipeline(t, zoneConfig(200), Dependencies{
		Telemetry: telemetry, Schedules: schedules, Cache: cache, Store: store,
	})
	snap := p.Run(context.Background())

	assert.Equal(t, "snap-1", snap.ID)
	assert.Equal(t, cycleNow, snap.GeneratedAt)
	assert.False(t, snap.Demo)
	assert.Equal(t, "FRA", schedules.airport)
	assert.Len(t, telemetry.tiles, 1)

	require.Len(t, snap.Flights, 2)

	near := snap.Flights[0]
	assert.Equal(t, "QTR8", near.Callsign)
	require.NotNil(t, near.DistanceKm)
	assert.InDelta(t, 10, *near.DistanceKm, 1e-6)
	assert.Equal(t, correlation.StatusTaxiing, near.Status)
	assert.Equal(t, correlation.MatchSynthesized, near.Match)
	assert.Equal(t, correlation.UnknownAirline, near.Schedule.AirlineName)
	assert.Equal(t, "N/A", near.Gate)

	lh := snap.Flights[1]
	assert.Equal(t, "LH123", lh.Callsign)
	assert.InDelta(t, 60, *lh.DistanceKm, 1e-6)
	assert.Equal(t, correlation.MatchExact, lh.Match)
	assert.Equal(t, "Lufthansa", lh.Schedule.AirlineName)
	assert.Equal(t, "A26", lh.Gate)
	assert.Equal(t, correlation.StatusInFlight, lh.Status)

	assert.True(t, snap.Sources[SourceTelemetry].OK)
	assert.Equal(t, 5, snap.Sources[SourceTelemetry].Records)
	assert.Equal(t, 2, snap.Sources[SourceSchedule].Records)

	// Board: LH123 departed, XY999 has no live data.
	require.Len(t, snap.Board, 2)
	board := map[string]BoardEntry{}
	for _, b := range snap.Board {
		board[b.FlightNumber] = b
	}
	assert.Equal(t, correlation.StatusInFlight, board["LH123"].Status)
	assert.True(t, board["LH123"].Live)
	assert.Equal(t, correlation.StatusOnTime, board["XY999"].Status)
	assert.False(t, board["XY999"].Live)

	// Persistence sees every deduped position, not only the zone-filtered ones.
	assert.Len(t, cache.stored, 3)
	assert.Len(t, store.records, 2)
	assert.Equal(t, []string{"SCHEDULED", "IN_FLIGHT"}, store.statuses)
}

func TestRunWithoutZoneKeepsEveryPosition(t *testing.T) {
	telemetry := &fakeTelemetry{snap: &adsb.StateSnapshot{States: []adsb.StateVector{
		stateAt("AAA1", 5000, 10000, false),
		stateAt("BBB2", 1, 0, true),
	}}}

	p := newTestPipeline(t, Config{AirportIATA: "FRA"}, Dependencies{Telemetry: telemetry})
	snap := p.Run(context.Background())

	require.Len(t, snap.Flights, 2)
	assert.Nil(t, snap.Flights[0].DistanceKm)
	assert.Equal(t, correlation.StatusOnGround, snap.Flights[1].Status)
	assert.Empty(t, telemetry.tiles)
	assert.False(t, snap.Sources[SourceSchedule].OK)
}

func TestRunTelemetryFailureDegradesToEmpty(t *testing.T) {
	telemetry := &fakeTelemetry{err: errors.New("dial tcp: i/o timeout")}
	schedules := &fakeSchedules{records: []schedule.Record{{FlightNumber: "LH1", Status: "cancelled"}}}

	p := newTestPipeline(t, zoneConfig(100), Dependencies{Telemetry: telemetry, Schedules: schedules})
	snap := p.Run(context.Background())

	assert.Empty(t, snap.Flights)
	assert.False(t, snap.Sources[SourceTelemetry].OK)
	assert.Contains(t, snap.Sources[SourceTelemetry].Error, "i/o timeout")
	require.Len(t, snap.Board, 1)
	assert.Equal(t, correlation.StatusCancelled, snap.Board[0].Status)
}

func TestRunScheduleFailureSynthesizesEverything(t *testing.T) {
	telemetry := &fakeTelemetry{snap: &adsb.StateSnapshot{States: []adsb.StateVector{
		stateAt("LH123", 5, 1000, false),
	}}}
	schedules := &fakeSchedules{err: &schedule.APIError{Code: "usage_limit_reached", Message: "limit"}}

	p := newTestPipeline(t, zoneConfig(100), Dependencies{Telemetry: telemetry, Schedules: schedules})
	snap := p.Run(context.Background())

	require.Len(t, snap.Flights, 1)
	assert.Equal(t, correlation.MatchSynthesized, snap.Flights[0].Match)
	assert.Equal(t, correlation.StatusClimbing, snap.Flights[0].Status)
	assert.False(t, snap.Sources[SourceSchedule].OK)
	assert.Empty(t, snap.Board)
}

func TestRunFetchesConcurrently(t *testing.T) {
	// Telemetry only returns once the schedule fetch has started.
	scheduleCalled := make(chan struct{})
	telemetry := &fakeTelemetry{
		snap: &adsb.StateSnapshot{States: []adsb.StateVector{stateAt("LH1", 1, 0, true)}},
		wait: scheduleCalled,
	}
	schedules := &fakeSchedules{called: scheduleCalled}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := newTestPipeline(t, zoneConfig(50), Dependencies{Telemetry: telemetry, Schedules: schedules})
	snap := p.Run(ctx)

	assert.NoError(t, ctx.Err())
	assert.Len(t, snap.Flights, 1)
}

func TestRunStoreFailuresAreNotFatal(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewCollector(reg)
	require.NoError(t, err)

	telemetry := &fakeTelemetry{snap: &adsb.StateSnapshot{States: []adsb.StateVector{stateAt("LH1", 1, 3000, false)}}}
	schedules := &fakeSchedules{records: []schedule.Record{{FlightNumber: "LH1"}}}
	cache := &fakeCache{storeErr: errors.New("connection refused"), getErr: errors.New("connection refused")}
	store := &fakeStore{err: errors.New("database is locked")}

	p := newTestPipeline(t, zoneConfig(100), Dependencies{
		Telemetry: telemetry, Schedules: schedules, Cache: cache, Store: store, Metrics: metrics,
	})
	snap := p.Run(context.Background())

	require.Len(t, snap.Flights, 1)
	assert.Equal(t, correlation.MatchExact, snap.Flights[0].Match)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreFailures.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreFailures.WithLabelValues("sqlite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Cycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Matches.WithLabelValues("exact")))
}

func TestBoardUsesCachedLiveSignal(t *testing.T) {
	cache := &fakeCache{stored: map[string]adsb.Position{
		"BA900": {Callsign: "BA900", OnGround: true},
	}}
	schedules := &fakeSchedules{records: []schedule.Record{
		{FlightNumber: "BA900", Status: "delayed"},
		{FlightNumber: "BA901", Status: "delayed"},
	}}
	telemetry := &fakeTelemetry{snap: &adsb.StateSnapshot{}}

	p := newTestPipeline(t, zoneConfig(100), Dependencies{Telemetry: telemetry, Schedules: schedules, Cache: cache})
	snap := p.Run(context.Background())

	require.Len(t, snap.Board, 2)
	assert.Equal(t, correlation.StatusOnGround, snap.Board[0].Status)
	assert.True(t, snap.Board[0].Live)
	assert.Equal(t, correlation.StatusDelayed, snap.Board[1].Status)
	assert.Equal(t, correlation.StatusDelayed, snap.Board[1].SourceStatus)
}

func TestBoardOrderedByScheduledTime(t *testing.T) {
	early := cycleNow.Add(time.Hour)
	late := cycleNow.Add(2 * time.Hour)
	schedules := &fakeSchedules{records: []schedule.Record{
		{FlightNumber: "NOTIME"},
		{FlightNumber: "LATE", Departure: schedule.Endpoint{Scheduled: &late}},
		{FlightNumber: "EARLY", Departure: schedule.Endpoint{Scheduled: &early}},
	}}

	p := newTestPipeline(t, zoneConfig(100), Dependencies{Telemetry: &fakeTelemetry{snap: &adsb.StateSnapshot{}}, Schedules: schedules})
	snap := p.Run(context.Background())

	require.Len(t, snap.Board, 3)
	assert.Equal(t, "EARLY", snap.Board[0].FlightNumber)
	assert.Equal(t, "LATE", snap.Board[1].FlightNumber)
	assert.Equal(t, "NOTIME", snap.Board[2].FlightNumber)
}

func TestRunFallsBackToDemo(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, zoneConfig(100), Dependencies{
		Telemetry: &fakeTelemetry{err: errors.New("unavailable")},
		Store:     store,
		Demo:      fakeDemo{},
	})
	snap := p.Run(context.Background())

	assert.True(t, snap.Demo)
	require.Len(t, snap.Flights, 1)
	assert.Equal(t, "DEMO1", snap.Flights[0].Callsign)
	assert.Equal(t, correlation.MatchExact, snap.Flights[0].Match)
	assert.Empty(t, store.records, "demo data is never persisted")
}

func TestDemoFleetStaysStableOverTime(t *testing.T) {
	demo := simulation.NewService(simulation.Config{
		Count:       12,
		Center:      station,
		RadiusKm:    80,
		AirportIATA: "FRA",
	}, logger.NewNop())

	p := newTestPipeline(t, zoneConfig(200), Dependencies{
		Telemetry: &fakeTelemetry{err: errors.New("unavailable")},
		Demo:      demo,
	})

	statusMix := func(at time.Time) map[correlation.Status]int {
		p.now = func() time.Time { return at }
		snap := p.Run(context.Background())
		require.True(t, snap.Demo)
		mix := map[correlation.Status]int{}
		for _, f := range snap.Flights {
			mix[f.Status]++
		}
		return mix
	}

	initial := statusMix(cycleNow)
	assert.Equal(t, map[correlation.Status]int{
		correlation.StatusOnGround: 4,
		correlation.StatusClimbing: 4,
		correlation.StatusInFlight: 4,
	}, initial)
	assert.Equal(t, initial, statusMix(cycleNow.Add(6*time.Hour)))
}

func TestNewPipelineRequiresTelemetry(t *testing.T) {
	_, err := NewPipeline(Config{}, Dependencies{}, logger.NewNop())
	assert.Error(t, err)
}

func TestSnapshotQueries(t *testing.T) {
	telemetry := &fakeTelemetry{snap: &adsb.StateSnapshot{States: []adsb.StateVector{
		stateAt("AAA1", 10, 0, true),
		stateAt("BBB2", 40, 3000, false),
		stateAt("CCC3", 150, 9000, false),
	}}}
	p := newTestPipeline(t, zoneConfig(200), Dependencies{Telemetry: telemetry})
	snap := p.Run(context.Background())

	f, ok := snap.FindFlight("bbb2")
	require.True(t, ok)
	assert.Equal(t, "BBB2", f.Callsign)
	_, ok = snap.FindFlight("ZZZ9")
	assert.False(t, ok)

	near := snap.FlightsNear(station, 50)
	require.Len(t, near, 2)
	assert.Equal(t, "AAA1", near[0].Callsign)

	ground := FilterByStatus(snap.Flights, correlation.StatusOnGround)
	require.Len(t, ground, 1)
	assert.Equal(t, "AAA1", ground[0].Callsign)
	assert.Len(t, FilterByStatus(snap.Flights), 3)
}

func ptr[T any](v T) *T { return &v }
