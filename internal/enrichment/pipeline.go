package enrichment

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/flightfusion/internal/adsb"
	"github.com/yegors/flightfusion/internal/correlation"
	"github.com/yegors/flightfusion/internal/geo"
	"github.com/yegors/flightfusion/internal/observability"
	"github.com/yegors/flightfusion/internal/schedule"
	"github.com/yegors/flightfusion/pkg/logger"
)

// TelemetrySource yields raw state vectors for a set of query tiles
type TelemetrySource interface {
	FetchStates(ctx context.Context, tiles []geo.BoundingBox) (*adsb.StateSnapshot, error)
}

// ScheduleSource yields departures for an airport
type ScheduleSource interface {
	FetchDepartures(ctx context.Context, iata string) ([]schedule.Record, error)
}

// PositionCache holds the latest position per callsign with a short expiry
type PositionCache interface {
	StorePositions(ctx context.Context, positions []adsb.Position) (int, error)
	GetPosition(ctx context.Context, callsign string) (*adsb.Position, error)
}

// ScheduleStore persists schedule documents keyed by flight number
type ScheduleStore interface {
	UpsertSchedules(ctx context.Context, records []schedule.Record, statusOf func(schedule.Record) string) (int, error)
}

// DemoSource synthesizes a dataset when live telemetry is unavailable
type DemoSource interface {
	GenerateStates(now time.Time) []adsb.StateVector
	GenerateSchedules(now time.Time) []schedule.Record
}

// Config controls what a cycle fetches and how it filters
type Config struct {
	Station     geo.Point
	AirportIATA string
	Zone        *geo.Zone // nil disables zone filtering
}

// Dependencies are the collaborators of a pipeline. Only Telemetry is required;
// nil optional collaborators are skipped.
type Dependencies struct {
	Telemetry TelemetrySource
	Schedules ScheduleSource
	Cache     PositionCache
	Store     ScheduleStore
	Demo      DemoSource
	Metrics   *observability.Collector
}

// Pipeline runs one enrichment cycle at a time. It holds no per-cycle state.
type Pipeline struct {
	cfg    Config
	deps   Dependencies
	tiles  []geo.BoundingBox
	logger *logger.Logger
	now    func() time.Time
	newID  func() string
}

// NewPipeline creates a pipeline. Query tiles are computed once from the zone; without a
// zone the whole telemetry feed is queried.
func NewPipeline(cfg Config, deps Dependencies, log *logger.Logger) (*Pipeline, error) {
	if deps.Telemetry == nil {
		return nil, errors.New("telemetry source is required")
	}

	var tiles []geo.BoundingBox
	if cfg.Zone != nil {
		tiles = cfg.Zone.Tiles()
	}

	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		tiles:  tiles,
		logger: log.Named("enrichment"),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// Tiles returns the telemetry query boxes in use
func (p *Pipeline) Tiles() []geo.BoundingBox {
	out := make([]geo.BoundingBox, len(p.tiles))
	copy(out, p.tiles)
	return out
}

// fetchResult carries one upstream feed's contribution to a cycle
type fetchResult struct {
	source  string
	states  *adsb.StateSnapshot
	records []schedule.Record
	err     error
}

// Run executes one cycle and returns a fresh snapshot. Upstream failures degrade to an
// empty contribution from that source; Run never fails.
func (p *Pipeline) Run(ctx context.Context) *Snapshot {
	start := time.Now()
	now := p.now().UTC()

	states, records, sources := p.fetch(ctx)

	snap := &Snapshot{
		ID:          p.newID(),
		GeneratedAt: now,
		Zone:        p.cfg.Zone,
		Tiles:       p.Tiles(),
		Sources:     sources,
	}

	if len(states) == 0 && p.deps.Demo != nil {
		p.logger.Warn("No live telemetry, serving demo dataset")
		states = p.deps.Demo.GenerateStates(now)
		records = p.deps.Demo.GenerateSchedules(now)
		snap.Demo = true
	}

	positions := adsb.Dedupe(adsb.NormalizeAll(states, now))
	idx := correlation.NewIndex(records)

	snap.Flights = p.enrich(positions, idx, now)
	snap.Board = p.buildBoard(ctx, idx, positions)

	if !snap.Demo {
		p.persist(ctx, positions, records)
	}

	p.deps.Metrics.ObserveCycle(time.Since(start), len(snap.Flights))
	p.logger.Info("Enrichment cycle complete",
		logger.String("snapshot_id", snap.ID),
		logger.Int("states", len(states)),
		logger.Int("positions", len(positions)),
		logger.Int("flights", len(snap.Flights)),
		logger.Int("schedules", idx.Len()),
		logger.Bool("demo", snap.Demo),
		logger.Duration("took", time.Since(start)),
	)

	return snap
}

// fetch issues both upstream requests concurrently and waits for both. Neither can
// block or fail the other.
func (p *Pipeline) fetch(ctx context.Context) ([]adsb.StateVector, []schedule.Record, map[string]SourceStatus) {
	results := make(chan fetchResult, 2)

	go func() {
		snap, err := p.deps.Telemetry.FetchStates(ctx, p.tiles)
		results <- fetchResult{source: SourceTelemetry, states: snap, err: err}
	}()

	go func() {
		if p.deps.Schedules == nil {
			results <- fetchResult{source: SourceSchedule, err: errors.New("schedule source not configured")}
			return
		}
		recs, err := p.deps.Schedules.FetchDepartures(ctx, p.cfg.AirportIATA)
		results <- fetchResult{source: SourceSchedule, records: recs, err: err}
	}()

	var states []adsb.StateVector
	var records []schedule.Record
	sources := make(map[string]SourceStatus, 2)

	for i := 0; i < 2; i++ {
		r := <-results
		status := SourceStatus{OK: r.err == nil}
		if r.err != nil {
			status.Error = r.err.Error()
			p.logger.Warn("Upstream fetch failed, continuing without it",
				logger.String("source", r.source),
				logger.Error(r.err),
			)
		}

		switch r.source {
		case SourceTelemetry:
			if r.err == nil && r.states != nil {
				states = r.states.States
				status.Records = len(states)
			}
		case SourceSchedule:
			if r.err == nil {
				records = r.records
				status.Records = len(records)
			}
		}

		sources[r.source] = status
		p.deps.Metrics.ObserveSource(r.source, status.Records, status.OK)
	}

	return states, records, sources
}

// enrich correlates every position (zone filtered when configured) with a schedule
func (p *Pipeline) enrich(positions []adsb.Position, idx *correlation.Index, now time.Time) []Flight {
	var ranked []geo.Ranked[adsb.Position]
	if z := p.cfg.Zone; z != nil {
		ranked = geo.FilterAndSort(positions, positionPoint, z.Center, z.RadiusKm)
	} else {
		ranked = make([]geo.Ranked[adsb.Position], len(positions))
		for i, pos := range positions {
			ranked[i] = geo.Ranked[adsb.Position]{Item: pos}
		}
	}

	flights := make([]Flight, 0, len(ranked))
	for _, r := range ranked {
		pos := r.Item
		match := idx.Match(pos)
		p.deps.Metrics.ObserveMatch(string(match.Kind))

		f := Flight{
			Callsign:        pos.Callsign,
			Position:        pos,
			MagneticHeading: geo.MagneticHeading(pos.HeadingDeg, pos.Latitude, pos.Longitude, pos.AltitudeFt, now),
			Gate:            orNA(match.Schedule.Departure.Gate),
			Terminal:        orNA(match.Schedule.Departure.Terminal),
			Status:          correlation.FromPosition(pos),
			Match:           match.Kind,
			Schedule:        match.Schedule,
			LastUpdate:      now,
		}
		if p.cfg.Zone != nil {
			f = withDistance(f, p.cfg.Zone.Center, r.DistanceKm)
		}
		flights = append(flights, f)
	}

	return flights
}

// buildBoard resolves a departure board from the schedule index. The live signal for a
// flight comes from this cycle's positions first, then from the position cache.
func (p *Pipeline) buildBoard(ctx context.Context, idx *correlation.Index, positions []adsb.Position) []BoardEntry {
	live := make(map[string]adsb.Position, len(positions))
	for _, pos := range positions {
		if _, exists := live[pos.Callsign]; !exists {
			live[pos.Callsign] = pos
		}
	}

	records := idx.Records()
	board := make([]BoardEntry, 0, len(records))
	for _, rec := range records {
		signal := p.liveSignal(ctx, rec.FlightNumber, live)

		board = append(board, BoardEntry{
			FlightNumber:    rec.FlightNumber,
			AirlineName:     rec.AirlineName,
			Destination:     rec.Arrival.Airport,
			DestinationIATA: rec.Arrival.IATA,
			Scheduled:       rec.Departure.Scheduled,
			Estimated:       rec.Departure.Estimated,
			Gate:            orNA(rec.Departure.Gate),
			Terminal:        orNA(rec.Departure.Terminal),
			Status:          correlation.FromSchedule(rec, signal),
			SourceStatus:    correlation.ParseSourceStatus(rec.Status),
			Live:            signal != nil,
		})
	}

	sort.SliceStable(board, func(i, j int) bool {
		a, b := board[i].Scheduled, board[j].Scheduled
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})

	return board
}

// liveSignal returns nil when there is no live data for the flight. Cache misses and
// cache errors both count as no live data.
func (p *Pipeline) liveSignal(ctx context.Context, flightNumber string, live map[string]adsb.Position) *correlation.LiveSignal {
	if pos, ok := live[flightNumber]; ok {
		return &correlation.LiveSignal{OnGround: pos.OnGround, AltitudeFt: pos.AltitudeFt}
	}
	if p.deps.Cache == nil || flightNumber == "" {
		return nil
	}

	cached, err := p.deps.Cache.GetPosition(ctx, flightNumber)
	if err != nil {
		p.logger.Debug("Position cache lookup failed",
			logger.String("flight", flightNumber),
			logger.Error(err),
		)
		return nil
	}
	if cached == nil {
		return nil
	}
	return &correlation.LiveSignal{OnGround: cached.OnGround, AltitudeFt: cached.AltitudeFt}
}

// persist writes positions and schedules to their stores. Failures are logged and
// counted, never returned.
func (p *Pipeline) persist(ctx context.Context, positions []adsb.Position, records []schedule.Record) {
	if p.deps.Cache != nil && len(positions) > 0 {
		if _, err := p.deps.Cache.StorePositions(ctx, positions); err != nil {
			p.logger.Error("Failed to cache positions", logger.Error(err))
			p.deps.Metrics.ObserveStoreFailure("redis")
		}
	}

	if p.deps.Store != nil && len(records) > 0 {
		statusOf := func(rec schedule.Record) string {
			return string(correlation.ParseSourceStatus(rec.Status))
		}
		if _, err := p.deps.Store.UpsertSchedules(ctx, records, statusOf); err != nil {
			p.logger.Error("Failed to store schedules", logger.Error(err))
			p.deps.Metrics.ObserveStoreFailure("sqlite")
		}
	}
}

func orNA(s string) string {
	if s == "" {
		return correlation.NotAvailable
	}
	return s
}
