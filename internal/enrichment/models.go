package enrichment

import (
	"strings"
	"time"

	"github.com/yegors/flightfusion/internal/adsb"
	"github.com/yegors/flightfusion/internal/correlation"
	"github.com/yegors/flightfusion/internal/geo"
	"github.com/yegors/flightfusion/internal/schedule"
)

// Source names used in snapshots, logs and metrics
const (
	SourceTelemetry = "telemetry"
	SourceSchedule  = "schedule"
)

// Flight is one live aircraft fused with its schedule. Schedule is never empty: when
// nothing matched it holds a placeholder and Match is "synthesized".
type Flight struct {
	Callsign        string                `json:"callsign"`
	Position        adsb.Position         `json:"position"`
	DistanceKm      *float64              `json:"distance_km,omitempty"`
	BearingDeg      *float64              `json:"bearing_deg,omitempty"`
	MagneticHeading float64               `json:"magnetic_heading"`
	Gate            string                `json:"gate"`
	Terminal        string                `json:"terminal"`
	Status          correlation.Status    `json:"status"`
	Match           correlation.MatchKind `json:"match"`
	Schedule        schedule.Record       `json:"schedule"`
	LastUpdate      time.Time             `json:"last_update"`
}

// BoardEntry is one row of the departure board, resolved from schedule data and
// whatever live signal was available for the flight.
type BoardEntry struct {
	FlightNumber    string             `json:"flight_number"`
	AirlineName     string             `json:"airline_name"`
	Destination     string             `json:"destination"`
	DestinationIATA string             `json:"destination_iata"`
	Scheduled       *time.Time         `json:"scheduled,omitempty"`
	Estimated       *time.Time         `json:"estimated,omitempty"`
	Gate            string             `json:"gate"`
	Terminal        string             `json:"terminal"`
	Status          correlation.Status `json:"status"`
	SourceStatus    correlation.Status `json:"source_status"`
	Live            bool               `json:"live"`
}

// SourceStatus reports how one upstream feed behaved during a cycle
type SourceStatus struct {
	OK      bool   `json:"ok"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// Snapshot is the immutable result of one enrichment cycle
type Snapshot struct {
	ID          string                  `json:"id"`
	GeneratedAt time.Time               `json:"generated_at"`
	Zone        *geo.Zone               `json:"zone,omitempty"`
	Tiles       []geo.BoundingBox       `json:"tiles,omitempty"`
	Flights     []Flight                `json:"flights"`
	Board       []BoardEntry            `json:"board"`
	Sources     map[string]SourceStatus `json:"sources"`
	Demo        bool                    `json:"demo"`
}

// FindFlight returns the flight with the given callsign (case-insensitive)
func (s *Snapshot) FindFlight(callsign string) (Flight, bool) {
	callsign = strings.ToUpper(strings.TrimSpace(callsign))
	for _, f := range s.Flights {
		if f.Callsign == callsign {
			return f, true
		}
	}
	return Flight{}, false
}

// FlightsNear re-filters the snapshot's flights around an arbitrary point, returning
// copies with DistanceKm and BearingDeg set relative to center, nearest first.
func (s *Snapshot) FlightsNear(center geo.Point, radiusKm float64) []Flight {
	ranked := geo.FilterAndSort(s.Flights, flightPoint, center, radiusKm)
	out := make([]Flight, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, withDistance(r.Item, center, r.DistanceKm))
	}
	return out
}

// FilterByStatus keeps the flights whose status is one of statuses
func FilterByStatus(flights []Flight, statuses ...correlation.Status) []Flight {
	if len(statuses) == 0 {
		return flights
	}
	want := make(map[correlation.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]Flight, 0, len(flights))
	for _, f := range flights {
		if want[f.Status] {
			out = append(out, f)
		}
	}
	return out
}

func flightPoint(f Flight) geo.Point {
	return geo.Point{Lat: f.Position.Latitude, Lon: f.Position.Longitude}
}

func positionPoint(p adsb.Position) geo.Point {
	return geo.Point{Lat: p.Latitude, Lon: p.Longitude}
}

func withDistance(f Flight, center geo.Point, distanceKm float64) Flight {
	d := distanceKm
	b := geo.BearingDeg(center.Lat, center.Lon, f.Position.Latitude, f.Position.Longitude)
	f.DistanceKm = &d
	f.BearingDeg = &b
	return f
}
