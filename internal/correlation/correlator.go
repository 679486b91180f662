package correlation

import (
	"strings"

	"github.com/yegors/flightfusion/internal/adsb"
	"github.com/yegors/flightfusion/internal/schedule"
)

// Placeholder field values used when no schedule matches a live position
const (
	UnknownAirline = "Unknown Airline"
	UnknownAirport = "Unknown Airport"
	NotAvailable   = "N/A"
	InFlightStatus = "in-flight"
)

// MatchKind records which rule produced a schedule for a position
type MatchKind string

const (
	MatchExact       MatchKind = "exact"
	MatchHeuristic   MatchKind = "heuristic"
	MatchSynthesized MatchKind = "synthesized"
)

// Result is the outcome of matching one position. Schedule is never empty.
type Result struct {
	Schedule schedule.Record
	Kind     MatchKind
}

// Index is an immutable view over one cycle's schedule records
type Index struct {
	records  []schedule.Record
	byNumber map[string]int
}

// NewIndex builds an index preserving the input order. For duplicate flight numbers
// the first record wins exact lookups.
func NewIndex(records []schedule.Record) *Index {
	idx := &Index{
		records:  make([]schedule.Record, len(records)),
		byNumber: make(map[string]int, len(records)),
	}
	copy(idx.records, records)

	for i, rec := range idx.records {
		if rec.FlightNumber == "" {
			continue
		}
		if _, exists := idx.byNumber[rec.FlightNumber]; !exists {
			idx.byNumber[rec.FlightNumber] = i
		}
	}
	return idx
}

// Len returns the number of indexed records
func (idx *Index) Len() int {
	return len(idx.records)
}

// Records returns the indexed records in insertion order
func (idx *Index) Records() []schedule.Record {
	out := make([]schedule.Record, len(idx.records))
	copy(out, idx.records)
	return out
}

// Lookup returns the record with the given flight number. A missing key is not an error.
func (idx *Index) Lookup(flightNumber string) (schedule.Record, bool) {
	i, ok := idx.byNumber[flightNumber]
	if !ok {
		return schedule.Record{}, false
	}
	return idx.records[i], true
}

// Match associates a live position with a schedule record. Rules are tried in order:
//
//  1. callsign equals the flight number;
//  2. the first record, in insertion order, whose flight number contains the first two
//     characters of the callsign or whose aircraft registration equals the callsign;
//  3. a synthesized placeholder.
//
// Rule 2 can pair unrelated flights that share an airline prefix. That imprecision is
// kept so results stay stable for consumers.
func (idx *Index) Match(pos adsb.Position) Result {
	callsign := pos.Callsign

	if rec, ok := idx.Lookup(callsign); ok {
		return Result{Schedule: rec, Kind: MatchExact}
	}

	prefix := callsign
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	for _, rec := range idx.records {
		if (prefix != "" && strings.Contains(rec.FlightNumber, prefix)) ||
			(rec.Aircraft.Registration != "" && rec.Aircraft.Registration == callsign) {
			return Result{Schedule: rec, Kind: MatchHeuristic}
		}
	}

	return Result{Schedule: Placeholder(callsign), Kind: MatchSynthesized}
}

// Placeholder synthesizes a schedule for a callsign with no known timetable entry
func Placeholder(callsign string) schedule.Record {
	endpoint := schedule.Endpoint{
		Airport:  UnknownAirport,
		IATA:     NotAvailable,
		ICAO:     NotAvailable,
		Terminal: NotAvailable,
		Gate:     NotAvailable,
	}
	return schedule.Record{
		FlightNumber: callsign,
		AirlineName:  UnknownAirline,
		AirlineCode:  NotAvailable,
		Departure:    endpoint,
		Arrival:      endpoint,
		Status:       InFlightStatus,
		Aircraft: schedule.Aircraft{
			Registration: callsign,
			IATAType:     NotAvailable,
			ICAOType:     NotAvailable,
		},
		Placeholder: true,
	}
}
