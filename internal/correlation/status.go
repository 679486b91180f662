package correlation

import (
	"strings"

	"github.com/yegors/flightfusion/internal/adsb"
	"github.com/yegors/flightfusion/internal/schedule"
)

// Status is a resolved operational status
type Status string

const (
	StatusOnGround  Status = "ON_GROUND"
	StatusTaxiing   Status = "TAXIING"
	StatusClimbing  Status = "CLIMBING"
	StatusInFlight  Status = "IN_FLIGHT"
	StatusLanded    Status = "LANDED"
	StatusCancelled Status = "CANCELLED"
	StatusDelayed   Status = "DELAYED"
	StatusScheduled Status = "SCHEDULED"
	StatusOnTime    Status = "ON_TIME"
)

// Altitude thresholds in feet for position-based resolution
const (
	TaxiCeilingFt = 1000.0
	CruiseFloorFt = 5000.0
)

// LiveSignal is the live data available for a scheduled flight. A nil *LiveSignal
// means there is no live data.
type LiveSignal struct {
	OnGround   bool
	AltitudeFt float64
}

// AllStatuses lists every status tag
var AllStatuses = []Status{
	StatusOnGround, StatusTaxiing, StatusClimbing, StatusInFlight, StatusLanded,
	StatusCancelled, StatusDelayed, StatusScheduled, StatusOnTime,
}

// Valid reports whether s is a known tag
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// FromPosition resolves a status from live telemetry alone
func FromPosition(pos adsb.Position) Status {
	switch {
	case pos.OnGround:
		return StatusOnGround
	case pos.AltitudeFt < TaxiCeilingFt:
		return StatusTaxiing
	case pos.AltitudeFt > CruiseFloorFt:
		return StatusInFlight
	default:
		return StatusClimbing
	}
}

// FromSchedule resolves a status from a schedule record and optional live data
func FromSchedule(rec schedule.Record, live *LiveSignal) Status {
	source := normalizeSourceStatus(rec.Status)
	switch {
	case isCancelled(source):
		return StatusCancelled
	case rec.Arrival.Actual != nil:
		return StatusLanded
	case rec.Departure.Actual != nil:
		return StatusInFlight
	case live != nil && live.OnGround:
		// aircraft at the stand, boarding
		return StatusOnGround
	case source == "delayed":
		return StatusDelayed
	default:
		return StatusOnTime
	}
}

// ParseSourceStatus maps the schedule feed's free-form status onto a tag.
// Unrecognised values map to SCHEDULED.
func ParseSourceStatus(raw string) Status {
	source := normalizeSourceStatus(raw)
	if isCancelled(source) {
		return StatusCancelled
	}
	switch source {
	case "landed":
		return StatusLanded
	case "active", "en-route", "in-flight", "airborne":
		return StatusInFlight
	case "delayed":
		return StatusDelayed
	case "diverted", "incident":
		// still airborne or unresolved; treat as in flight
		return StatusInFlight
	case "on-time":
		return StatusOnTime
	default:
		return StatusScheduled
	}
}

// isCancelled accepts both spellings of a normalized cancelled status
func isCancelled(source string) bool {
	return source == "cancelled" || source == "canceled"
}

func normalizeSourceStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	return strings.ReplaceAll(s, " ", "-")
}
