package adsb

import (
	"time"
)

// UnknownCallsign is used when a state vector carries no usable callsign
const UnknownCallsign = "UNKNOWN"

// Unit conversions applied during normalization
const (
	MetersToFeet = 3.28084
	MsToKnots    = 1.94384
)

// StateVector is one decoded telemetry state. Every field is optional because the
// source omits values freely; nil means "not reported".
type StateVector struct {
	ICAO24         string
	Callsign       *string
	OriginCountry  *string
	LastContact    *int64   // unix seconds
	Longitude      *float64 // degrees
	Latitude       *float64 // degrees
	BaroAltitudeM  *float64 // meters
	OnGround       *bool
	VelocityMS     *float64 // m/s over ground
	TrueTrack      *float64 // degrees clockwise from north
	VerticalRateMS *float64 // m/s
}

// HasPosition reports whether the state carries at least one coordinate
func (s StateVector) HasPosition() bool {
	return s.Latitude != nil || s.Longitude != nil
}

// StateSnapshot is the decoded result of one telemetry poll
type StateSnapshot struct {
	Time        time.Time
	States      []StateVector
	Discarded   int // null or undecodable entries dropped
	FailedTiles int
}

// Position is a normalized aircraft position. Altitude and velocity are always
// finite and non-negative; coordinates are always within valid ranges.
type Position struct {
	Callsign      string    `json:"callsign"`
	ICAO24        string    `json:"icao24,omitempty"`
	OriginCountry string    `json:"origin_country"`
	Longitude     float64   `json:"longitude"`
	Latitude      float64   `json:"latitude"`
	AltitudeFt    float64   `json:"altitude_ft"`
	VelocityKts   float64   `json:"velocity_kts"`
	HeadingDeg    float64   `json:"heading_deg"`
	VerticalRate  float64   `json:"vertical_rate"`
	OnGround      bool      `json:"on_ground"`
	ObservedAt    time.Time `json:"observed_at"`
}
