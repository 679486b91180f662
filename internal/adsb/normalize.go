package adsb

import (
	"math"
	"strings"
	"time"

	"github.com/yegors/flightfusion/internal/geo"
)

// Normalize converts a decoded state vector into a Position. It never fails:
// absent or non-finite values degrade to zero, false or UnknownCallsign.
func Normalize(sv StateVector, now time.Time) Position {
	pos := Position{
		Callsign:      UnknownCallsign,
		ICAO24:        strings.ToLower(strings.TrimSpace(sv.ICAO24)),
		OriginCountry: strings.TrimSpace(deref(sv.OriginCountry)),
		ObservedAt:    now.UTC(),
	}

	if sv.Callsign != nil {
		if cs := strings.ToUpper(strings.TrimSpace(*sv.Callsign)); cs != "" {
			pos.Callsign = cs
		}
	}

	pos.Latitude = geo.ClampLat(finite(sv.Latitude))
	pos.Longitude = geo.ClampLon(finite(sv.Longitude))
	pos.AltitudeFt = nonNegative(finite(sv.BaroAltitudeM) * MetersToFeet)
	pos.VelocityKts = nonNegative(finite(sv.VelocityMS) * MsToKnots)
	pos.HeadingDeg = normalizeHeading(finite(sv.TrueTrack))
	pos.VerticalRate = finite(sv.VerticalRateMS)

	if sv.OnGround != nil {
		pos.OnGround = *sv.OnGround
	}
	if sv.LastContact != nil && *sv.LastContact > 0 {
		pos.ObservedAt = time.Unix(*sv.LastContact, 0).UTC()
	}

	return pos
}

// NormalizeAll normalizes every state that carries a position
func NormalizeAll(states []StateVector, now time.Time) []Position {
	positions := make([]Position, 0, len(states))
	for _, sv := range states {
		// Skip aircraft without position data
		if !sv.HasPosition() {
			continue
		}
		positions = append(positions, Normalize(sv, now))
	}
	return positions
}

func finite(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func normalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
