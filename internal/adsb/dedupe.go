package adsb

import (
	"math"
	"strconv"
)

// Fingerprint identifies a position by callsign and coordinates rounded to 3 decimals
func Fingerprint(p Position) string {
	return p.Callsign + "_" + round3(p.Latitude) + "_" + round3(p.Longitude)
}

func round3(v float64) string {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		r = 0 // fold -0 into 0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// Dedupe drops positions whose fingerprint was already seen. The first occurrence wins
// and the relative order of survivors is preserved.
func Dedupe(positions []Position) []Position {
	seen := make(map[string]struct{}, len(positions))
	out := make([]Position, 0, len(positions))
	for _, p := range positions {
		key := Fingerprint(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
