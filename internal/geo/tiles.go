package geo

import (
	"fmt"
	"math"
)

const (
	// MaxTileSizeKm is the largest region a single telemetry query may cover
	MaxTileSizeKm = 500.0

	// TileOverlapKm is how much adjacent tiles overlap so aircraft on a seam are not lost
	TileOverlapKm = 50.0
)

// BoundingBox is a lat/lon rectangle. LatMin <= LatMax and LonMin <= LonMax always hold.
type BoundingBox struct {
	LatMin float64 `json:"lamin"`
	LonMin float64 `json:"lomin"`
	LatMax float64 `json:"lamax"`
	LonMax float64 `json:"lomax"`
}

// NewBoundingBox builds a box around a center with the given half-extents in km, clamped to valid coordinates
func NewBoundingBox(centerLat, centerLon, halfLatKm, halfLonKm, refLat float64) BoundingBox {
	dLat := KmToLatDegrees(halfLatKm)
	dLon := KmToLonDegrees(halfLonKm, refLat)

	return BoundingBox{
		LatMin: ClampLat(centerLat - dLat),
		LonMin: ClampLon(centerLon - dLon),
		LatMax: ClampLat(centerLat + dLat),
		LonMax: ClampLon(centerLon + dLon),
	}
}

// Contains reports whether the point lies inside the box (edges inclusive)
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Valid reports whether the box satisfies the ordering and range invariants
func (b BoundingBox) Valid() bool {
	return b.LatMin <= b.LatMax && b.LonMin <= b.LonMax &&
		b.LatMin >= -90 && b.LatMax <= 90 &&
		b.LonMin >= -180 && b.LonMax <= 180
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%.4f,%.4f → %.4f,%.4f]", b.LatMin, b.LonMin, b.LatMax, b.LonMax)
}

// Tile decomposes a circular search zone into query boxes no larger than MaxTileSizeKm.
//
// A radius within the cap yields exactly one box spanning the full radius. Larger radii yield
// an n×n grid (n = ceil(radius/MaxTileSizeKm)) of tiles with half-size MaxTileSizeKm/2, stepped
// by MaxTileSizeKm-TileOverlapKm so that neighbours share a TileOverlapKm strip.
func Tile(centerLat, centerLon, radiusKm float64) []BoundingBox {
	if radiusKm <= 0 || math.IsNaN(radiusKm) {
		return []BoundingBox{NewBoundingBox(centerLat, centerLon, 0, 0, centerLat)}
	}

	if radiusKm <= MaxTileSizeKm {
		return []BoundingBox{NewBoundingBox(centerLat, centerLon, radiusKm, radiusKm, centerLat)}
	}

	n := int(math.Ceil(radiusKm / MaxTileSizeKm))
	half := MaxTileSizeKm / 2
	step := MaxTileSizeKm - TileOverlapKm
	mid := float64(n-1) / 2

	tiles := make([]BoundingBox, 0, n*n)
	for i := 0; i < n; i++ {
		northKm := (float64(i) - mid) * step
		for j := 0; j < n; j++ {
			eastKm := (float64(j) - mid) * step

			tileLat := centerLat + KmToLatDegrees(northKm)
			tileLon := centerLon + KmToLonDegrees(eastKm, centerLat)

			tiles = append(tiles, NewBoundingBox(tileLat, tileLon, half, half, centerLat))
		}
	}

	return tiles
}
