package geo

import "sort"

// Zone is a circular region around a reference point
type Zone struct {
	Center   Point   `json:"center"`
	RadiusKm float64 `json:"radius_km"`
}

// Tiles returns the query boxes covering the zone
func (z Zone) Tiles() []BoundingBox {
	return Tile(z.Center.Lat, z.Center.Lon, z.RadiusKm)
}

// WithinZone reports whether a coordinate lies within radiusKm of center
func WithinZone(lat, lon float64, center Point, radiusKm float64) bool {
	return DistanceKm(lat, lon, center.Lat, center.Lon) <= radiusKm
}

// Ranked pairs an item with its distance from a zone center
type Ranked[T any] struct {
	Item       T
	DistanceKm float64
}

// FilterAndSort keeps the items within radiusKm of center and orders them by ascending distance.
// Items at equal distance keep their input order.
func FilterAndSort[T any](items []T, pointOf func(T) Point, center Point, radiusKm float64) []Ranked[T] {
	ranked := make([]Ranked[T], 0, len(items))
	for _, item := range items {
		p := pointOf(item)
		d := DistanceKm(p.Lat, p.Lon, center.Lat, center.Lon)
		if d <= radiusKm {
			ranked = append(ranked, Ranked[T]{Item: item, DistanceKm: d})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})

	return ranked
}
