package geo

import "math"

const (
	// EarthRadiusKm is the mean Earth radius used by DistanceKm
	EarthRadiusKm = 6371.0

	// KmPerDegreeLat is the length of one degree of latitude
	KmPerDegreeLat = 111.32

	// minCosLat keeps longitude conversions finite near the poles
	minCosLat = 1e-6
)

// Point is a WGS84 coordinate in decimal degrees
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceKm returns the great-circle (haversine) distance between two points in kilometers.
// NaN inputs propagate to the result.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	rad := math.Pi / 180.0
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// DistanceBetween is DistanceKm for two Points
func DistanceBetween(a, b Point) float64 {
	return DistanceKm(a.Lat, a.Lon, b.Lat, b.Lon)
}

// KmToLatDegrees converts a north-south distance to degrees of latitude
func KmToLatDegrees(km float64) float64 {
	return km / KmPerDegreeLat
}

// KmToLonDegrees converts an east-west distance at the given latitude to degrees of longitude
func KmToLonDegrees(km, atLat float64) float64 {
	cos := math.Cos(atLat * math.Pi / 180.0)
	if math.Abs(cos) < minCosLat {
		cos = minCosLat
	}
	return km / (KmPerDegreeLat * math.Abs(cos))
}

// BearingDeg returns the initial bearing from point 1 to point 2 in degrees [0, 360)
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180.0
	lat1Rad := lat1 * rad
	lat2Rad := lat2 * rad
	dLon := (lon2 - lon1) * rad

	y := math.Sin(dLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dLon)
	bearing := math.Atan2(y, x) / rad

	return math.Mod(bearing+360.0, 360.0)
}

// ClampLat limits a latitude to [-90, 90]
func ClampLat(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

// ClampLon limits a longitude to [-180, 180]
func ClampLon(lon float64) float64 {
	return math.Max(-180, math.Min(180, lon))
}
