package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// MagneticVariation returns the WMM declination in degrees (+East, -West) at the given
// position, altitude and date. Returns 0 when the model cannot be evaluated.
func MagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	altM := altFt * 0.3048

	loc := egm96.NewLocationGeodetic(lat, lon, altM)
	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0
	}

	return mag.D()
}

// MagneticHeading converts a true heading to a magnetic heading in [0, 360)
func MagneticHeading(trueHeading, lat, lon, altFt float64, date time.Time) float64 {
	h := trueHeading - MagneticVariation(lat, lon, altFt, date)
	return math.Mod(h+360.0, 360.0)
}
