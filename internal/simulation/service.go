package simulation

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/yegors/flightfusion/internal/adsb"
	"github.com/yegors/flightfusion/internal/geo"
	"github.com/yegors/flightfusion/internal/schedule"
	"github.com/yegors/flightfusion/pkg/logger"
)

const (
	MaxSimulatedAircraft = 50
	DefaultSeed          = 42
)

// Climbers cycle through this band so the fleet always has departures in progress
const (
	ClimbStartFt = 1500.0
	ClimbTopFt   = 4500.0
)

const (
	maxStepSecs  = 5.0
	spawnFrac    = 0.75 // aircraft start within this fraction of RadiusKm
	boundaryFrac = 0.9  // and turn back at this one
)

// Config controls the demo dataset
type Config struct {
	Count       int
	Seed        int64
	Center      geo.Point
	RadiusKm    float64
	AirportIATA string
	AirportICAO string
	AirportName string
}

// SimulatedAircraft is one synthesized aircraft and its current kinematic state
type SimulatedAircraft struct {
	Hex           string
	Flight        string
	Airline       airline
	Registration  string
	Lat           float64
	Lon           float64
	AltitudeFt    float64
	HeadingDeg    float64
	SpeedKts      float64
	VerticalRateF float64 // ft/min
	OnGround      bool
	Scheduled     bool // has a matching timetable entry
}

type airline struct {
	IATA string
	ICAO string
	Name string
}

var airlines = []airline{
	{"LH", "DLH", "Lufthansa"},
	{"BA", "BAW", "British Airways"},
	{"AF", "AFR", "Air France"},
	{"KL", "KLM", "KLM Royal Dutch Airlines"},
	{"LX", "SWR", "Swiss International Air Lines"},
	{"UA", "UAL", "United Airlines"},
	{"EK", "UAE", "Emirates"},
	{"OS", "AUA", "Austrian Airlines"},
}

var destinations = []schedule.Endpoint{
	{Airport: "Heathrow", IATA: "LHR", ICAO: "EGLL"},
	{Airport: "Charles de Gaulle", IATA: "CDG", ICAO: "LFPG"},
	{Airport: "Schiphol", IATA: "AMS", ICAO: "EHAM"},
	{Airport: "Zurich", IATA: "ZRH", ICAO: "LSZH"},
	{Airport: "Newark Liberty", IATA: "EWR", ICAO: "KEWR"},
	{Airport: "Dubai International", IATA: "DXB", ICAO: "OMDB"},
	{Airport: "Vienna International", IATA: "VIE", ICAO: "LOWW"},
}

// Service produces a deterministic synthesized dataset around a station, used when
// the telemetry feed yields nothing.
type Service struct {
	cfg        Config
	aircraft   []*SimulatedAircraft
	lastUpdate time.Time
	mutex      sync.Mutex
	logger     *logger.Logger
}

// NewService creates the demo fleet. The same Config always yields the same fleet.
func NewService(cfg Config, log *logger.Logger) *Service {
	if cfg.Count <= 0 {
		cfg.Count = 12
	}
	if cfg.Count > MaxSimulatedAircraft {
		cfg.Count = MaxSimulatedAircraft
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = 100
	}
	if cfg.AirportName == "" {
		cfg.AirportName = cfg.AirportIATA
	}

	s := &Service{
		cfg:    cfg,
		logger: log.Named("simulation"),
	}
	s.aircraft = s.buildFleet(rand.New(rand.NewSource(cfg.Seed)))

	s.logger.Info("Demo fleet created",
		logger.Int("aircraft", len(s.aircraft)),
		logger.String("airport", cfg.AirportIATA),
	)
	return s
}

func (s *Service) buildFleet(rng *rand.Rand) []*SimulatedAircraft {
	fleet := make([]*SimulatedAircraft, 0, s.cfg.Count)
	seenHex := make(map[string]bool, s.cfg.Count)
	seenFlight := make(map[string]bool, s.cfg.Count)

	for i := 0; i < s.cfg.Count; i++ {
		al := airlines[i%len(airlines)]

		hex := fmt.Sprintf("%06x", rng.Intn(0xFFFFFF))
		for seenHex[hex] {
			hex = fmt.Sprintf("%06x", rng.Intn(0xFFFFFF))
		}
		seenHex[hex] = true

		flight := fmt.Sprintf("%s%d", al.IATA, 100+rng.Intn(900))
		for seenFlight[flight] {
			flight = fmt.Sprintf("%s%d", al.IATA, 100+rng.Intn(900))
		}
		seenFlight[flight] = true

		distanceKm := 2 + rng.Float64()*(s.cfg.RadiusKm*spawnFrac-2)
		bearing := rng.Float64() * 360
		lat, lon := offset(s.cfg.Center, distanceKm, bearing)

		ac := &SimulatedAircraft{
			Hex:          hex,
			Flight:       flight,
			Airline:      al,
			Registration: fmt.Sprintf("D-A%c%c%c", 'A'+rune(rng.Intn(26)), 'A'+rune(rng.Intn(26)), 'A'+rune(rng.Intn(26))),
			Lat:          lat,
			Lon:          lon,
			HeadingDeg:   rng.Float64() * 360,
			Scheduled:    i%4 != 3,
		}

		switch i % 3 {
		case 0: // parked or taxiing
			ac.OnGround = true
			ac.SpeedKts = float64(rng.Intn(20))
		case 1: // climbing out
			ac.AltitudeFt = ClimbStartFt + rng.Float64()*(ClimbTopFt-ClimbStartFt)
			ac.SpeedKts = 160 + rng.Float64()*80
			ac.VerticalRateF = 1500 + rng.Float64()*1500
		default: // cruise
			ac.AltitudeFt = 8000 + rng.Float64()*30000
			ac.SpeedKts = 300 + rng.Float64()*180
		}

		fleet = append(fleet, ac)
	}
	return fleet
}

// UpdatePositions advances every aircraft by dead reckoning to now. Long gaps are
// integrated in short steps so aircraft stay inside RadiusKm.
func (s *Service) UpdatePositions(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.lastUpdate.IsZero() {
		s.lastUpdate = now
		return
	}
	deltaTime := now.Sub(s.lastUpdate).Seconds()
	if deltaTime <= 0 {
		return
	}
	limitKm := s.cfg.RadiusKm * boundaryFrac
	for remaining := deltaTime; remaining > 0; remaining -= maxStepSecs {
		step := math.Min(remaining, maxStepSecs)
		for _, ac := range s.aircraft {
			updateAircraftPosition(ac, step)
			turnAtBoundary(ac, s.cfg.Center, limitKm)
		}
	}
	s.lastUpdate = now
}

// GenerateStates returns the fleet as telemetry state vectors (SI units)
func (s *Service) GenerateStates(now time.Time) []adsb.StateVector {
	s.UpdatePositions(now)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	contact := now.Unix()
	states := make([]adsb.StateVector, 0, len(s.aircraft))
	for _, ac := range s.aircraft {
		callsign := ac.Flight
		country := "Germany"
		lat, lon := ac.Lat, ac.Lon
		altM := ac.AltitudeFt / adsb.MetersToFeet
		velMS := ac.SpeedKts / adsb.MsToKnots
		track := ac.HeadingDeg
		vrate := ac.VerticalRateF / 196.850394
		onGround := ac.OnGround

		states = append(states, adsb.StateVector{
			ICAO24:         ac.Hex,
			Callsign:       &callsign,
			OriginCountry:  &country,
			LastContact:    &contact,
			Longitude:      &lon,
			Latitude:       &lat,
			BaroAltitudeM:  &altM,
			OnGround:       &onGround,
			VelocityMS:     &velMS,
			TrueTrack:      &track,
			VerticalRateMS: &vrate,
		})
	}
	return states
}

// GenerateSchedules returns departures for the scheduled part of the fleet plus two
// flights with no live aircraft, one cancelled and one delayed. Times are relative to
// the hour containing now.
func (s *Service) GenerateSchedules(now time.Time) []schedule.Record {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	base := now.UTC().Truncate(time.Hour)
	origin := schedule.Endpoint{
		Airport: s.cfg.AirportName,
		IATA:    s.cfg.AirportIATA,
		ICAO:    s.cfg.AirportICAO,
	}

	records := make([]schedule.Record, 0, len(s.aircraft)+2)
	for i, ac := range s.aircraft {
		if !ac.Scheduled {
			continue
		}

		dep := origin
		dep.Terminal = fmt.Sprintf("%d", 1+i%2)
		dep.Gate = fmt.Sprintf("%c%d", 'A'+rune(i%4), 10+i)
		dep.Scheduled = timePtr(base.Add(time.Duration(i*10) * time.Minute))

		arr := destinations[i%len(destinations)]
		arr.Scheduled = timePtr(base.Add(time.Duration(i*10+90) * time.Minute))

		status := "scheduled"
		if !ac.OnGround {
			status = "active"
			dep.Actual = timePtr(base.Add(time.Duration(i*10-20) * time.Minute))
		}

		records = append(records, schedule.Record{
			FlightNumber: ac.Flight,
			AirlineName:  ac.Airline.Name,
			AirlineCode:  ac.Airline.IATA,
			Departure:    dep,
			Arrival:      arr,
			Status:       status,
			Aircraft:     schedule.Aircraft{Registration: ac.Registration, IATAType: "320", ICAOType: "A320"},
		})
	}

	for j, status := range []string{"cancelled", "delayed"} {
		dep := origin
		dep.Gate = fmt.Sprintf("Z%d", j+1)
		dep.Scheduled = timePtr(base.Add(time.Duration(60+j*15) * time.Minute))
		records = append(records, schedule.Record{
			FlightNumber: fmt.Sprintf("OS%d", 900+j),
			AirlineName:  "Austrian Airlines",
			AirlineCode:  "OS",
			Departure:    dep,
			Arrival:      destinations[len(destinations)-1],
			Status:       status,
		})
	}

	return records
}

// updateAircraftPosition updates a single aircraft's position using dead reckoning
func updateAircraftPosition(ac *SimulatedAircraft, deltaTime float64) {
	distanceKm := ac.SpeedKts * 1.852 * deltaTime / 3600
	ac.Lat, ac.Lon = offset(geo.Point{Lat: ac.Lat, Lon: ac.Lon}, distanceKm, ac.HeadingDeg)

	// vertical rate in feet per minute
	ac.AltitudeFt += ac.VerticalRateF * deltaTime / 60
	if ac.AltitudeFt < 0 {
		ac.AltitudeFt = 0
		ac.VerticalRateF = 0
	}
	if ac.AltitudeFt > 38000 {
		ac.AltitudeFt = 38000
		ac.VerticalRateF = 0
	}
	if ac.VerticalRateF > 0 && ac.AltitudeFt > ClimbTopFt {
		// next departure takes the climber's place
		ac.AltitudeFt = ClimbStartFt
	}
}

// turnAtBoundary puts an aircraft that crossed limitKm back on the boundary and
// heads it inward, 20 degrees off the center so it crosses on a chord.
func turnAtBoundary(ac *SimulatedAircraft, center geo.Point, limitKm float64) {
	if geo.DistanceKm(center.Lat, center.Lon, ac.Lat, ac.Lon) <= limitKm {
		return
	}
	outbound := geo.BearingDeg(center.Lat, center.Lon, ac.Lat, ac.Lon)
	ac.Lat, ac.Lon = offset(center, limitKm, outbound)
	ac.HeadingDeg = math.Mod(outbound+180+20, 360)
}

// offset moves p by distanceKm along a true bearing
func offset(p geo.Point, distanceKm, bearingDeg float64) (float64, float64) {
	rad := bearingDeg * math.Pi / 180
	lat := p.Lat + geo.KmToLatDegrees(distanceKm*math.Cos(rad))
	lon := p.Lon + geo.KmToLonDegrees(distanceKm*math.Sin(rad), p.Lat)
	return geo.ClampLat(lat), geo.ClampLon(lon)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
