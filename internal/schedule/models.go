package schedule

import (
	"strings"
	"time"
)

// Record is one timetable entry from the schedule feed. FlightNumber is the primary
// identity and Aircraft.Registration the secondary one; neither is reliable.
type Record struct {
	FlightNumber string   `json:"flight_number"`
	AirlineName  string   `json:"airline_name"`
	AirlineCode  string   `json:"airline_code"`
	Departure    Endpoint `json:"departure"`
	Arrival      Endpoint `json:"arrival"`
	Status       string   `json:"status"` // free-form, as reported by the feed
	Aircraft     Aircraft `json:"aircraft"`
	Placeholder  bool     `json:"placeholder,omitempty"`
}

// Endpoint describes one end of a flight
type Endpoint struct {
	Airport   string     `json:"airport"`
	IATA      string     `json:"iata"`
	ICAO      string     `json:"icao"`
	Scheduled *time.Time `json:"scheduled,omitempty"`
	Estimated *time.Time `json:"estimated,omitempty"`
	Actual    *time.Time `json:"actual,omitempty"`
	Terminal  string     `json:"terminal"`
	Gate      string     `json:"gate"`
}

// Aircraft identifies the airframe operating a flight
type Aircraft struct {
	Registration string `json:"registration"`
	IATAType     string `json:"iata_type"`
	ICAOType     string `json:"icao_type"`
}

// Wire format of the schedule feed

type flightsResponse struct {
	Data  []apiFlight `json:"data"`
	Error *apiError   `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiFlight struct {
	FlightDate   string       `json:"flight_date"`
	FlightStatus string       `json:"flight_status"`
	Departure    apiEndpoint  `json:"departure"`
	Arrival      apiEndpoint  `json:"arrival"`
	Airline      apiAirline   `json:"airline"`
	Flight       apiFlightID  `json:"flight"`
	Aircraft     *apiAircraft `json:"aircraft"`
}

type apiEndpoint struct {
	Airport   string  `json:"airport"`
	IATA      string  `json:"iata"`
	ICAO      string  `json:"icao"`
	Terminal  *string `json:"terminal"`
	Gate      *string `json:"gate"`
	Delay     *int    `json:"delay"`
	Scheduled string  `json:"scheduled"`
	Estimated string  `json:"estimated"`
	Actual    string  `json:"actual"`
}

type apiAirline struct {
	Name string `json:"name"`
	IATA string `json:"iata"`
	ICAO string `json:"icao"`
}

type apiFlightID struct {
	Number string `json:"number"`
	IATA   string `json:"iata"`
	ICAO   string `json:"icao"`
}

type apiAircraft struct {
	Registration string `json:"registration"`
	IATA         string `json:"iata"`
	ICAO         string `json:"icao"`
}

// toRecord converts a wire flight into a Record. Returns false when the flight has
// no usable flight number.
func (f apiFlight) toRecord() (Record, bool) {
	number := strings.ToUpper(strings.TrimSpace(f.Flight.IATA))
	if number == "" {
		number = strings.ToUpper(strings.TrimSpace(f.Flight.ICAO))
	}
	if number == "" && f.Flight.Number != "" {
		number = strings.ToUpper(strings.TrimSpace(f.Airline.IATA + f.Flight.Number))
	}
	if number == "" {
		return Record{}, false
	}

	rec := Record{
		FlightNumber: number,
		AirlineName:  f.Airline.Name,
		AirlineCode:  f.Airline.IATA,
		Departure:    f.Departure.toEndpoint(),
		Arrival:      f.Arrival.toEndpoint(),
		Status:       f.FlightStatus,
	}
	if rec.AirlineCode == "" {
		rec.AirlineCode = f.Airline.ICAO
	}
	if f.Aircraft != nil {
		rec.Aircraft = Aircraft{
			Registration: strings.ToUpper(strings.TrimSpace(f.Aircraft.Registration)),
			IATAType:     f.Aircraft.IATA,
			ICAOType:     f.Aircraft.ICAO,
		}
	}
	return rec, true
}

func (e apiEndpoint) toEndpoint() Endpoint {
	ep := Endpoint{
		Airport:   e.Airport,
		IATA:      e.IATA,
		ICAO:      e.ICAO,
		Scheduled: parseTime(e.Scheduled),
		Estimated: parseTime(e.Estimated),
		Actual:    parseTime(e.Actual),
	}
	if e.Terminal != nil {
		ep.Terminal = *e.Terminal
	}
	if e.Gate != nil {
		ep.Gate = *e.Gate
	}
	return ep
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTime returns nil for empty or unparseable timestamps
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
