package adsb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// State vector field offsets in the telemetry source's positional array
const (
	idxICAO24        = 0 // transponder address, hex string
	idxCallsign      = 1 // callsign, padded with spaces
	idxOriginCountry = 2 // country inferred from the ICAO24 address block
	// 3 is time_position, not used
	idxLastContact  = 4  // unix seconds of last message of any kind
	idxLongitude    = 5  // WGS84 degrees
	idxLatitude     = 6  // WGS84 degrees
	idxBaroAltitude = 7  // barometric altitude, meters
	idxOnGround     = 8  // true when the position came from a surface report
	idxVelocity     = 9  // ground speed, m/s
	idxTrueTrack    = 10 // degrees clockwise from north
	idxVerticalRate = 11 // m/s, positive is climbing
)

// StateField holds one positional value that may be a number, a string, a boolean or null
type StateField struct {
	value any
}

// UnmarshalJSON implements custom JSON unmarshaling for StateField.
// Unsupported shapes (arrays, objects) decode to null rather than failing the whole state.
func (f *StateField) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		f.value = nil
		return nil
	}

	var num float64
	if err := json.Unmarshal(trimmed, &num); err == nil {
		f.value = num
		return nil
	}

	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		f.value = str
		return nil
	}

	var b bool
	if err := json.Unmarshal(trimmed, &b); err == nil {
		f.value = b
		return nil
	}

	f.value = nil
	return nil
}

// IsNull reports whether the field was absent or null
func (f StateField) IsNull() bool {
	return f.value == nil
}

// Float64 returns the value as a finite float64
func (f StateField) Float64() (float64, bool) {
	var v float64
	switch x := f.value.(type) {
	case float64:
		v = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// String returns the value as a string
func (f StateField) String() (string, bool) {
	switch x := f.value.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Bool returns the value as a boolean
func (f StateField) Bool() (bool, bool) {
	switch x := f.value.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// statesPayload mirrors the JSON shape returned by the states endpoint
type statesPayload struct {
	Time   int64             `json:"time"`
	States []json.RawMessage `json:"states"`
}

// DecodeState maps a positional state array onto named fields.
// Short arrays are accepted; missing trailing fields stay nil.
func DecodeState(fields []StateField) StateVector {
	at := func(i int) StateField {
		if i < len(fields) {
			return fields[i]
		}
		return StateField{}
	}

	var sv StateVector
	if s, ok := at(idxICAO24).String(); ok {
		sv.ICAO24 = strings.TrimSpace(s)
	}
	if s, ok := at(idxCallsign).String(); ok {
		sv.Callsign = &s
	}
	if s, ok := at(idxOriginCountry).String(); ok {
		sv.OriginCountry = &s
	}
	if v, ok := at(idxLastContact).Float64(); ok {
		ts := int64(v)
		sv.LastContact = &ts
	}
	if v, ok := at(idxLongitude).Float64(); ok {
		sv.Longitude = &v
	}
	if v, ok := at(idxLatitude).Float64(); ok {
		sv.Latitude = &v
	}
	if v, ok := at(idxBaroAltitude).Float64(); ok {
		sv.BaroAltitudeM = &v
	}
	if b, ok := at(idxOnGround).Bool(); ok {
		sv.OnGround = &b
	}
	if v, ok := at(idxVelocity).Float64(); ok {
		sv.VelocityMS = &v
	}
	if v, ok := at(idxTrueTrack).Float64(); ok {
		sv.TrueTrack = &v
	}
	if v, ok := at(idxVerticalRate).Float64(); ok {
		sv.VerticalRateMS = &v
	}

	return sv
}

// DecodeStates parses a states response body. Null entries and entries that are not
// arrays are discarded and counted; a missing or null states collection yields no states.
func DecodeStates(body []byte) (*StateSnapshot, error) {
	var payload statesPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse states JSON: %w", err)
	}

	snapshot := &StateSnapshot{
		States: make([]StateVector, 0, len(payload.States)),
	}
	if payload.Time > 0 {
		snapshot.Time = time.Unix(payload.Time, 0).UTC()
	}

	for _, raw := range payload.States {
		var fields []StateField
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			snapshot.Discarded++
			continue
		}
		snapshot.States = append(snapshot.States, DecodeState(fields))
	}

	return snapshot, nil
}
