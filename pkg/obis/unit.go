package obis

import "encoding/json"

// Unit is a DLMS/COSEM unit code. Only the units power meters send are named.
type Unit uint8

const (
	UnitNone     Unit = 0
	UnitDegree   Unit = 8
	UnitWatt     Unit = 27
	UnitWattHour Unit = 30
	UnitAmpere   Unit = 33
	UnitVolt     Unit = 35
	UnitHertz    Unit = 44
)

var unitSymbols = map[Unit]string{
	UnitDegree:   "°",
	UnitWatt:     "W",
	UnitWattHour: "Wh",
	UnitAmpere:   "A",
	UnitVolt:     "V",
	UnitHertz:    "Hz",
}

// Known reports whether u is one of the supported units.
func (u Unit) Known() bool {
	_, ok := unitSymbols[u]
	return ok
}

func (u Unit) String() string {
	if s, ok := unitSymbols[u]; ok {
		return s
	}
	return "Unknown"
}

func (u Unit) MarshalJSON() ([]byte, error) {
	if !u.Known() {
		return []byte("null"), nil
	}
	return json.Marshal(u.String())
}

func (u *Unit) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*u = UnitNone
	if s == nil {
		return nil
	}
	for code, sym := range unitSymbols {
		if sym == *s {
			*u = code
			return nil
		}
	}
	return nil
}
