package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/esmutils"
	"github.com/NotCoffee418/sml_power_meter/pkg/obis"
)

type TimeSource string

const (
	TimeSourceMeter     TimeSource = "meter"
	TimeSourceIngestion TimeSource = "ingestion"
)

// Quantity is a scaled meter value in its physical unit.
type Quantity struct {
	Value float64   `json:"value"`
	Unit  obis.Unit `json:"unit"`
}

func (q Quantity) String() string {
	return fmt.Sprintf("%g %s", q.Value, q.Unit)
}

type MeterReading struct {
	CapturedAt time.Time  `json:"captured_at"`
	TimeSource TimeSource `json:"time_source"`

	// Seconds index of the meter clock, when the meter sends one. It counts
	// from an arbitrary meter epoch and is not wall clock time.
	MeterSeconds *uint32 `json:"meter_seconds,omitempty"`
	ServerID     string  `json:"server_id,omitempty"`

	// Cumulative active energy (1-0:1.8.0)
	TotalEnergy Quantity `json:"total_energy"`

	// Active power per phase (1-0:36.7.0, 1-0:56.7.0, 1-0:76.7.0)
	Lines [3]Quantity `json:"lines"`
}

func (r *MeterReading) ToJsonBytes() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

// MeterReadingFromJsonBytes returns nil when data is not a reading.
func MeterReadingFromJsonBytes(data []byte) *MeterReading {
	var r MeterReading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil
	}
	if r.CapturedAt.IsZero() {
		return nil
	}
	return &r
}

// DisplayCompact renders the reading on one line for verbose logging.
func (r *MeterReading) DisplayCompact() string {
	meterSeconds := "Unknown"
	if r.MeterSeconds != nil {
		meterSeconds = fmt.Sprintf("%ds", *r.MeterSeconds)
	}
	return fmt.Sprintf("%s (%s), %s, %s, %s, %s, %s",
		r.CapturedAt.Format(time.RFC3339), r.TimeSource, meterSeconds,
		r.TotalEnergy, r.Lines[0], r.Lines[1], r.Lines[2])
}

func (r *MeterReading) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meter Reading: %s", r.TotalEnergy)
	if r.TotalEnergy.Unit == obis.UnitWattHour {
		fmt.Fprintf(&b, " (%g kWh)", esmutils.WhToKwh(r.TotalEnergy.Value))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Captured At: %s (%s)\n", r.CapturedAt.Format(time.RFC3339), r.TimeSource)
	if r.MeterSeconds != nil {
		fmt.Fprintf(&b, "Meter Time: %d\n", *r.MeterSeconds)
	} else {
		b.WriteString("Meter Time: Unknown\n")
	}
	fmt.Fprintf(&b, "Line One: %s\n", r.Lines[0])
	fmt.Fprintf(&b, "Line Two: %s\n", r.Lines[1])
	fmt.Fprintf(&b, "Line Three: %s\n", r.Lines[2])
	return b.String()
}
