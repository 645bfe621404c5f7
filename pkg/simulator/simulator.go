// Package simulator produces SML frames shaped like the ones a three phase
// household meter sends, for bench testing without hardware.
package simulator

import (
	"math/rand"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/obis"
	"github.com/NotCoffee418/sml_power_meter/pkg/sml"
)

var (
	obisManufacturer = obis.MustParse("129-129:199.130.3")
	obisDeviceID     = obis.MustParse("1-0:0.0.9")
	obisTotalEnergy  = obis.MustParse("1-0:1.8.0")
	obisTotalPower   = obis.MustParse("1-0:16.7.0")
	obisLines        = [3]obis.ObisCode{
		obis.MustParse("1-0:36.7.0"),
		obis.MustParse("1-0:56.7.0"),
		obis.MustParse("1-0:76.7.0"),
	}
)

// Sample is one meter transmission before encoding.
type Sample struct {
	ServerID     []byte
	EnergyRaw    uint64
	EnergyScaler int8
	LinesRaw     [3]int32
	LineScaler   int8
	SecIndex     uint32
	// Timestamp, when set, is sent as the wall clock valTime of the energy entry.
	Timestamp *time.Time
	// OmitLines drops the per-phase entries, as a single phase meter would.
	OmitLines bool
}

func u8(v uint8) *uint8 { return &v }
func i8(v int8) *int8   { return &v }

// Messages returns the open, get list and close messages of the sample.
func (s Sample) Messages() []sml.Value {
	sensorTime := &sml.Time{Kind: sml.TimeSecIndex, Seconds: s.SecIndex}

	energy := sml.ListEntry{
		ObjName: obisTotalEnergy.Octets(),
		Unit:    u8(uint8(obis.UnitWattHour)),
		Scaler:  i8(s.EnergyScaler),
		Value:   sml.Uint(8, s.EnergyRaw),
	}
	if s.Timestamp != nil {
		energy.ValTime = &sml.Time{Kind: sml.TimeTimestamp, Seconds: uint32(s.Timestamp.Unix())}
	}

	entries := []sml.ListEntry{
		{ObjName: obisManufacturer.Octets(), Value: sml.Octets([]byte("SIM"))},
		{ObjName: obisDeviceID.Octets(), Value: sml.Octets(s.ServerID)},
		energy,
	}
	var total int64
	for _, p := range s.LinesRaw {
		total += int64(p)
	}
	entries = append(entries, sml.ListEntry{
		ObjName: obisTotalPower.Octets(),
		Unit:    u8(uint8(obis.UnitWatt)),
		Scaler:  i8(s.LineScaler),
		Value:   sml.Int(4, total),
	})
	if !s.OmitLines {
		for i, code := range obisLines {
			entries = append(entries, sml.ListEntry{
				ObjName: code.Octets(),
				Unit:    u8(uint8(obis.UnitWatt)),
				Scaler:  i8(s.LineScaler),
				Value:   sml.Int(4, int64(s.LinesRaw[i])),
			})
		}
	}

	list := sml.GetListResponse{
		ServerID:      s.ServerID,
		ActSensorTime: sensorTime,
		ValList:       entries,
	}
	return []sml.Value{
		sml.Message{TransactionID: []byte{0x00, 0x01}, Tag: sml.TagOpenResponse, Body: sml.OpenResponseBody(s.ServerID)}.ToValue(),
		sml.Message{TransactionID: []byte{0x00, 0x02}, Tag: sml.TagGetListResponse, Body: list.ToValue()}.ToValue(),
		sml.Message{TransactionID: []byte{0x00, 0x03}, Tag: sml.TagCloseResponse, Body: sml.CloseResponseBody()}.ToValue(),
	}
}

func (s Sample) Payload() []byte {
	return sml.EncodeMessages(s.Messages()...)
}

func (s Sample) Frame() sml.RawFrame {
	return sml.EncodeFrame(s.Payload())
}

// Generator emits a plausible series of samples, one per interval.
type Generator struct {
	rng      *rand.Rand
	interval time.Duration
	sample   Sample
	residual float64
}

func NewGenerator(seed int64, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		interval: interval,
		sample: Sample{
			ServerID:     []byte{0x0A, 0x01, 0x53, 0x49, 0x4D, 0x00, 0x00, 0x00, 0x00, 0x01},
			EnergyRaw:    123456789,
			EnergyScaler: -1,
			LineScaler:   0,
		},
	}
}

// Next advances the meter by one interval.
func (g *Generator) Next() Sample {
	var total int32
	for i := range g.sample.LinesRaw {
		p := 100 + g.rng.Int31n(900)
		g.sample.LinesRaw[i] = p
		total += p
	}
	// energy register counts tenths of Wh
	g.residual += float64(total) * g.interval.Hours() * 10
	whole := uint64(g.residual)
	g.sample.EnergyRaw += whole
	g.residual -= float64(whole)
	g.sample.SecIndex += uint32(g.interval / time.Second)
	return g.sample
}
