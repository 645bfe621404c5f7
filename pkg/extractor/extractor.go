// Package extractor turns a decoded SML tree into a MeterReading.
package extractor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/esmutils"
	"github.com/NotCoffee418/sml_power_meter/pkg/obis"
	"github.com/NotCoffee418/sml_power_meter/pkg/sml"
	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/sirupsen/logrus"
)

var ErrIncompleteReading = errors.New("extractor: incomplete reading")

// IncompleteError lists the required fields a frame did not resolve.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("extractor: incomplete reading, missing %s", strings.Join(e.Missing, ", "))
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncompleteReading
}

// TimestampPolicy decides where CapturedAt comes from.
type TimestampPolicy string

const (
	// TimestampMeterOrIngestion prefers a wall clock time sent by the meter.
	TimestampMeterOrIngestion TimestampPolicy = "meter_or_ingestion"
	// TimestampIngestion always stamps readings with the local clock.
	TimestampIngestion TimestampPolicy = "ingestion"
	// TimestampMeter requires the meter to send a wall clock time.
	TimestampMeter TimestampPolicy = "meter"
)

func ParseTimestampPolicy(s string) (TimestampPolicy, error) {
	switch p := TimestampPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return TimestampMeterOrIngestion, nil
	case TimestampMeterOrIngestion, TimestampIngestion, TimestampMeter:
		return p, nil
	default:
		return "", fmt.Errorf("unknown timestamp source %q", s)
	}
}

type Extractor struct {
	table  map[obis.ObisCode]FieldSpec
	fields []Field
	policy TimestampPolicy
	now    func() time.Time
	log    *logrus.Entry
}

type Option func(*Extractor)

// WithTable replaces DefaultTable. Every field in the table is required.
func WithTable(specs []FieldSpec) Option {
	return func(x *Extractor) {
		x.setTable(specs)
	}
}

func WithTimestampPolicy(p TimestampPolicy) Option {
	return func(x *Extractor) {
		x.policy = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(x *Extractor) {
		x.now = now
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(x *Extractor) {
		x.log = log
	}
}

func New(opts ...Option) *Extractor {
	x := &Extractor{
		policy: TimestampMeterOrIngestion,
		now:    time.Now,
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	x.setTable(DefaultTable)
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Extractor) setTable(specs []FieldSpec) {
	x.table = make(map[obis.ObisCode]FieldSpec, len(specs))
	x.fields = x.fields[:0]
	for _, s := range specs {
		x.table[s.Code] = s
		x.fields = append(x.fields, s.Field)
	}
}

// frameState collects what one frame resolved across all its messages.
type frameState struct {
	values     map[Field]types.Quantity
	serverID   []byte
	wallClock  *sml.Time
	secIndex   *uint32
	entryClock bool
}

func (st *frameState) noteTime(t *sml.Time, fromEntry bool) {
	if t == nil {
		return
	}
	if t.IsWallClock() {
		// the energy entry's own time wins over list level times
		if st.wallClock == nil || (fromEntry && !st.entryClock) {
			st.wallClock = t
			st.entryClock = fromEntry
		}
		return
	}
	if st.secIndex == nil || fromEntry {
		secs := t.Seconds
		st.secIndex = &secs
	}
}

// Extract maps the messages of one decoded frame onto a reading. It fails with
// ErrIncompleteReading unless every table field and the timestamp resolved.
func (x *Extractor) Extract(root sml.Value) (types.MeterReading, error) {
	if root.Kind != sml.KindList {
		return types.MeterReading{}, fmt.Errorf("%w: root is %s", sml.ErrMalformedStructure, root.Kind)
	}
	ingestedAt := x.now()
	st := &frameState{values: make(map[Field]types.Quantity, len(x.fields))}

	for _, item := range root.List {
		msg, err := sml.ParseMessage(item)
		if err != nil {
			return types.MeterReading{}, err
		}
		if msg.Tag != sml.TagGetListResponse {
			continue
		}
		resp, err := sml.ParseGetListResponse(msg.Body)
		if err != nil {
			return types.MeterReading{}, err
		}
		if len(resp.ServerID) > 0 {
			st.serverID = resp.ServerID
		}
		st.noteTime(resp.ActSensorTime, false)
		st.noteTime(resp.ActGatewayTime, false)

		for _, entry := range resp.ValList {
			x.applyEntry(st, entry)
		}
	}

	reading := types.MeterReading{
		MeterSeconds: st.secIndex,
		ServerID:     hex.EncodeToString(st.serverID),
	}

	var missing []string
	for _, f := range x.fields {
		q, ok := st.values[f]
		if !ok {
			missing = append(missing, f.String())
			continue
		}
		switch f {
		case FieldTotalEnergy:
			reading.TotalEnergy = q
		case FieldLineOne:
			reading.Lines[0] = q
		case FieldLineTwo:
			reading.Lines[1] = q
		case FieldLineThree:
			reading.Lines[2] = q
		}
	}

	switch {
	case x.policy != TimestampIngestion && st.wallClock != nil:
		reading.CapturedAt = wallClockTime(st.wallClock)
		reading.TimeSource = types.TimeSourceMeter
	case x.policy == TimestampMeter:
		missing = append(missing, "timestamp")
	default:
		reading.CapturedAt = ingestedAt
		reading.TimeSource = types.TimeSourceIngestion
	}

	if len(missing) > 0 {
		return types.MeterReading{}, &IncompleteError{Missing: missing}
	}
	return reading, nil
}

// ObjectEntry is a list entry whose object name parsed as an OBIS code.
type ObjectEntry struct {
	Code    obis.ObisCode
	Value   sml.Value
	Unit    *uint8
	Scaler  *int8
	ValTime *sml.Time
}

func NewObjectEntry(e sml.ListEntry) (ObjectEntry, error) {
	code, err := obis.FromOctets(e.ObjName)
	if err != nil {
		return ObjectEntry{}, err
	}
	return ObjectEntry{
		Code:    code,
		Value:   e.Value,
		Unit:    e.Unit,
		Scaler:  e.Scaler,
		ValTime: e.ValTime,
	}, nil
}

func (x *Extractor) applyEntry(st *frameState, le sml.ListEntry) {
	entry, err := NewObjectEntry(le)
	if err != nil {
		x.log.WithField("obj_name", hex.EncodeToString(le.ObjName)).Debug("skipping entry with invalid object name")
		return
	}
	spec, ok := x.table[entry.Code]
	if !ok {
		return
	}
	if !spec.accepts(entry.Value.Kind) {
		x.log.WithFields(logrus.Fields{
			"obis":  entry.Code.String(),
			"value": entry.Value.String(),
		}).Debug("skipping entry with unexpected value type")
		return
	}
	raw, _ := entry.Value.Float64()

	value := raw
	if spec.Scale == ScaleFromEntry && entry.Scaler != nil {
		value = esmutils.ApplyScaler(raw, *entry.Scaler)
	}
	unit := spec.Unit
	if entry.Unit != nil && obis.Unit(*entry.Unit).Known() {
		unit = obis.Unit(*entry.Unit)
	}
	st.values[spec.Field] = types.Quantity{Value: value, Unit: unit}

	if spec.Field == FieldTotalEnergy {
		st.noteTime(entry.ValTime, true)
	}
}

func wallClockTime(t *sml.Time) time.Time {
	ts := time.Unix(int64(t.Seconds), 0)
	if t.Kind == sml.TimeLocalTimestamp {
		return ts.In(time.FixedZone("", (int(t.LocalOffset)+int(t.SeasonOffset))*60))
	}
	return ts.UTC()
}
