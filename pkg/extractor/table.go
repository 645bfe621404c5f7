package extractor

import (
	"github.com/NotCoffee418/sml_power_meter/pkg/obis"
	"github.com/NotCoffee418/sml_power_meter/pkg/sml"
)

// Field names a slot of types.MeterReading.
type Field int

const (
	FieldTotalEnergy Field = iota
	FieldLineOne
	FieldLineTwo
	FieldLineThree
)

func (f Field) String() string {
	switch f {
	case FieldTotalEnergy:
		return "total_energy"
	case FieldLineOne:
		return "line_one"
	case FieldLineTwo:
		return "line_two"
	case FieldLineThree:
		return "line_three"
	default:
		return "unknown"
	}
}

// ScaleLocation says where the decimal exponent for a raw value is found.
type ScaleLocation int

const (
	// ScaleFromEntry uses the scaler field of the same list entry.
	ScaleFromEntry ScaleLocation = iota
	// ScaleNone takes the raw value as is.
	ScaleNone
)

// FieldSpec maps one OBIS code onto a reading field.
type FieldSpec struct {
	Code  obis.ObisCode
	Field Field
	Kinds []sml.Kind
	Scale ScaleLocation
	// Unit is assumed when the entry carries none.
	Unit obis.Unit
}

func (s FieldSpec) accepts(k sml.Kind) bool {
	for _, kind := range s.Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

var (
	ObisTotalEnergy = obis.MustParse("1-0:1.8.0")
	ObisLineOne     = obis.MustParse("1-0:36.7.0")
	ObisLineTwo     = obis.MustParse("1-0:56.7.0")
	ObisLineThree   = obis.MustParse("1-0:76.7.0")
)

var integerKinds = []sml.Kind{sml.KindUint, sml.KindInt}

// DefaultTable is the fixed set of fields every reading must carry.
var DefaultTable = []FieldSpec{
	{Code: ObisTotalEnergy, Field: FieldTotalEnergy, Kinds: integerKinds, Scale: ScaleFromEntry, Unit: obis.UnitWattHour},
	{Code: ObisLineOne, Field: FieldLineOne, Kinds: integerKinds, Scale: ScaleFromEntry, Unit: obis.UnitWatt},
	{Code: ObisLineTwo, Field: FieldLineTwo, Kinds: integerKinds, Scale: ScaleFromEntry, Unit: obis.UnitWatt},
	{Code: ObisLineThree, Field: FieldLineThree, Kinds: integerKinds, Scale: ScaleFromEntry, Unit: obis.UnitWatt},
}
