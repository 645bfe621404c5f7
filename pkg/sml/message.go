package sml

import "fmt"

// Message body tags.
const (
	TagOpenResponse    uint32 = 0x00000101
	TagCloseResponse   uint32 = 0x00000201
	TagGetListResponse uint32 = 0x00000701
)

// SML_Time choices.
type TimeKind uint8

const (
	TimeSecIndex       TimeKind = 1
	TimeTimestamp      TimeKind = 2
	TimeLocalTimestamp TimeKind = 3
)

// Message is one SML_Message: transactionId, groupNo, abortOnError,
// messageBody (tag + body), crc16, endOfSmlMsg.
type Message struct {
	TransactionID []byte
	GroupNo       uint8
	AbortOnError  uint8
	Tag           uint32
	Body          Value
	CRC           uint16
}

// Time is an SML_Time. Seconds is either a seconds index (meter uptime) or
// unix seconds, depending on Kind. Offsets are minutes.
type Time struct {
	Kind         TimeKind
	Seconds      uint32
	LocalOffset  int16
	SeasonOffset int16
}

// IsWallClock reports whether Seconds is a unix timestamp.
func (t Time) IsWallClock() bool {
	return t.Kind == TimeTimestamp || t.Kind == TimeLocalTimestamp
}

// ListEntry is one SML_ListEntry of a GetListResponse valList. Optional
// fields are nil when the meter leaves them out.
type ListEntry struct {
	ObjName        []byte
	Status         *uint64
	ValTime        *Time
	Unit           *uint8
	Scaler         *int8
	Value          Value
	ValueSignature []byte
}

// GetListResponse is the body carrying meter values.
type GetListResponse struct {
	ClientID       []byte
	ServerID       []byte
	ListName       []byte
	ActSensorTime  *Time
	ValList        []ListEntry
	ListSignature  []byte
	ActGatewayTime *Time
}

func layoutErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedStructure, fmt.Sprintf(format, args...))
}

// ToValue encodes the message. The crc16 field is computed over the encoded
// message up to the field itself.
func (m Message) ToValue() Value {
	head := []Value{
		Octets(m.TransactionID),
		Uint(1, uint64(m.GroupNo)),
		Uint(1, uint64(m.AbortOnError)),
		List(Uint(4, uint64(m.Tag)), m.Body),
	}
	// list header (0x76) followed by the first four elements
	encoded := appendTL(nil, typeList, 6, false)
	for _, v := range head {
		encoded = AppendValue(encoded, v)
	}
	crc := Checksum(encoded)
	return List(append(head, Uint(2, uint64(crc)), EndOfMessage())...)
}

// ParseMessage reads the fixed message layout out of a decoded list.
func ParseMessage(v Value) (Message, error) {
	if v.Kind != KindList || len(v.List) != 6 {
		return Message{}, layoutErr("message is %s of %d elements, want list of 6", v.Kind, len(v.List))
	}
	if v.List[5].Kind != KindEndOfMessage {
		return Message{}, layoutErr("message not terminated by end-of-message")
	}
	var m Message
	if v.List[0].Kind != KindOctetString {
		return Message{}, layoutErr("transaction id is %s", v.List[0].Kind)
	}
	m.TransactionID = v.List[0].Bytes
	group, err := optionalUint(v.List[1], "group number")
	if err != nil {
		return Message{}, err
	}
	abort, err := optionalUint(v.List[2], "abort on error")
	if err != nil {
		return Message{}, err
	}
	m.GroupNo, m.AbortOnError = uint8(group), uint8(abort)

	body := v.List[3]
	if body.Kind != KindList || len(body.List) != 2 || body.List[0].Kind != KindUint {
		return Message{}, layoutErr("message body is not list(tag, body)")
	}
	m.Tag = uint32(body.List[0].Uint)
	m.Body = body.List[1]
	if crc, ok := v.List[4].Int64(); ok {
		m.CRC = uint16(crc)
	}
	return m, nil
}

func (t Time) ToValue() Value {
	if t.Kind == TimeLocalTimestamp {
		return List(Uint(1, uint64(t.Kind)), List(
			Uint(4, uint64(t.Seconds)),
			Int(2, int64(t.LocalOffset)),
			Int(2, int64(t.SeasonOffset)),
		))
	}
	return List(Uint(1, uint64(t.Kind)), Uint(4, uint64(t.Seconds)))
}

// ParseTime returns nil for an absent time.
func ParseTime(v Value) (*Time, error) {
	if v.IsAbsent() {
		return nil, nil
	}
	if v.Kind != KindList || len(v.List) != 2 || v.List[0].Kind != KindUint {
		return nil, layoutErr("time is not list(choice, value)")
	}
	t := &Time{Kind: TimeKind(v.List[0].Uint)}
	switch t.Kind {
	case TimeSecIndex, TimeTimestamp:
		if v.List[1].Kind != KindUint {
			return nil, layoutErr("time value is %s", v.List[1].Kind)
		}
		t.Seconds = uint32(v.List[1].Uint)
	case TimeLocalTimestamp:
		local := v.List[1]
		if local.Kind != KindList || len(local.List) != 3 || local.List[0].Kind != KindUint {
			return nil, layoutErr("local timestamp is not list(timestamp, offset, season)")
		}
		t.Seconds = uint32(local.List[0].Uint)
		if off, ok := local.List[1].Int64(); ok {
			t.LocalOffset = int16(off)
		}
		if off, ok := local.List[2].Int64(); ok {
			t.SeasonOffset = int16(off)
		}
	default:
		return nil, layoutErr("unknown time choice %d", t.Kind)
	}
	return t, nil
}

func (e ListEntry) ToValue() Value {
	items := []Value{Octets(e.ObjName), Absent(), Absent(), Absent(), Absent(), e.Value, Octets(e.ValueSignature)}
	if e.Status != nil {
		items[1] = Uint(4, *e.Status)
	}
	if e.ValTime != nil {
		items[2] = e.ValTime.ToValue()
	}
	if e.Unit != nil {
		items[3] = Uint(1, uint64(*e.Unit))
	}
	if e.Scaler != nil {
		items[4] = Int(1, int64(*e.Scaler))
	}
	return List(items...)
}

func ParseListEntry(v Value) (ListEntry, error) {
	if v.Kind != KindList || len(v.List) != 7 {
		return ListEntry{}, layoutErr("list entry is %s of %d elements, want list of 7", v.Kind, len(v.List))
	}
	var e ListEntry
	if v.List[0].Kind != KindOctetString {
		return ListEntry{}, layoutErr("object name is %s", v.List[0].Kind)
	}
	e.ObjName = v.List[0].Bytes

	if f := v.List[1]; !f.IsAbsent() {
		if f.Kind != KindUint {
			return ListEntry{}, layoutErr("status is %s", f.Kind)
		}
		status := f.Uint
		e.Status = &status
	}
	t, err := ParseTime(v.List[2])
	if err != nil {
		return ListEntry{}, err
	}
	e.ValTime = t
	if f := v.List[3]; !f.IsAbsent() {
		if f.Kind != KindUint || f.Uint > 0xFF {
			return ListEntry{}, layoutErr("unit is %s", f)
		}
		unit := uint8(f.Uint)
		e.Unit = &unit
	}
	if f := v.List[4]; !f.IsAbsent() {
		if f.Kind != KindInt || f.Int < -128 || f.Int > 127 {
			return ListEntry{}, layoutErr("scaler is %s", f)
		}
		scaler := int8(f.Int)
		e.Scaler = &scaler
	}
	e.Value = v.List[5]
	if f := v.List[6]; f.Kind == KindOctetString {
		e.ValueSignature = f.Bytes
	}
	return e, nil
}

func (r GetListResponse) ToValue() Value {
	entries := make([]Value, len(r.ValList))
	for i, e := range r.ValList {
		entries[i] = e.ToValue()
	}
	sensor, gateway := Absent(), Absent()
	if r.ActSensorTime != nil {
		sensor = r.ActSensorTime.ToValue()
	}
	if r.ActGatewayTime != nil {
		gateway = r.ActGatewayTime.ToValue()
	}
	return List(
		Octets(r.ClientID),
		Octets(r.ServerID),
		Octets(r.ListName),
		sensor,
		List(entries...),
		Octets(r.ListSignature),
		gateway,
	)
}

func ParseGetListResponse(v Value) (GetListResponse, error) {
	if v.Kind != KindList || len(v.List) != 7 {
		return GetListResponse{}, layoutErr("get list response is %s of %d elements, want list of 7", v.Kind, len(v.List))
	}
	var r GetListResponse
	for i, dst := range []*[]byte{&r.ClientID, &r.ServerID, &r.ListName} {
		if v.List[i].Kind != KindOctetString {
			return GetListResponse{}, layoutErr("get list response field %d is %s", i, v.List[i].Kind)
		}
		*dst = v.List[i].Bytes
	}
	var err error
	if r.ActSensorTime, err = ParseTime(v.List[3]); err != nil {
		return GetListResponse{}, err
	}
	vals := v.List[4]
	if vals.Kind != KindList {
		return GetListResponse{}, layoutErr("value list is %s", vals.Kind)
	}
	r.ValList = make([]ListEntry, 0, len(vals.List))
	for _, item := range vals.List {
		entry, err := ParseListEntry(item)
		if err != nil {
			return GetListResponse{}, err
		}
		r.ValList = append(r.ValList, entry)
	}
	if v.List[5].Kind == KindOctetString {
		r.ListSignature = v.List[5].Bytes
	}
	if r.ActGatewayTime, err = ParseTime(v.List[6]); err != nil {
		return GetListResponse{}, err
	}
	return r, nil
}

// OpenResponse and CloseResponse bodies, as sent around a GetListResponse.
func OpenResponseBody(serverID []byte) Value {
	return List(Absent(), Absent(), Octets([]byte{0x00, 0x01}), Octets(serverID), Absent(), Absent())
}

func CloseResponseBody() Value {
	return List(Absent())
}

func optionalUint(v Value, name string) (uint64, error) {
	if v.IsAbsent() {
		return 0, nil
	}
	if v.Kind != KindUint {
		return 0, layoutErr("%s is %s", name, v.Kind)
	}
	return v.Uint, nil
}
