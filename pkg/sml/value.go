package sml

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// Kind selects which field of a Value is meaningful.
type Kind uint8

const (
	KindOctetString Kind = iota
	KindBool
	KindInt
	KindUint
	KindList
	KindEndOfMessage
)

func (k Kind) String() string {
	switch k {
	case KindOctetString:
		return "octet-string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindList:
		return "list"
	case KindEndOfMessage:
		return "end-of-message"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one node of a decoded SML tree.
type Value struct {
	Kind Kind
	// Size is the encoded width in bytes of Int and Uint values.
	Size  int
	Int   int64
	Uint  uint64
	Bool  bool
	Bytes []byte
	List  []Value
}

func Int(size int, v int64) Value   { return Value{Kind: KindInt, Size: size, Int: v} }
func Uint(size int, v uint64) Value { return Value{Kind: KindUint, Size: size, Uint: v} }
func Bool(v bool) Value             { return Value{Kind: KindBool, Bool: v} }
func Octets(b []byte) Value         { return Value{Kind: KindOctetString, Bytes: b} }
func List(items ...Value) Value     { return Value{Kind: KindList, List: items} }
func Absent() Value                 { return Value{Kind: KindOctetString} }
func EndOfMessage() Value           { return Value{Kind: KindEndOfMessage} }

// IsAbsent reports whether v is the empty octet string SML uses for "not set".
func (v Value) IsAbsent() bool {
	return v.Kind == KindOctetString && len(v.Bytes) == 0
}

// Int64 returns an integer value widened to int64. Unsigned values above
// math.MaxInt64 do not fit.
func (v Value) Int64() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindUint:
		if v.Uint > math.MaxInt64 {
			return 0, false
		}
		return int64(v.Uint), true
	default:
		return 0, false
	}
}

// Float64 returns an integer value as float64.
func (v Value) Float64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindUint:
		return float64(v.Uint), true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindOctetString:
		if v.IsAbsent() {
			return "<absent>"
		}
		return hex.EncodeToString(v.Bytes)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("i%d(%d)", v.Size*8, v.Int)
	case KindUint:
		return fmt.Sprintf("u%d(%d)", v.Size*8, v.Uint)
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case KindEndOfMessage:
		return "<eom>"
	default:
		return v.Kind.String()
	}
}
