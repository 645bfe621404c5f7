package sml

import "fmt"

// Decoder parses the TLV content of validated frames.
type Decoder struct {
	// MaxDepth bounds list nesting. Zero means DefaultMaxDepth.
	MaxDepth int
}

// Decode parses a frame with the default limits.
func Decode(frame ValidatedFrame) (Value, error) {
	return Decoder{}.Decode(frame)
}

// Decode returns a list holding every top-level SML message of the frame in
// wire order.
func (d Decoder) Decode(frame ValidatedFrame) (Value, error) {
	maxDepth := d.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	p := &parser{buf: frame.Payload, maxDepth: maxDepth}
	if len(p.buf) == 0 {
		return Value{}, p.fail(0, "empty payload")
	}

	root := Value{Kind: KindList}
	for p.pos < len(p.buf) {
		start := p.pos
		msg, err := p.value(1)
		if err != nil {
			return Value{}, err
		}
		if msg.Kind != KindList {
			p.pos = start
			return Value{}, p.fail(1, fmt.Sprintf("top-level %s, expected list", msg.Kind))
		}
		root.List = append(root.List, msg)
	}
	return root, nil
}

type parser struct {
	buf      []byte
	pos      int
	maxDepth int
}

func (p *parser) fail(depth int, reason string) error {
	return &MalformedError{Offset: p.pos, Depth: depth, Reason: reason}
}

func (p *parser) value(depth int) (Value, error) {
	if depth > p.maxDepth {
		return Value{}, p.fail(depth, fmt.Sprintf("nesting deeper than %d", p.maxDepth))
	}
	if p.pos >= len(p.buf) {
		return Value{}, p.fail(depth, "unexpected end of payload")
	}

	tl := p.buf[p.pos]
	if tl == endOfMessage {
		p.pos++
		return EndOfMessage(), nil
	}

	typ := tl & tlTypeMask
	length := int(tl & tlLengthMask)
	tlBytes := 1
	for tl&tlMoreFlag != 0 {
		if tlBytes == maxTLBytes {
			return Value{}, p.fail(depth, "too many length continuation bytes")
		}
		if p.pos+tlBytes >= len(p.buf) {
			return Value{}, p.fail(depth, "truncated type-length field")
		}
		tl = p.buf[p.pos+tlBytes]
		if tl&tlTypeMask != typeOctetString {
			return Value{}, p.fail(depth, fmt.Sprintf("invalid continuation byte 0x%02X", tl))
		}
		length = length<<4 | int(tl&tlLengthMask)
		tlBytes++
	}

	if typ == typeList {
		p.pos += tlBytes
		// every element takes at least one byte
		if length > len(p.buf)-p.pos {
			return Value{}, p.fail(depth, fmt.Sprintf("list of %d elements exceeds %d remaining bytes", length, len(p.buf)-p.pos))
		}
		items := make([]Value, 0, length)
		for i := 0; i < length; i++ {
			item, err := p.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return List(items...), nil
	}

	if length < tlBytes {
		return Value{}, p.fail(depth, fmt.Sprintf("length %d shorter than its %d byte header", length, tlBytes))
	}
	size := length - tlBytes
	if size > len(p.buf)-p.pos-tlBytes {
		return Value{}, p.fail(depth, fmt.Sprintf("value of %d bytes exceeds %d remaining bytes", size, len(p.buf)-p.pos-tlBytes))
	}
	data := p.buf[p.pos+tlBytes : p.pos+tlBytes+size]

	var v Value
	switch typ {
	case typeOctetString:
		v = Octets(append([]byte(nil), data...))
	case typeBool:
		if size != 1 {
			return Value{}, p.fail(depth, fmt.Sprintf("boolean of %d bytes", size))
		}
		v = Bool(data[0] != 0)
	case typeInt, typeUint:
		if size < 1 || size > maxIntSize {
			return Value{}, p.fail(depth, fmt.Sprintf("integer of %d bytes", size))
		}
		var u uint64
		for _, b := range data {
			u = u<<8 | uint64(b)
		}
		if typ == typeUint {
			v = Uint(size, u)
		} else {
			shift := uint(64 - 8*size)
			v = Int(size, int64(u<<shift)>>shift)
		}
	default:
		return Value{}, p.fail(depth, fmt.Sprintf("reserved type 0x%02X", typ))
	}
	p.pos += tlBytes + size
	return v, nil
}
