package sml

import "bytes"

// AppendValue appends the TLV encoding of v to dst. Int and Uint values with
// a zero Size are written with 8 bytes.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Kind {
	case KindEndOfMessage:
		return append(dst, endOfMessage)
	case KindList:
		dst = appendTL(dst, typeList, len(v.List), false)
		for _, item := range v.List {
			dst = AppendValue(dst, item)
		}
		return dst
	case KindBool:
		dst = appendTL(dst, typeBool, 1, true)
		if v.Bool {
			return append(dst, 0x01)
		}
		return append(dst, 0x00)
	case KindInt:
		size := intSize(v.Size)
		dst = appendTL(dst, typeInt, size, true)
		return appendBigEndian(dst, uint64(v.Int), size)
	case KindUint:
		size := intSize(v.Size)
		dst = appendTL(dst, typeUint, size, true)
		return appendBigEndian(dst, v.Uint, size)
	default:
		dst = appendTL(dst, typeOctetString, len(v.Bytes), true)
		return append(dst, v.Bytes...)
	}
}

// EncodeMessages encodes each value in order, producing a frame payload.
func EncodeMessages(msgs ...Value) []byte {
	var out []byte
	for _, m := range msgs {
		out = AppendValue(out, m)
	}
	return out
}

// EncodeFrame wraps payload in a transport frame: padding, escaping, end
// sequence and checksum.
func EncodeFrame(payload []byte) RawFrame {
	padding := (wordSize - len(payload)%wordSize) % wordSize
	padded := make([]byte, len(payload), len(payload)+padding)
	copy(padded, payload)
	for i := 0; i < padding; i++ {
		padded = append(padded, paddingByte)
	}

	out := make([]byte, 0, len(padded)+startSeqLen+endSeqLen+wordSize)
	out = append(out, escapeWord[:]...)
	out = append(out, startWord[:]...)
	for i := 0; i < len(padded); i += wordSize {
		word := padded[i : i+wordSize]
		if bytes.Equal(word, escapeWord[:]) {
			out = append(out, escapeWord[:]...)
		}
		out = append(out, word...)
	}
	out = append(out, escapeWord[:]...)
	out = append(out, endByte, byte(padding))
	crc := Checksum(out)
	out = append(out, byte(crc), byte(crc>>8))
	return RawFrame(out)
}

func intSize(size int) int {
	if size <= 0 || size > maxIntSize {
		return maxIntSize
	}
	return size
}

func appendBigEndian(dst []byte, v uint64, size int) []byte {
	for i := size - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}

// appendTL writes a type-length field. For scalars the length includes the
// TL bytes themselves.
func appendTL(dst []byte, typ byte, n int, scalar bool) []byte {
	tlBytes := 1
	for {
		length := n
		if scalar {
			length += tlBytes
		}
		if length < 1<<(4*tlBytes) {
			n = length
			break
		}
		tlBytes++
	}
	for i := tlBytes - 1; i >= 0; i-- {
		b := byte(n>>(4*uint(i))) & tlLengthMask
		if i == tlBytes-1 {
			b |= typ
		}
		if i > 0 {
			b |= tlMoreFlag
		}
		dst = append(dst, b)
	}
	return dst
}
