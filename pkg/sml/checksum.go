package sml

import (
	"bytes"
	"fmt"

	"github.com/sigurn/crc16"
)

// SML uses CRC16/X-25, transmitted low byte first.
var crcTable = crc16.MakeTable(crc16.CRC16_X_25)

// ValidatedFrame is the unescaped message content of a frame whose checksum matched.
type ValidatedFrame struct {
	Payload  []byte
	Padding  int
	Checksum uint16
}

// Checksum computes the transport checksum of b.
func Checksum(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

// Validate checks the envelope and checksum of raw and resolves escape
// sequences. No part of the payload is interpreted before the checksum matches.
func Validate(raw RawFrame) (ValidatedFrame, error) {
	corrupt := func(format string, args ...any) error {
		return &CorruptFrameError{Raw: raw, Reason: fmt.Sprintf(format, args...)}
	}

	n := len(raw)
	if n < startSeqLen+endSeqLen || n%wordSize != 0 {
		return ValidatedFrame{}, corrupt("invalid length %d", n)
	}
	if !bytes.Equal(raw[:wordSize], escapeWord[:]) || !bytes.Equal(raw[wordSize:startSeqLen], startWord[:]) {
		return ValidatedFrame{}, corrupt("missing start sequence")
	}
	end := raw[n-endSeqLen:]
	if !bytes.Equal(end[:wordSize], escapeWord[:]) || end[wordSize] != endByte {
		return ValidatedFrame{}, corrupt("missing end sequence")
	}

	transmitted := uint16(raw[n-2]) | uint16(raw[n-1])<<8
	computed := Checksum(raw[:n-checksumLen])
	if transmitted != computed {
		return ValidatedFrame{}, &CorruptFrameError{Raw: raw, Transmitted: transmitted, Computed: computed}
	}

	body := raw[startSeqLen : n-endSeqLen]
	payload := make([]byte, 0, len(body))
	for i := 0; i < len(body); i += wordSize {
		word := body[i : i+wordSize]
		if bytes.Equal(word, escapeWord[:]) {
			if i+2*wordSize > len(body) || !bytes.Equal(body[i+wordSize:i+2*wordSize], escapeWord[:]) {
				return ValidatedFrame{}, corrupt("unpaired escape sequence at offset %d", startSeqLen+i)
			}
			i += wordSize
		}
		payload = append(payload, word...)
	}

	padding := int(end[wordSize+1])
	if padding > maxPadding || padding > len(payload) {
		return ValidatedFrame{}, corrupt("invalid padding count %d", padding)
	}
	for _, b := range payload[len(payload)-padding:] {
		if b != paddingByte {
			return ValidatedFrame{}, corrupt("non-zero padding byte")
		}
	}

	return ValidatedFrame{
		Payload:  payload[:len(payload)-padding],
		Padding:  padding,
		Checksum: computed,
	}, nil
}
