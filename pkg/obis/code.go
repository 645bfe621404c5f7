// Package obis holds the OBIS object identifiers and DLMS/COSEM units
// that SML meters use to label their values.
package obis

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidLength = errors.New("obis: octet string must be 6 bytes")
	ErrInvalidFormat = errors.New("obis: expected A-B:C.D.E")
)

// ObisCode identifies a physical quantity, e.g. 1-0:1.8.0 for total active energy.
// The sixth octet (F, usually 255) is not significant and is not stored.
type ObisCode [5]byte

// FromOctets reads a code from the 6-byte objName of an SML list entry.
func FromOctets(b []byte) (ObisCode, error) {
	if len(b) != 6 {
		return ObisCode{}, fmt.Errorf("%w: got %d", ErrInvalidLength, len(b))
	}
	var c ObisCode
	copy(c[:], b[:5])
	return c, nil
}

// Parse reads the textual form "A-B:C.D.E".
func Parse(s string) (ObisCode, error) {
	var c ObisCode
	rest := strings.TrimSpace(s)
	for i, sep := range []string{"-", ":", ".", ".", ""} {
		var part string
		if sep == "" {
			part, rest = rest, ""
		} else {
			var ok bool
			part, rest, ok = strings.Cut(rest, sep)
			if !ok {
				return ObisCode{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
			}
		}
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return ObisCode{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, s, err)
		}
		c[i] = byte(n)
	}
	return c, nil
}

// MustParse is Parse for package-level tables.
func MustParse(s string) ObisCode {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Octets returns the 6-byte wire form with F = 255.
func (c ObisCode) Octets() []byte {
	return []byte{c[0], c[1], c[2], c[3], c[4], 0xFF}
}

func (c ObisCode) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d", c[0], c[1], c[2], c[3], c[4])
}
