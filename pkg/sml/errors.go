package sml

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportClosed is returned by the framer when the byte stream ends or fails.
	ErrTransportClosed = errors.New("sml: transport closed")
	// ErrCorruptFrame marks a frame whose checksum or transport envelope is wrong.
	ErrCorruptFrame = errors.New("sml: corrupt frame")
	// ErrMalformedStructure marks a frame whose TLV content cannot be decoded.
	ErrMalformedStructure = errors.New("sml: malformed structure")
)

// CorruptFrameError carries the raw frame for diagnostics.
type CorruptFrameError struct {
	Raw    []byte
	Reason string
	// Transmitted and Computed are only set for checksum mismatches.
	Transmitted uint16
	Computed    uint16
}

func (e *CorruptFrameError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("sml: corrupt frame (%d bytes): %s", len(e.Raw), e.Reason)
	}
	return fmt.Sprintf("sml: corrupt frame (%d bytes): checksum %04X, computed %04X",
		len(e.Raw), e.Transmitted, e.Computed)
}

func (e *CorruptFrameError) Is(target error) bool {
	return target == ErrCorruptFrame
}

// MalformedError reports where in the payload decoding stopped.
type MalformedError struct {
	Offset int
	Depth  int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("sml: malformed structure at offset %d (depth %d): %s", e.Offset, e.Depth, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedStructure
}
