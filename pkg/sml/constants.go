// Package sml implements the SML transport (framing, escaping, CRC) and the
// SML type-length-value encoding used by German/European utility meters.
package sml

// Transport v1 escape sequences. Every sequence is 4-byte aligned relative to
// the start of the frame.
const (
	escapeByte  byte = 0x1B
	startByte   byte = 0x01
	endByte     byte = 0x1A
	wordSize         = 4
	startSeqLen      = 2 * wordSize
	endSeqLen        = 2 * wordSize
	checksumLen      = 2
	maxPadding       = wordSize - 1
	paddingByte byte = 0x00
)

var (
	escapeWord = [wordSize]byte{escapeByte, escapeByte, escapeByte, escapeByte}
	startWord  = [wordSize]byte{startByte, startByte, startByte, startByte}
)

// TL byte layout.
const (
	tlMoreFlag   byte = 0x80
	tlTypeMask   byte = 0x70
	tlLengthMask byte = 0x0F

	typeOctetString byte = 0x00
	typeBool        byte = 0x40
	typeInt         byte = 0x50
	typeUint        byte = 0x60
	typeList        byte = 0x70

	endOfMessage byte = 0x00

	// maxTLBytes allows three continuation tiers after the first TL byte.
	maxTLBytes = 4
	maxIntSize = 8
)

// Defaults for decoder and framer limits.
const (
	DefaultMaxDepth     = 16
	DefaultMaxFrameSize = 64 * 1024
)
