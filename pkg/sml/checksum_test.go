package sml

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumX25CheckValue(t *testing.T) {
	require.Equal(t, uint16(0x906E), Checksum([]byte("123456789")))
}

func TestValidateRoundTrip(t *testing.T) {
	payload := []byte{0x76, 0x05, 0x01, 0x02, 0x03, 0x04, 0x62, 0x00}
	raw := EncodeFrame(payload)

	vf, err := Validate(raw)
	require.NoError(t, err)
	require.Equal(t, payload, vf.Payload)
	require.Equal(t, 0, vf.Padding)
}

func TestValidateStripsPadding(t *testing.T) {
	payload := []byte{0x76, 0x05, 0x01}
	raw := EncodeFrame(payload)
	require.Zero(t, len(raw)%4)

	vf, err := Validate(raw)
	require.NoError(t, err)
	require.Equal(t, payload, vf.Payload)
	require.Equal(t, 1, vf.Padding)
}

func TestValidateUnescapesPayload(t *testing.T) {
	payload := []byte{0x1B, 0x1B, 0x1B, 0x1B, 0x63, 0x01, 0x01, 0x00}
	raw := EncodeFrame(payload)
	// escape word doubled inside the payload
	require.Equal(t, len(payload)+4+startSeqLen+endSeqLen, len(raw))

	vf, err := Validate(raw)
	require.NoError(t, err)
	require.Equal(t, payload, vf.Payload)
}

func TestValidateRejectsEveryBitFlip(t *testing.T) {
	payload := EncodeMessages(List(Octets([]byte("abc")), Uint(1, 0), Uint(1, 0),
		List(Uint(4, 0x0101), Absent()), Uint(2, 0x1234), EndOfMessage()))
	raw := EncodeFrame(payload)

	for i := startSeqLen; i < len(raw)-endSeqLen; i++ {
		for bit := 0; bit < 8; bit++ {
			flipped := append(RawFrame(nil), raw...)
			flipped[i] ^= 1 << bit
			_, err := Validate(flipped)
			require.ErrorIs(t, err, ErrCorruptFrame, "byte %d bit %d", i, bit)
		}
	}
}

func TestValidateReportsChecksums(t *testing.T) {
	raw := EncodeFrame([]byte{0x01, 0x01, 0x01, 0x00})
	raw[len(raw)-1] ^= 0xFF

	_, err := Validate(raw)
	var corrupt *CorruptFrameError
	require.ErrorAs(t, err, &corrupt)
	require.NotEqual(t, corrupt.Transmitted, corrupt.Computed)
	require.Len(t, corrupt.Raw, len(raw))
}

func TestValidateRejectsBadEnvelope(t *testing.T) {
	good := EncodeFrame([]byte{0x01, 0x00, 0x00, 0x00})

	cases := map[string]RawFrame{
		"short":       good[:12],
		"unaligned":   append(append(RawFrame(nil), good...), 0x00),
		"no start":    append(RawFrame{0, 0, 0, 0}, good[4:]...),
		"bad padding": withPadding(good, 7),
	}
	for name, raw := range cases {
		_, err := Validate(raw)
		require.ErrorIs(t, err, ErrCorruptFrame, name)
	}
}

// withPadding rewrites the padding count and fixes up the checksum.
func withPadding(raw RawFrame, n byte) RawFrame {
	out := append(RawFrame(nil), raw...)
	out[len(out)-3] = n
	crc := Checksum(out[:len(out)-2])
	out[len(out)-2], out[len(out)-1] = byte(crc), byte(crc>>8)
	return out
}
