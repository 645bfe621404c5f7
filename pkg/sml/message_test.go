package sml

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetListResponseRoundTrip(t *testing.T) {
	unit, scaler := uint8(30), int8(-1)
	status := uint64(0x00010104)
	resp := GetListResponse{
		ServerID:      []byte{0x0A, 0x01, 0x45, 0x4D, 0x48},
		ActSensorTime: &Time{Kind: TimeSecIndex, Seconds: 1234},
		ValList: []ListEntry{
			{
				ObjName: []byte{1, 0, 1, 8, 0, 0xFF},
				Status:  &status,
				ValTime: &Time{Kind: TimeLocalTimestamp, Seconds: 1700000000, LocalOffset: 60, SeasonOffset: 0},
				Unit:    &unit,
				Scaler:  &scaler,
				Value:   Uint(8, 12345),
			},
			{
				ObjName: []byte{1, 0, 96, 50, 1, 1},
				Value:   Octets([]byte("EMH")),
			},
		},
	}
	msg := Message{TransactionID: []byte{0x01}, Tag: TagGetListResponse, Body: resp.ToValue()}
	root, err := Decode(ValidatedFrame{Payload: EncodeMessages(msg.ToValue())})
	require.NoError(t, err)

	parsed, err := ParseMessage(root.List[0])
	require.NoError(t, err)
	require.Equal(t, TagGetListResponse, parsed.Tag)
	require.Equal(t, []byte{0x01}, parsed.TransactionID)
	require.NotZero(t, parsed.CRC)

	got, err := ParseGetListResponse(parsed.Body)
	require.NoError(t, err)
	require.Equal(t, resp.ServerID, got.ServerID)
	require.Equal(t, resp.ActSensorTime, got.ActSensorTime)
	require.Nil(t, got.ActGatewayTime)
	require.Len(t, got.ValList, 2)

	e := got.ValList[0]
	require.Equal(t, unit, *e.Unit)
	require.Equal(t, scaler, *e.Scaler)
	require.Equal(t, status, *e.Status)
	require.Equal(t, uint64(12345), e.Value.Uint)
	require.True(t, e.ValTime.IsWallClock())
	require.Equal(t, int16(60), e.ValTime.LocalOffset)

	require.Nil(t, got.ValList[1].Unit)
	require.Nil(t, got.ValList[1].Scaler)
	require.Equal(t, []byte("EMH"), got.ValList[1].Value.Bytes)
}

func TestMessageCRCCoversHeader(t *testing.T) {
	a := Message{TransactionID: []byte{0x01}, Tag: TagCloseResponse, Body: CloseResponseBody()}.ToValue()
	b := Message{TransactionID: []byte{0x02}, Tag: TagCloseResponse, Body: CloseResponseBody()}.ToValue()
	require.NotEqual(t, a.List[4].Uint, b.List[4].Uint)
}

func TestParseMessageRejectsLayout(t *testing.T) {
	_, err := ParseMessage(List(Absent(), Absent()))
	require.ErrorIs(t, err, ErrMalformedStructure)

	_, err = ParseMessage(List(Absent(), Absent(), Absent(), List(Uint(4, 1)), Absent(), EndOfMessage()))
	require.ErrorIs(t, err, ErrMalformedStructure)

	_, err = ParseListEntry(List(Octets([]byte{1}), Absent(), Absent(), Int(1, 30), Absent(), Uint(1, 1), Absent()))
	require.ErrorIs(t, err, ErrMalformedStructure)

	_, err = ParseTime(List(Uint(1, 9), Uint(4, 0)))
	require.ErrorIs(t, err, ErrMalformedStructure)
}
