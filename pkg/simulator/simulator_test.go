package simulator

import (
	"testing"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/sml"
	"github.com/stretchr/testify/require"
)

func TestSampleFrameIsValid(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	s := Sample{ServerID: []byte{1, 2, 3}, EnergyRaw: 12345, EnergyScaler: -1, LinesRaw: [3]int32{1, 2, 3}, Timestamp: &ts}

	vf, err := sml.Validate(s.Frame())
	require.NoError(t, err)
	root, err := sml.Decode(vf)
	require.NoError(t, err)
	require.Len(t, root.List, 3)

	msg, err := sml.ParseMessage(root.List[1])
	require.NoError(t, err)
	resp, err := sml.ParseGetListResponse(msg.Body)
	require.NoError(t, err)
	require.Len(t, resp.ValList, 7)
}

func TestGeneratorAdvances(t *testing.T) {
	g := NewGenerator(1, time.Minute)
	a := g.Next()
	b := g.Next()
	require.Greater(t, b.EnergyRaw, a.EnergyRaw)
	require.Equal(t, a.SecIndex+60, b.SecIndex)
	for _, p := range b.LinesRaw {
		require.GreaterOrEqual(t, p, int32(100))
	}
}
