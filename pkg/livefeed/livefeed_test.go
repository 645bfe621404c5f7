package livefeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/obis"
	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/stretchr/testify/require"
)

func sampleReading(sec int64, energy float64) types.MeterReading {
	return types.MeterReading{
		CapturedAt:  time.Unix(sec, 0).UTC(),
		TimeSource:  types.TimeSourceMeter,
		TotalEnergy: types.Quantity{Value: energy, Unit: obis.UnitWattHour},
		Lines: [3]types.Quantity{
			{Value: 1, Unit: obis.UnitWatt},
			{Value: 2, Unit: obis.UnitWatt},
			{Value: 3, Unit: obis.UnitWatt},
		},
	}
}

func TestHubToSubscriber(t *testing.T) {
	initial := sampleReading(1700000000, 10)
	hub := NewHub(func() (types.MeterReading, bool) { return initial, true })
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan types.MeterReading, 4)
	done := make(chan error, 1)
	go func() {
		done <- Subscribe(ctx, SubscribeOptions{Host: strings.TrimPrefix(srv.URL, "http://")}, func(r types.MeterReading) {
			received <- r
		})
	}()

	select {
	case r := <-received:
		require.True(t, initial.CapturedAt.Equal(r.CapturedAt))
		require.Equal(t, initial.TotalEnergy, r.TotalEnergy)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial reading")
	}

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	next := sampleReading(1700000001, 11)
	require.NoError(t, hub.Store(context.Background(), next))

	select {
	case r := <-received:
		require.Equal(t, 11.0, r.TotalEnergy.Value)
		require.Equal(t, next.Lines, r.Lines)
	case <-time.After(5 * time.Second):
		t.Fatal("no broadcast reading")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe did not return")
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStoreWithoutClients(t *testing.T) {
	hub := NewHub(nil)
	require.NoError(t, hub.Store(context.Background(), sampleReading(1, 1)))
	require.Zero(t, hub.ClientCount())
}

func TestSubscribeGivesUp(t *testing.T) {
	srv := httptest.NewServer(nil)
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	err := Subscribe(context.Background(), SubscribeOptions{
		Host:           host,
		MaxRetries:     2,
		BaseRetryDelay: time.Millisecond,
	}, func(types.MeterReading) {})
	require.ErrorIs(t, err, ErrMaxRetries)
}

func TestSubscribeURL(t *testing.T) {
	u := SubscribeOptions{Host: "meter.local:3000", TLSEnabled: true}.URL()
	require.Equal(t, "wss://meter.local:3000/ws", u.String())
}
