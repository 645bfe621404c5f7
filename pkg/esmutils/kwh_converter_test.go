package esmutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyScaler(t *testing.T) {
	require.Equal(t, 1234.5, ApplyScaler(12345, -1))
	require.Equal(t, 0.001, ApplyScaler(1, -3))
	require.Equal(t, 12345.0, ApplyScaler(12345, 0))
	require.Equal(t, 1234500.0, ApplyScaler(12345, 2))
	require.Equal(t, -42.5, ApplyScaler(-425, -1))
}

func TestWhToKwh(t *testing.T) {
	require.Equal(t, 1.5, WhToKwh(1500))
}

func TestEnergyDelta(t *testing.T) {
	require.Equal(t, 10.0, EnergyDelta(100, 110))
	require.Equal(t, 0.0, EnergyDelta(110, 100))
}
