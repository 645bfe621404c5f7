package esmutils

import "math"

// ApplyScaler returns raw * 10^scaler. Negative scalers divide so that
// values like 12345 * 10^-1 come out exact.
func ApplyScaler(raw float64, scaler int8) float64 {
	if scaler < 0 {
		return raw / math.Pow10(-int(scaler))
	}
	return raw * math.Pow10(int(scaler))
}

func WhToKwh(wh float64) float64 {
	return wh / 1000
}

// Energy used between two cumulative readings. A counter that went
// backwards (meter swap or reset) yields 0.
func EnergyDelta(first, last float64) float64 {
	if last < first {
		return 0
	}
	return last - first
}
