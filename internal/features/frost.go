package features

import (
	"math"
)

// Params holds the physical constants and numeric guards of the feature set.
type Params struct {
	// Magnus approximation constants for water vapour over liquid water.
	MagnusA float64
	MagnusB float64 // °C

	// Coldness ramps from 0 at ColdStartC down to 1 at ColdFullC.
	ColdStartC float64
	ColdFullC  float64

	// Dew-point spread at or above SpreadZeroC contributes no moisture.
	SpreadZeroC float64

	YearDays     float64
	LightEpsilon float64
	ScaleEpsilon float64
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() Params {
	return Params{
		MagnusA:      17.27,
		MagnusB:      237.7,
		ColdStartC:   2,
		ColdFullC:    -4,
		SpreadZeroC:  3,
		YearDays:     366,
		LightEpsilon: 1e-6,
		ScaleEpsilon: 1e-6,
	}
}

func fahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DewPointC computes the dew point in °C from a °F temperature and a relative
// humidity in percent using the Magnus approximation.
func DewPointC(tempF, rhPct float64, p Params) float64 {
	tc := fahrenheitToCelsius(tempF)
	rh := math.Min(math.Max(rhPct, 1), 100) / 100
	gamma := math.Log(rh) + p.MagnusA*tc/(p.MagnusB+tc)
	return p.MagnusB * gamma / (p.MagnusA - gamma)
}

// FrostIndex is a cold × moist proxy in [0,1]. Missing or non-finite inputs
// yield 0.
func FrostIndex(tempF, rhPct float64, p Params) float64 {
	if !finite(tempF) || !finite(rhPct) {
		return 0
	}
	tc := fahrenheitToCelsius(tempF)
	cold := clamp01((p.ColdStartC - tc) / (p.ColdStartC - p.ColdFullC))

	spread := tc - DewPointC(tempF, rhPct, p)
	spreadFactor := clamp01((p.SpreadZeroC - spread) / p.SpreadZeroC)
	moist := clamp01(rhPct/100) * spreadFactor

	idx := cold * moist
	if !finite(idx) {
		return 0
	}
	return clamp01(idx)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
