// Package features turns a resampled grid into the flat model input vector.
package features

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/grid"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/stats"
)

// ChannelFrostIndex is the derived per-bin frost index channel.
const ChannelFrostIndex = "frost_index"

// SensorChannels are the raw and derived channels that get deltas and scaling.
var SensorChannels = append(append([]string{}, models.SensorFields...), ChannelFrostIndex)

// CyclicChannels are already bounded to [-1, 1] and are left unscaled.
var CyclicChannels = []string{"tod_sin", "tod_cos", "doy_sin", "doy_cos", "light_sin", "light_cos"}

// NumChannels is the per-bin feature count.
var NumChannels = 2*len(SensorChannels) + len(CyclicChannels)

// Vector is the flattened model input.
type Vector []float32

// VectorLen returns the input width for a grid of steps bins.
func VectorLen(steps int) int {
	return steps*NumChannels + 1
}

// Float64s widens the vector for numeric code.
func (v Vector) Float64s() []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Hash returns the hex SHA-256 of the little-endian float32 bytes.
func (v Vector) Hash() string {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Build derives the engineered channels from g and flattens them as
// [scaled raw+delta block][cyclic block][candle flag].
func Build(g *grid.Grid, candlesActive bool, p Params) (Vector, string) {
	n := g.Len()

	sensor := make([][]float64, 0, len(SensorChannels))
	for _, f := range models.SensorFields {
		sensor = append(sensor, g.Series(f))
	}
	sensor = append(sensor, frostIndexSeries(g, p))

	scaled := make([][]float64, 0, 2*len(sensor))
	for _, col := range sensor {
		scaled = append(scaled, robustScale(col, p.ScaleEpsilon))
	}
	for _, col := range sensor {
		scaled = append(scaled, robustScale(deltas(col), p.ScaleEpsilon))
	}

	cyclic := timeCycles(g.Times, p.YearDays)
	lightSin, lightCos := LightCycle(g.Times, g.Series(models.FieldLight), g.Missing[models.FieldLight], p.LightEpsilon)
	cyclic = append(cyclic, lightSin, lightCos)

	vec := make(Vector, 0, VectorLen(n))
	for t := 0; t < n; t++ {
		for _, col := range scaled {
			vec = append(vec, float32(col[t]))
		}
	}
	for t := 0; t < n; t++ {
		for _, col := range cyclic {
			vec = append(vec, float32(col[t]))
		}
	}
	if candlesActive {
		vec = append(vec, 1)
	} else {
		vec = append(vec, 0)
	}

	return vec, vec.Hash()
}

func frostIndexSeries(g *grid.Grid, p Params) []float64 {
	out := make([]float64, g.Len())
	if g.Missing[models.FieldTemperature] || g.Missing[models.FieldHumidity] {
		return out
	}
	temp := g.Series(models.FieldTemperature)
	rh := g.Series(models.FieldHumidity)
	for i := range out {
		out[i] = FrostIndex(temp[i], rh[i], p)
	}
	return out
}

func deltas(col []float64) []float64 {
	out := make([]float64, len(col))
	for i := 1; i < len(col); i++ {
		out[i] = col[i] - col[i-1]
	}
	return out
}

func robustScale(col []float64, eps float64) []float64 {
	med, iqr := stats.MedianIQR(col)
	out := make([]float64, len(col))
	for i, v := range col {
		out[i] = (v - med) / (iqr + eps)
	}
	return out
}

func timeCycles(times []time.Time, yearDays float64) [][]float64 {
	todSin := make([]float64, len(times))
	todCos := make([]float64, len(times))
	doySin := make([]float64, len(times))
	doyCos := make([]float64, len(times))

	for i, ts := range times {
		ts = ts.UTC()
		sod := float64(ts.Hour()*3600 + ts.Minute()*60 + ts.Second())
		todAngle := 2 * math.Pi * sod / 86400
		doyAngle := 2 * math.Pi * float64(ts.YearDay()) / yearDays
		todSin[i], todCos[i] = math.Sin(todAngle), math.Cos(todAngle)
		doySin[i], doyCos[i] = math.Sin(doyAngle), math.Cos(doyAngle)
	}
	return [][]float64{todSin, todCos, doySin, doyCos}
}

// LightCycle maps light onto the unit circle after normalising it by each UTC
// day's own min/max. Days whose range is within eps normalise to 0.
func LightCycle(times []time.Time, light []float64, missing bool, eps float64) (sin, cos []float64) {
	sin = make([]float64, len(times))
	cos = make([]float64, len(times))
	if missing || len(light) != len(times) {
		for i := range cos {
			cos[i] = 1
		}
		return sin, cos
	}

	type span struct{ lo, hi float64 }
	days := make(map[string]*span)
	for i, ts := range times {
		v := light[i]
		if !finite(v) {
			continue
		}
		key := ts.UTC().Format(time.DateOnly)
		s, ok := days[key]
		if !ok {
			days[key] = &span{lo: v, hi: v}
			continue
		}
		s.lo = math.Min(s.lo, v)
		s.hi = math.Max(s.hi, v)
	}

	for i, ts := range times {
		norm := 0.0
		if s, ok := days[ts.UTC().Format(time.DateOnly)]; ok && finite(light[i]) {
			if rng := s.hi - s.lo; rng > eps {
				norm = (light[i] - s.lo) / rng
			}
		}
		angle := 2 * math.Pi * norm
		sin[i], cos[i] = math.Sin(angle), math.Cos(angle)
	}
	return sin, cos
}
