// Package grid resamples irregular sensor readings onto a fixed-length,
// anchored time grid and measures how much of it was actually observed.
package grid

import (
	"math"
	"time"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
)

// Grid is a fixed-length, evenly spaced series ending at an anchor bin.
type Grid struct {
	Interval time.Duration
	// Times holds the start of every bin; the last entry is the floored anchor.
	Times []time.Time
	// Values holds one gap-filled series per sensor field, each len(Times) long.
	Values map[string][]float64
	// Missing marks fields that had no observation anywhere in the window.
	Missing map[string]bool
}

// Len returns the number of bins.
func (g *Grid) Len() int {
	return len(g.Times)
}

// Series returns the gap-filled values of a field.
func (g *Grid) Series(field string) []float64 {
	return g.Values[field]
}

// Meta describes data quality of the primary thermal signal before gap filling.
type Meta struct {
	NeededPoints  int       `json:"needed_points"`
	RealPoints    int       `json:"real_points"`
	Coverage      float64   `json:"coverage"`
	CoveragePct   float64   `json:"coverage_pct"`
	MaxGapBins    int       `json:"max_gap_bins"`
	MaxGapMinutes int       `json:"max_gap_minutes"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// RequiredSteps returns the number of bins covering the lookback window.
func RequiredSteps(lookbackHours, intervalMinutes int) int {
	if intervalMinutes <= 0 {
		return 0
	}
	return lookbackHours * 60 / intervalMinutes
}

// Resample bins rows into exactly requiredSteps buckets ending at the bin that
// contains end. Coverage and gap metrics are taken from the temperature mask
// before interpolation fills the empty bins.
func Resample(rows []models.WideReading, interval time.Duration, end time.Time, requiredSteps int) (*Grid, Meta) {
	if requiredSteps < 0 {
		requiredSteps = 0
	}
	last := end.UTC().Truncate(interval)
	start := last.Add(-time.Duration(requiredSteps-1) * interval)

	g := &Grid{
		Interval: interval,
		Times:    make([]time.Time, requiredSteps),
		Values:   make(map[string][]float64, len(models.SensorFields)),
		Missing:  make(map[string]bool, len(models.SensorFields)),
	}
	for i := range g.Times {
		g.Times[i] = start.Add(time.Duration(i) * interval)
	}

	sums := make(map[string][]float64, len(models.SensorFields))
	counts := make(map[string][]int, len(models.SensorFields))
	for _, f := range models.SensorFields {
		sums[f] = make([]float64, requiredSteps)
		counts[f] = make([]int, requiredSteps)
	}

	windowEnd := last.Add(interval)
	for _, r := range rows {
		ts := r.Timestamp.UTC()
		if ts.Before(start) || !ts.Before(windowEnd) {
			continue
		}
		bin := int(ts.Sub(start) / interval)
		for _, f := range models.SensorFields {
			v, ok := r.Values[f]
			if !ok || math.IsNaN(v) {
				continue
			}
			sums[f][bin] += v
			counts[f][bin]++
		}
	}

	for _, f := range models.SensorFields {
		series := make([]float64, requiredSteps)
		for i := range series {
			if counts[f][i] == 0 {
				series[i] = math.NaN()
				continue
			}
			series[i] = sums[f][i] / float64(counts[f][i])
		}
		g.Values[f] = series
	}

	meta := measure(g.Values[models.FieldTemperature], interval)
	meta.Start = start
	meta.End = last

	for _, f := range models.SensorFields {
		if !interpolate(g.Values[f]) {
			g.Missing[f] = true
		}
	}

	return g, meta
}

func measure(series []float64, interval time.Duration) Meta {
	m := Meta{NeededPoints: len(series)}
	run := 0
	for _, v := range series {
		if math.IsNaN(v) {
			run++
			if run > m.MaxGapBins {
				m.MaxGapBins = run
			}
			continue
		}
		run = 0
		m.RealPoints++
	}
	if m.NeededPoints > 0 {
		m.Coverage = float64(m.RealPoints) / float64(m.NeededPoints)
	}
	m.CoveragePct = m.Coverage * 100
	m.MaxGapMinutes = m.MaxGapBins * int(interval/time.Minute)
	return m
}

// interpolate fills NaN bins in place: linearly between observed bins and
// flat beyond the first and last observation. A series with no observation
// is zero-filled and reported as false.
func interpolate(series []float64) bool {
	first, prev := -1, -1
	for i, v := range series {
		if math.IsNaN(v) {
			continue
		}
		if first < 0 {
			first = i
		}
		if prev >= 0 && i-prev > 1 {
			step := (v - series[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				series[j] = series[prev] + step*float64(j-prev)
			}
		}
		prev = i
	}

	if first < 0 {
		for i := range series {
			series[i] = 0
		}
		return false
	}
	for i := 0; i < first; i++ {
		series[i] = series[first]
	}
	for i := prev + 1; i < len(series); i++ {
		series[i] = series[prev]
	}
	return true
}
