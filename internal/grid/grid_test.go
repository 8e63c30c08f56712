package grid

import (
	"math"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
)

const interval = 15 * time.Minute

var anchor = time.Date(2025, 1, 10, 6, 7, 31, 0, time.UTC)

func tempRow(ts time.Time, v float64) models.WideReading {
	return models.WideReading{Timestamp: ts, Values: map[string]float64{models.FieldTemperature: v}}
}

// fullRows returns one temperature row per bin ending at the floored anchor.
func fullRows(steps int) []models.WideReading {
	last := anchor.Truncate(interval)
	rows := make([]models.WideReading, 0, steps)
	for i := steps - 1; i >= 0; i-- {
		rows = append(rows, tempRow(last.Add(-time.Duration(i)*interval+time.Minute), float64(30+i%5)))
	}
	return rows
}

func TestRequiredSteps(t *testing.T) {
	if got := RequiredSteps(72, 15); got != 288 {
		t.Errorf("expected 288 steps, got %d", got)
	}
	if got := RequiredSteps(1, 0); got != 0 {
		t.Errorf("expected 0 steps for zero interval, got %d", got)
	}
}

func TestResampleLengthIsExact(t *testing.T) {
	const steps = 16

	dense := make([]models.WideReading, 0)
	for i := 0; i < steps*10; i++ {
		dense = append(dense, tempRow(anchor.Add(-time.Duration(i)*90*time.Second), 31))
	}
	outside := []models.WideReading{
		tempRow(anchor.Add(-48*time.Hour), 20),
		tempRow(anchor.Add(time.Hour), 20),
	}

	tests := []struct {
		name string
		rows []models.WideReading
	}{
		{name: "empty", rows: nil},
		{name: "single reading", rows: []models.WideReading{tempRow(anchor, 33)}},
		{name: "full", rows: fullRows(steps)},
		{name: "over dense", rows: dense},
		{name: "only outside window", rows: outside},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, meta := Resample(tt.rows, interval, anchor, steps)
			if g.Len() != steps {
				t.Fatalf("expected %d bins, got %d", steps, g.Len())
			}
			for _, f := range models.SensorFields {
				if len(g.Series(f)) != steps {
					t.Fatalf("expected %d values for %s, got %d", steps, f, len(g.Series(f)))
				}
			}
			if meta.NeededPoints != steps {
				t.Errorf("expected needed points %d, got %d", steps, meta.NeededPoints)
			}
		})
	}
}

func TestResampleAnchorsOnFlooredBin(t *testing.T) {
	g, meta := Resample(nil, interval, anchor, 4)
	want := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)
	if !meta.End.Equal(want) || !g.Times[3].Equal(want) {
		t.Fatalf("expected last bin at %s, got meta %s grid %s", want, meta.End, g.Times[3])
	}
	if !meta.Start.Equal(want.Add(-3 * interval)) {
		t.Errorf("expected start %s, got %s", want.Add(-3*interval), meta.Start)
	}
}

func TestResampleMeanPerBin(t *testing.T) {
	last := anchor.Truncate(interval)
	rows := []models.WideReading{
		tempRow(last.Add(time.Minute), 30),
		tempRow(last.Add(5*time.Minute), 34),
	}
	g, _ := Resample(rows, interval, anchor, 2)
	if got := g.Series(models.FieldTemperature)[1]; got != 32 {
		t.Errorf("expected bin mean 32, got %v", got)
	}
}

func TestResampleMeasuresGapBeforeInterpolation(t *testing.T) {
	const steps = 20
	const gap = 6

	rows := fullRows(steps)
	// drop bins 8..13 so a gap of exactly six bins remains
	kept := make([]models.WideReading, 0, len(rows))
	for i, r := range rows {
		if i >= 8 && i < 8+gap {
			continue
		}
		kept = append(kept, r)
	}

	g, meta := Resample(kept, interval, anchor, steps)
	if meta.MaxGapBins != gap {
		t.Fatalf("expected max gap %d, got %d", gap, meta.MaxGapBins)
	}
	if meta.MaxGapMinutes != gap*15 {
		t.Errorf("expected gap minutes %d, got %d", gap*15, meta.MaxGapMinutes)
	}
	if meta.RealPoints != steps-gap {
		t.Errorf("expected %d real points, got %d", steps-gap, meta.RealPoints)
	}
	if want := float64(steps-gap) / steps; math.Abs(meta.Coverage-want) > 1e-12 {
		t.Errorf("expected coverage %v, got %v", want, meta.Coverage)
	}

	temps := g.Series(models.FieldTemperature)
	for i := 8; i < 8+gap; i++ {
		if math.IsNaN(temps[i]) {
			t.Fatalf("expected bin %d to be filled after interpolation", i)
		}
	}
}

func TestResampleInterpolatesLinearlyAndFlatAtEdges(t *testing.T) {
	last := anchor.Truncate(interval)
	rows := []models.WideReading{
		tempRow(last.Add(-3*interval), 30),
		tempRow(last.Add(-1*interval), 34),
	}
	g, meta := Resample(rows, interval, anchor, 6)
	want := []float64{30, 30, 30, 32, 34, 34}
	got := g.Series(models.FieldTemperature)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bin %d: expected %v, got %v (series %v)", i, want[i], got[i], got)
		}
	}
	if meta.MaxGapBins != 2 {
		t.Errorf("expected leading gap of 2 bins, got %d", meta.MaxGapBins)
	}
}

func TestResampleWithoutTemperature(t *testing.T) {
	const steps = 8
	rows := []models.WideReading{
		{Timestamp: anchor, Values: map[string]float64{models.FieldHumidity: 90}},
	}
	g, meta := Resample(rows, interval, anchor, steps)
	if meta.Coverage != 0 {
		t.Errorf("expected zero coverage, got %v", meta.Coverage)
	}
	if meta.MaxGapBins != steps {
		t.Errorf("expected max gap %d, got %d", steps, meta.MaxGapBins)
	}
	if !g.Missing[models.FieldTemperature] {
		t.Errorf("expected temperature flagged missing")
	}
	if g.Missing[models.FieldHumidity] {
		t.Errorf("expected humidity present")
	}
	for _, v := range g.Series(models.FieldTemperature) {
		if v != 0 {
			t.Fatalf("expected missing field zero-filled, got %v", v)
		}
	}
}

func TestFrostLabel(t *testing.T) {
	start := anchor
	end := anchor.Add(6 * time.Hour)

	tests := []struct {
		name      string
		rows      []models.WideReading
		wantLabel int
		wantOK    bool
	}{
		{name: "no data", wantOK: false},
		{
			name: "only outside window",
			rows: []models.WideReading{tempRow(start.Add(-time.Minute), 10)},
		},
		{
			name:      "frost at threshold",
			rows:      []models.WideReading{tempRow(start.Add(time.Hour), 40), tempRow(end, 32)},
			wantLabel: 1,
			wantOK:    true,
		},
		{
			name:      "no frost",
			rows:      []models.WideReading{tempRow(start, 40), tempRow(start.Add(time.Hour), 33)},
			wantLabel: 0,
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, ok := FrostLabel(tt.rows, start, end, 32)
			if ok != tt.wantOK || label != tt.wantLabel {
				t.Errorf("expected (%d, %v), got (%d, %v)", tt.wantLabel, tt.wantOK, label, ok)
			}
		})
	}
}
