package grid

import (
	"math"
	"time"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
)

// FrostLabel returns 1 when the minimum temperature observed in [start, end]
// is at or below threshold, 0 otherwise. ok is false when the window holds no
// temperature reading.
func FrostLabel(rows []models.WideReading, start, end time.Time, threshold float64) (label int, ok bool) {
	var minTemp float64
	for _, r := range rows {
		if r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		v, has := r.Value(models.FieldTemperature)
		if !has || math.IsNaN(v) {
			continue
		}
		if !ok || v < minTemp {
			minTemp = v
		}
		ok = true
	}
	if !ok {
		return 0, false
	}
	if minTemp <= threshold {
		return 1, true
	}
	return 0, true
}
