package warehouse

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
)

// Memory is an in-process Warehouse for tests. Like InfluxDB it holds at
// most one prediction per zone and timestamp.
type Memory struct {
	mu            sync.RWMutex
	readings      []models.Reading
	interventions []models.Intervention
	predictions   []models.Prediction
	writes        int
}

// NewMemory creates an empty warehouse.
func NewMemory() *Memory {
	return &Memory{}
}

// AddReadings appends long-form readings.
func (m *Memory) AddReadings(rs ...models.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, rs...)
}

// AddInterventions appends candle events.
func (m *Memory) AddInterventions(evs ...models.Intervention) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interventions = append(m.interventions, evs...)
}

// Predictions returns a copy of every stored prediction, oldest first.
func (m *Memory) Predictions() []models.Prediction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.Prediction(nil), m.predictions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Writes counts successful inserts and resolutions.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *Memory) LatestReadingTime(ctx context.Context, zoneID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	found := false
	for _, r := range m.readings {
		if r.ZoneID != zoneID {
			continue
		}
		if !found || r.Timestamp.After(latest) {
			latest, found = r.Timestamp, true
		}
	}
	return latest.UTC(), found, ctx.Err()
}

func (m *Memory) Readings(ctx context.Context, zoneID string, from, to time.Time) ([]models.WideReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var long []models.Reading
	for _, r := range m.readings {
		if r.ZoneID == zoneID && !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			long = append(long, r)
		}
	}
	return models.PivotReadings(long), ctx.Err()
}

func (m *Memory) Interventions(ctx context.Context, zoneID string, from, to time.Time) ([]models.Intervention, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var zone []models.Intervention
	for _, ev := range m.interventions {
		if ev.ZoneID == zoneID && !ev.Timestamp.After(to) {
			zone = append(zone, ev)
		}
	}
	sort.SliceStable(zone, func(i, j int) bool { return zone[i].Timestamp.Before(zone[j].Timestamp) })

	var out []models.Intervention
	for i, ev := range zone {
		if ev.Timestamp.Before(from) {
			if i+1 == len(zone) || !zone[i+1].Timestamp.Before(from) {
				out = append(out, ev)
			}
			continue
		}
		out = append(out, ev)
	}
	return out, ctx.Err()
}

func (m *Memory) MaturedUnresolved(ctx context.Context, zoneID string, maturedBy time.Time, limit int) ([]models.Prediction, error) {
	var out []models.Prediction
	for _, p := range m.Predictions() {
		if p.ZoneID != zoneID || p.Resolved() || p.IsSentinel() {
			continue
		}
		if p.Timestamp.After(maturedBy) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, ctx.Err()
}

func (m *Memory) HasIngest(ctx context.Context, zoneID, ingestID string, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.predictions {
		if p.ZoneID == zoneID && p.IngestID == ingestID && !p.TriggeredAt.Before(since) {
			return true, ctx.Err()
		}
	}
	return false, ctx.Err()
}

func (m *Memory) InsertPrediction(ctx context.Context, p models.Prediction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	for i := range m.predictions {
		q := &m.predictions[i]
		if q.ZoneID == p.ZoneID && q.Timestamp.Equal(p.Timestamp) {
			mergePrediction(q, p)
			return nil
		}
	}
	m.predictions = append(m.predictions, p)
	return nil
}

// mergePrediction overwrites the inference fields of dst the way a point
// written to the same series and timestamp does. Resolution fields survive.
func mergePrediction(dst *models.Prediction, p models.Prediction) {
	dst.Probability = p.Probability
	dst.ProbabilityPercent = p.ProbabilityPercent
	dst.ModelVersion = p.ModelVersion
	dst.TriggeredAt = p.TriggeredAt
	dst.SkippedReason = p.SkippedReason
	if p.FeaturesHash != "" {
		dst.FeaturesHash = p.FeaturesHash
	}
	if p.IngestID != "" {
		dst.IngestID = p.IngestID
	}
}

func (m *Memory) ResolvePrediction(ctx context.Context, r models.Resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.predictions {
		p := &m.predictions[i]
		if p.ZoneID != r.ZoneID || !p.Timestamp.Equal(r.Timestamp) {
			continue
		}
		if p.Resolved() {
			return ErrAlreadyResolved
		}
		r.Apply(p)
		m.writes++
		return nil
	}
	return ErrPredictionNotFound
}
