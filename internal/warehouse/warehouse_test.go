package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
)

var t0 = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func TestMemoryInterventionsIncludePriorEvent(t *testing.T) {
	m := NewMemory()
	m.AddInterventions(
		models.Intervention{Timestamp: t0.Add(-3 * time.Hour), ZoneID: "z", CandlesOn: false},
		models.Intervention{Timestamp: t0.Add(-1 * time.Hour), ZoneID: "z", CandlesOn: true},
		models.Intervention{Timestamp: t0.Add(30 * time.Minute), ZoneID: "z", CandlesOn: false},
		models.Intervention{Timestamp: t0.Add(5 * time.Hour), ZoneID: "z", CandlesOn: true},
		models.Intervention{Timestamp: t0, ZoneID: "other", CandlesOn: true},
	)

	got, err := m.Interventions(context.Background(), "z", t0, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Interventions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected prior event plus one in window, got %d", len(got))
	}
	if !got[0].CandlesOn || !got[0].Timestamp.Equal(t0.Add(-time.Hour)) {
		t.Fatalf("expected the last event before the window first, got %+v", got[0])
	}
	if !models.CandlesActiveAt(got, t0) {
		t.Fatalf("expected candles active at window start")
	}
}

func TestMemoryResolveIsConditional(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.InsertPrediction(ctx, models.Prediction{ZoneID: "z", Timestamp: t0, Probability: 0.3}); err != nil {
		t.Fatalf("InsertPrediction failed: %v", err)
	}

	label := 1
	r := models.Resolution{ZoneID: "z", Timestamp: t0, TrainedOnLabel: true, LabelFrostObserved: &label,
		LabelWindowStart: t0, LabelWindowEnd: t0.Add(6 * time.Hour)}
	if err := m.ResolvePrediction(ctx, r); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if err := m.ResolvePrediction(ctx, r); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if err := m.ResolvePrediction(ctx, models.Resolution{ZoneID: "z", Timestamp: t0.Add(time.Minute)}); !errors.Is(err, ErrPredictionNotFound) {
		t.Fatalf("expected ErrPredictionNotFound, got %v", err)
	}
	if m.Writes() != 2 {
		t.Fatalf("expected 2 writes, got %d", m.Writes())
	}
}

func TestMemoryMaturedUnresolved(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	trained := true
	for i := 0; i < 5; i++ {
		p := models.Prediction{ZoneID: "z", Timestamp: t0.Add(time.Duration(4-i) * time.Hour)}
		if i == 2 {
			p.TrainedOnLabel = &trained
		}
		_ = m.InsertPrediction(ctx, p)
	}

	got, err := m.MaturedUnresolved(ctx, "z", t0.Add(3*time.Hour), 2)
	if err != nil {
		t.Fatalf("MaturedUnresolved failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(t0) || !got[1].Timestamp.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected oldest first, got %v and %v", got[0].Timestamp, got[1].Timestamp)
	}
}

func TestMemoryMaturedUnresolvedSkipsSentinels(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.InsertPrediction(ctx, models.Prediction{ZoneID: "z", Timestamp: t0, Probability: models.SentinelProbability})
	_ = m.InsertPrediction(ctx, models.Prediction{ZoneID: "z", Timestamp: t0.Add(time.Hour), Probability: 0.2})

	got, err := m.MaturedUnresolved(ctx, "z", t0.Add(2*time.Hour), 0)
	if err != nil {
		t.Fatalf("MaturedUnresolved failed: %v", err)
	}
	if len(got) != 1 || got[0].IsSentinel() {
		t.Fatalf("expected only the real prediction, got %+v", got)
	}
}

func TestMemoryInsertMergesSameAnchor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	reason := "insufficient_real_points:real_4_of_8(50.0%)"
	_ = m.InsertPrediction(ctx, models.Prediction{ZoneID: "z", Timestamp: t0, Probability: models.SentinelProbability,
		ProbabilityPercent: models.SentinelProbability, SkippedReason: &reason, IngestID: "ing-1"})
	_ = m.InsertPrediction(ctx, models.Prediction{ZoneID: "z", Timestamp: t0, Probability: 0.4, ProbabilityPercent: 40,
		FeaturesHash: "abc"})

	preds := m.Predictions()
	if len(preds) != 1 {
		t.Fatalf("expected one row per anchor, got %d", len(preds))
	}
	p := preds[0]
	if p.Probability != 0.4 || p.SkippedReason != nil || p.FeaturesHash != "abc" || p.IngestID != "ing-1" {
		t.Fatalf("unexpected merged prediction %+v", p)
	}

	got, _ := m.MaturedUnresolved(ctx, "z", t0, 0)
	if len(got) != 1 {
		t.Fatalf("expected the merged prediction in the backlog, got %d", len(got))
	}
	if err := m.ResolvePrediction(ctx, models.Resolution{ZoneID: "z", Timestamp: t0, TrainedOnLabel: true}); err != nil {
		t.Fatalf("ResolvePrediction failed: %v", err)
	}
	if got, _ := m.MaturedUnresolved(ctx, "z", t0, 0); len(got) != 0 {
		t.Fatalf("expected an empty backlog after resolution, got %d", len(got))
	}
}

type failingWarehouse struct {
	*Memory
	calls int
}

func (f *failingWarehouse) Readings(context.Context, string, time.Time, time.Time) ([]models.WideReading, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingWarehouse{Memory: NewMemory()}
	b := NewBreaker(inner, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Readings(ctx, "z", t0, t0); err == nil || errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}
	if _, err := b.Readings(ctx, "z", t0, t0); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once open, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected open breaker to skip the backend, got %d calls", inner.calls)
	}
}

func TestBreakerPassesDomainErrorsThrough(t *testing.T) {
	m := NewMemory()
	b := NewBreaker(m, BreakerSettings{MaxFailures: 1, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()
	_ = b.InsertPrediction(ctx, models.Prediction{ZoneID: "z", Timestamp: t0})

	r := models.Resolution{ZoneID: "z", Timestamp: t0}
	_ = b.ResolvePrediction(ctx, r)
	for i := 0; i < 3; i++ {
		if err := b.ResolvePrediction(ctx, r); !errors.Is(err, ErrAlreadyResolved) {
			t.Fatalf("expected ErrAlreadyResolved without tripping, got %v", err)
		}
	}

	m.AddReadings(models.Reading{Timestamp: t0, ZoneID: "z", Field: models.FieldTemperature, Value: 40})
	ts, ok, err := b.LatestReadingTime(ctx, "z")
	if err != nil || !ok || !ts.Equal(t0) {
		t.Fatalf("expected latest reading at %v, got %v %v %v", t0, ts, ok, err)
	}
}
