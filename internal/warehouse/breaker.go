package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("warehouse unavailable")

// BreakerSettings tunes the circuit breaker around a Warehouse.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
	// OnStateChange, if set, is called after every transition.
	OnStateChange func(name string, to gobreaker.State)
}

// Breaker wraps a Warehouse so that a run fails fast once the backend
// has failed repeatedly.
type Breaker struct {
	next Warehouse
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker decorates next with a circuit breaker.
func NewBreaker(next Warehouse, s BreakerSettings, logger *slog.Logger) *Breaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "warehouse",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("breaker_state_change", "breaker", name, "from", from.String(), "to", to.String())
			if s.OnStateChange != nil {
				s.OnStateChange(name, to)
			}
		},
		// domain outcomes are answers, not backend failures
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrPredictionNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) do(fn func() (interface{}, error)) (interface{}, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, err
}

type latest struct {
	t  time.Time
	ok bool
}

func (b *Breaker) LatestReadingTime(ctx context.Context, zoneID string) (time.Time, bool, error) {
	res, err := b.do(func() (interface{}, error) {
		t, ok, err := b.next.LatestReadingTime(ctx, zoneID)
		return latest{t: t, ok: ok}, err
	})
	if err != nil {
		return time.Time{}, false, err
	}
	l := res.(latest)
	return l.t, l.ok, nil
}

func (b *Breaker) Readings(ctx context.Context, zoneID string, from, to time.Time) ([]models.WideReading, error) {
	res, err := b.do(func() (interface{}, error) {
		return b.next.Readings(ctx, zoneID, from, to)
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.WideReading), nil
}

func (b *Breaker) Interventions(ctx context.Context, zoneID string, from, to time.Time) ([]models.Intervention, error) {
	res, err := b.do(func() (interface{}, error) {
		return b.next.Interventions(ctx, zoneID, from, to)
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.Intervention), nil
}

func (b *Breaker) MaturedUnresolved(ctx context.Context, zoneID string, maturedBy time.Time, limit int) ([]models.Prediction, error) {
	res, err := b.do(func() (interface{}, error) {
		return b.next.MaturedUnresolved(ctx, zoneID, maturedBy, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.Prediction), nil
}

func (b *Breaker) HasIngest(ctx context.Context, zoneID, ingestID string, since time.Time) (bool, error) {
	res, err := b.do(func() (interface{}, error) {
		return b.next.HasIngest(ctx, zoneID, ingestID, since)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (b *Breaker) InsertPrediction(ctx context.Context, p models.Prediction) error {
	_, err := b.do(func() (interface{}, error) {
		return nil, b.next.InsertPrediction(ctx, p)
	})
	return err
}

func (b *Breaker) ResolvePrediction(ctx context.Context, r models.Resolution) error {
	_, err := b.do(func() (interface{}, error) {
		return nil, b.next.ResolvePrediction(ctx, r)
	})
	return err
}
