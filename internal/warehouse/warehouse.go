// Package warehouse defines the time-series store the forecaster reads
// sensor history from and writes predictions to.
package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
)

var (
	// ErrAlreadyResolved is returned when a prediction already carries a label outcome.
	ErrAlreadyResolved = errors.New("prediction already resolved")
	// ErrPredictionNotFound is returned when resolving a prediction that does not exist.
	ErrPredictionNotFound = errors.New("prediction not found")
)

// Warehouse is the persistence boundary of the forecaster.
type Warehouse interface {
	// LatestReadingTime returns the newest sensor timestamp of the zone.
	// ok is false when the zone has no readings.
	LatestReadingTime(ctx context.Context, zoneID string) (t time.Time, ok bool, err error)

	// Readings returns the zone's readings in [from, to], pivoted wide and
	// sorted ascending.
	Readings(ctx context.Context, zoneID string, from, to time.Time) ([]models.WideReading, error)

	// Interventions returns the events in [from, to] preceded by the last
	// event before from, if any, sorted ascending.
	Interventions(ctx context.Context, zoneID string, from, to time.Time) ([]models.Intervention, error)

	// MaturedUnresolved returns unresolved predictions stamped at or before
	// maturedBy, however old, oldest first, at most limit. Sentinel rows are
	// never returned.
	MaturedUnresolved(ctx context.Context, zoneID string, maturedBy time.Time, limit int) ([]models.Prediction, error)

	// HasIngest reports whether a prediction for ingestID was written since.
	HasIngest(ctx context.Context, zoneID, ingestID string, since time.Time) (bool, error)

	InsertPrediction(ctx context.Context, p models.Prediction) error

	// ResolvePrediction writes r onto the matching prediction only if it is
	// still unresolved; otherwise ErrAlreadyResolved.
	ResolvePrediction(ctx context.Context, r models.Resolution) error
}
