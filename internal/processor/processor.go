// Package processor drives one zone's forecast and online learning cycle.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/config"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/features"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/grid"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/model"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/state"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/warehouse"
)

// ErrNoData is returned when the zone has no readings to anchor a forecast on.
var ErrNoData = errors.New("no sensor data for zone")

// Invocation carries the per-run inputs.
type Invocation struct {
	IngestID string
	// Anchor overrides the latest sensor timestamp as "now".
	Anchor *time.Time
}

// Observer receives run outcomes, e.g. for metrics.
type Observer interface {
	ObserveRun(s models.RunSummary, elapsed time.Duration)
	ObserveTrainLoss(loss float64)
}

// Processor runs forecast cycles for a single zone
type Processor struct {
	zoneID    string
	cfg       config.ForecastConfig
	params    features.Params
	warehouse warehouse.Warehouse
	store     *state.Store
	arch      model.Arch
	logger    *slog.Logger
	observer  Observer
	clock     func() time.Time
}

// Option customises a Processor.
type Option func(*Processor)

// WithClock replaces the wall clock used for triggered_at and recency windows.
func WithClock(clock func() time.Time) Option {
	return func(p *Processor) { p.clock = clock }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(p *Processor) { p.observer = o }
}

// WithFeatureParams overrides the feature constants.
func WithFeatureParams(fp features.Params) Option {
	return func(p *Processor) { p.params = fp }
}

// NewProcessor creates a new processor
func NewProcessor(zoneID string, cfg config.ForecastConfig, wh warehouse.Warehouse, store *state.Store, logger *slog.Logger, opts ...Option) (*Processor, error) {
	arch, err := model.ParseArch(cfg.ModelVersion)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		zoneID:    zoneID,
		cfg:       cfg,
		params:    features.DefaultParams(),
		warehouse: wh,
		store:     store,
		arch:      arch,
		logger:    logger.With("zone_id", zoneID),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes one cycle: resolve matured predictions, train on usable
// labels, and emit a new prediction anchored at sensor time.
func (p *Processor) Run(ctx context.Context, inv Invocation) (models.RunSummary, error) {
	started := p.clock()
	summary := models.RunSummary{RunID: uuid.NewString(), ZoneID: p.zoneID}
	log := p.logger.With("run_id", summary.RunID)

	if inv.IngestID != "" {
		seen, err := p.warehouse.HasIngest(ctx, p.zoneID, inv.IngestID, started.Add(-p.cfg.IdempotencyWindow))
		if err != nil {
			return summary, fmt.Errorf("idempotency check failed: %w", err)
		}
		if seen {
			summary.Duplicate = true
			log.Info("ingest_already_processed", "ingest_id", inv.IngestID)
			p.finish(log, summary, started)
			return summary, nil
		}
	}

	now, err := p.anchor(ctx, inv)
	if err != nil {
		return summary, err
	}

	horizon := p.cfg.Horizon()
	backlog, err := p.warehouse.MaturedUnresolved(ctx, p.zoneID, now.Add(-horizon), p.cfg.BacklogLimit)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch backlog: %w", err)
	}

	start := now
	if len(backlog) > 0 && backlog[0].Timestamp.Before(start) {
		start = backlog[0].Timestamp
	}
	start = start.Add(-p.cfg.Lookback() - p.cfg.Interval())

	readings, err := p.warehouse.Readings(ctx, p.zoneID, start, now)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch readings: %w", err)
	}
	if len(readings) == 0 {
		return summary, fmt.Errorf("%w: %s between %s and %s", ErrNoData, p.zoneID, start.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	events, err := p.warehouse.Interventions(ctx, p.zoneID, start, now)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch interventions: %w", err)
	}

	steps := p.cfg.RequiredSteps()
	liveGrid, meta := grid.Resample(readings, p.cfg.Interval(), now, steps)
	summary.Anchor = meta.End

	if reason := p.gate(meta, liveGate); reason != "" {
		if err := p.emitSentinel(ctx, meta, reason, inv.IngestID); err != nil {
			return summary, err
		}
		summary.Sentinel = true
		summary.SkippedReason = reason
		summary.Probability = models.SentinelProbability
		summary.ProbabilityPercent = models.SentinelProbability
		p.finish(log, summary, started)
		return summary, nil
	}

	x, hash := features.Build(liveGrid, models.CandlesActiveAt(events, meta.End), p.params)

	net, err := p.loadModel(ctx, log, len(x))
	if err != nil {
		return summary, err
	}

	trained, skipped, err := p.resolveBacklog(ctx, log, net, backlog, readings, events)
	summary.BacklogTrained, summary.BacklogSkipped = trained, skipped
	if err != nil {
		return summary, err
	}

	prob, err := net.Probability(x.Float64s())
	if err != nil {
		return summary, err
	}
	pred := models.Prediction{
		Timestamp:          meta.End,
		ZoneID:             p.zoneID,
		Probability:        prob,
		ProbabilityPercent: prob * 100,
		ModelVersion:       p.cfg.ModelVersion,
		FeaturesHash:       hash,
		IngestID:           inv.IngestID,
		TriggeredAt:        p.clock().UTC(),
	}
	if err := p.warehouse.InsertPrediction(ctx, pred); err != nil {
		return summary, fmt.Errorf("failed to insert prediction: %w", err)
	}
	summary.Probability, summary.ProbabilityPercent = pred.Probability, pred.ProbabilityPercent

	if trained > 0 {
		if err := p.store.Save(ctx, p.zoneID, net.Snapshot()); err != nil {
			return summary, err
		}
		summary.StateSaved = true
	}

	p.finish(log, summary, started)
	return summary, nil
}

func (p *Processor) anchor(ctx context.Context, inv Invocation) (time.Time, error) {
	if inv.Anchor != nil {
		return inv.Anchor.UTC(), nil
	}
	latest, ok, err := p.warehouse.LatestReadingTime(ctx, p.zoneID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to find latest reading: %w", err)
	}
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoData, p.zoneID)
	}
	return latest.UTC(), nil
}

func (p *Processor) emitSentinel(ctx context.Context, meta grid.Meta, reason, ingestID string) error {
	pred := models.Prediction{
		Timestamp:          meta.End,
		ZoneID:             p.zoneID,
		Probability:        models.SentinelProbability,
		ProbabilityPercent: models.SentinelProbability,
		ModelVersion:       p.cfg.ModelVersion,
		SkippedReason:      &reason,
		IngestID:           ingestID,
		TriggeredAt:        p.clock().UTC(),
	}
	if err := p.warehouse.InsertPrediction(ctx, pred); err != nil {
		return fmt.Errorf("failed to insert sentinel prediction: %w", err)
	}
	return nil
}

// loadModel builds a fresh network and restores the saved state over it.
// An unreadable or incompatible snapshot is discarded with a warning.
func (p *Processor) loadModel(ctx context.Context, log *slog.Logger, inputDim int) (*model.MLP, error) {
	net, err := model.New(model.Config{
		Arch:        p.arch,
		Version:     p.cfg.ModelVersion,
		InputDim:    inputDim,
		Hidden:      p.cfg.Hidden,
		LR:          p.cfg.LR,
		WeightDecay: p.cfg.WeightDecay,
		Seed:        p.cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	st, err := p.store.Load(ctx, p.zoneID)
	switch {
	case errors.Is(err, state.ErrCorrupt):
		log.Warn("model_state_discarded", "error", err)
		return net, nil
	case err != nil:
		return nil, err
	case st == nil:
		log.Info("model_state_fresh")
		return net, nil
	}

	if err := net.Restore(st); err != nil {
		log.Warn("model_state_discarded", "error", err)
		return net, nil
	}
	log.Info("model_state_restored", "optimizer_steps", st.Optimizer.Steps)
	return net, nil
}

// resolveBacklog gives every matured prediction exactly one terminal outcome.
// A training step is applied only after its resolution was accepted, so a
// prediction resolved concurrently is never trained on twice.
func (p *Processor) resolveBacklog(ctx context.Context, log *slog.Logger, net *model.MLP, backlog []models.Prediction, readings []models.WideReading, events []models.Intervention) (trained, skipped int, err error) {
	horizon := p.cfg.Horizon()
	steps := p.cfg.RequiredSteps()

	for _, item := range backlog {
		ts := item.Timestamp.UTC()
		res := models.Resolution{
			ZoneID:           p.zoneID,
			Timestamp:        ts,
			LabelWindowStart: ts,
			LabelWindowEnd:   ts.Add(horizon),
		}
		label, hasLabel := grid.FrostLabel(readings, res.LabelWindowStart, res.LabelWindowEnd, p.cfg.ThresholdF)
		if hasLabel {
			res.LabelFrostObserved = &label
		}

		var x features.Vector
		switch {
		case models.CandlesActiveDuring(events, res.LabelWindowStart, res.LabelWindowEnd):
			res.SkippedReason = strPtr(ReasonCandlesDeployed)
		case !hasLabel:
			res.SkippedReason = strPtr(ReasonInsufficientLabelData)
		default:
			histGrid, histMeta := grid.Resample(models.ReadingsUntil(readings, ts), p.cfg.Interval(), ts, steps)
			if reason := p.gate(histMeta, trainingGate); reason != "" {
				res.SkippedReason = &reason
				break
			}
			x, _ = features.Build(histGrid, models.CandlesActiveAt(events, ts), p.params)
			res.TrainedOnLabel = true
		}

		if err := p.warehouse.ResolvePrediction(ctx, res); err != nil {
			if errors.Is(err, warehouse.ErrAlreadyResolved) {
				log.Info("prediction_already_resolved", "prediction_ts", ts)
				continue
			}
			return trained, skipped, fmt.Errorf("failed to resolve prediction %s: %w", ts.Format(time.RFC3339), err)
		}

		if !res.TrainedOnLabel {
			skipped++
			log.Info("backlog_item_skipped", "prediction_ts", ts, "reason", *res.SkippedReason)
			continue
		}

		loss, err := net.TrainStep(x.Float64s(), float64(label))
		if err != nil {
			return trained, skipped, err
		}
		trained++
		if p.observer != nil {
			p.observer.ObserveTrainLoss(loss)
		}
		log.Info("backlog_item_trained", "prediction_ts", ts, "label", label, "loss", loss)
	}
	return trained, skipped, nil
}

func (p *Processor) finish(log *slog.Logger, s models.RunSummary, started time.Time) {
	elapsed := p.clock().Sub(started)
	log.Info("run_summary",
		"anchor", s.Anchor,
		"probability_percent", s.ProbabilityPercent,
		"backlog_trained", s.BacklogTrained,
		"backlog_skipped", s.BacklogSkipped,
		"sentinel", s.Sentinel,
		"skipped_reason", s.SkippedReason,
		"state_saved", s.StateSaved,
		"elapsed", elapsed,
	)
	if p.observer != nil {
		p.observer.ObserveRun(s, elapsed)
	}
}

func strPtr(s string) *string {
	return &s
}
