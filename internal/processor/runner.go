package processor

import (
	"context"
	"sync"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
)

// Runner serialises runs of one Processor across triggers (schedule, Kafka,
// HTTP) and keeps the latest summary.
type Runner struct {
	proc *Processor

	mu sync.Mutex

	latestMu sync.RWMutex
	latest   *models.RunSummary

	onSummary func(models.RunSummary)
	onError   func(error)
}

// NewRunner wraps p. onSummary and onError may be nil.
func NewRunner(p *Processor, onSummary func(models.RunSummary), onError func(error)) *Runner {
	return &Runner{proc: p, onSummary: onSummary, onError: onError}
}

// Run blocks until any in-flight run has finished, then runs inv.
func (r *Runner) Run(ctx context.Context, inv Invocation) (models.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.proc.Run(ctx, inv)
	if err != nil {
		if r.onError != nil {
			r.onError(err)
		}
		return s, err
	}

	r.latestMu.Lock()
	r.latest = &s
	r.latestMu.Unlock()

	if r.onSummary != nil {
		r.onSummary(s)
	}
	return s, nil
}

// Latest returns the summary of the last successful run.
func (r *Runner) Latest() (models.RunSummary, bool) {
	r.latestMu.RLock()
	defer r.latestMu.RUnlock()
	if r.latest == nil {
		return models.RunSummary{}, false
	}
	return *r.latest, true
}
