package processor

import (
	"fmt"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/grid"
)

// Skip reasons written to resolved or sentinel predictions. Gate reasons are
// "<prefix>:<detail>" so they can be grouped by prefix.
const (
	ReasonCandlesDeployed       = "frost candles deployed"
	ReasonInsufficientLabelData = "insufficient_label_data"

	PrefixInsufficientPoints            = "insufficient_real_points"
	PrefixGapTooLargeForPrediction      = "gap_too_large_for_prediction"
	PrefixInsufficientPointsForTraining = "insufficient_real_points_for_training"
	PrefixGapTooLargeForTraining        = "gap_too_large_for_training"
)

// coverageReason renders e.g. "insufficient_real_points:real_250_of_288(86.8%)".
func coverageReason(prefix string, m grid.Meta) string {
	return fmt.Sprintf("%s:real_%d_of_%d(%.1f%%)", prefix, m.RealPoints, m.NeededPoints, m.CoveragePct)
}

func gapReason(prefix string, m grid.Meta, maxGapBins int) string {
	return fmt.Sprintf("%s:max_gap_%d_bins(%dmin)_exceeds_%d_bins_needed_%d_real_%d(%.1f%%)",
		prefix, m.MaxGapBins, m.MaxGapMinutes, maxGapBins, m.NeededPoints, m.RealPoints, m.CoveragePct)
}

type gatePrefixes struct {
	coverage, gap string
}

var (
	liveGate     = gatePrefixes{coverage: PrefixInsufficientPoints, gap: PrefixGapTooLargeForPrediction}
	trainingGate = gatePrefixes{coverage: PrefixInsufficientPointsForTraining, gap: PrefixGapTooLargeForTraining}
)

// gate returns a non-empty reason when m fails the coverage or gap limit.
func (p *Processor) gate(m grid.Meta, prefixes gatePrefixes) string {
	if m.Coverage < p.cfg.CoverageThreshold {
		return coverageReason(prefixes.coverage, m)
	}
	if m.MaxGapBins > p.cfg.MaxGapBins {
		return gapReason(prefixes.gap, m, p.cfg.MaxGapBins)
	}
	return ""
}
