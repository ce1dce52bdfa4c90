package predictor

import (
	"context"
	"math"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
)

// ValidatorStats is the per-validator view the anomaly scorer consumes.
// Keeping it a plain struct decouples the scorer from the registry type.
type ValidatorStats struct {
	ID         types.ValidatorID
	Reputation float64
	LatencyMS  uint64
}

// LatencyDeviation scores each validator by how far its observed latency sits
// above the population mean, in standard deviations, normalized to [0, 1] at
// sigmaCap deviations. A validator whose reputation has collapsed scores 1
// regardless of latency. Implements types.AnomalyScorer.
type LatencyDeviation struct {
	snapshot func() []ValidatorStats
	sigmaCap float64
}

// NewLatencyDeviation creates a scorer over the given snapshot source.
// sigmaCap <= 0 defaults to 3.
func NewLatencyDeviation(snapshot func() []ValidatorStats, sigmaCap float64) *LatencyDeviation {
	if sigmaCap <= 0 {
		sigmaCap = 3
	}
	return &LatencyDeviation{snapshot: snapshot, sigmaCap: sigmaCap}
}

const collapsedReputation = 0.1

func (d *LatencyDeviation) ScoreValidators(_ context.Context) (map[types.ValidatorID]float64, error) {
	stats := d.snapshot()
	scores := make(map[types.ValidatorID]float64, len(stats))
	if len(stats) == 0 {
		return scores, nil
	}

	var sum float64
	for _, s := range stats {
		sum += float64(s.LatencyMS)
	}
	mean := sum / float64(len(stats))

	var varSum float64
	for _, s := range stats {
		diff := float64(s.LatencyMS) - mean
		varSum += diff * diff
	}
	stddev := math.Sqrt(varSum / float64(len(stats)))

	for _, s := range stats {
		var score float64
		// A lone validator or a uniform population gives no latency baseline.
		if stddev > 0 && len(stats) > 1 {
			dev := (float64(s.LatencyMS) - mean) / stddev
			score = dev / d.sigmaCap
			if score < 0 {
				score = 0
			}
			if score > 1 {
				score = 1
			}
		}
		if s.Reputation <= collapsedReputation {
			score = 1
		}
		scores[s.ID] = score
	}
	return scores, nil
}
