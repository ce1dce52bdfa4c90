package predictor

import (
	"context"
	"testing"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
)

func statsSource(stats []ValidatorStats) func() []ValidatorStats {
	return func() []ValidatorStats { return stats }
}

func TestLatencyDeviationFlagsOutlier(t *testing.T) {
	d := NewLatencyDeviation(statsSource([]ValidatorStats{
		{ID: "v1", Reputation: 0.9, LatencyMS: 50},
		{ID: "v2", Reputation: 0.9, LatencyMS: 55},
		{ID: "v3", Reputation: 0.9, LatencyMS: 45},
		{ID: "v4", Reputation: 0.9, LatencyMS: 5000},
	}), 0)

	scores, err := d.ScoreValidators(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if scores["v4"] < 0.5 {
		t.Fatalf("outlier score = %v, want >= 0.5", scores["v4"])
	}
	for _, id := range []types.ValidatorID{"v1", "v2", "v3"} {
		if scores[id] > 0.1 {
			t.Fatalf("validator %s score = %v, want near zero", id, scores[id])
		}
	}
}

func TestLatencyDeviationCollapsedReputation(t *testing.T) {
	d := NewLatencyDeviation(statsSource([]ValidatorStats{
		{ID: "good", Reputation: 0.9, LatencyMS: 50},
		{ID: "bad", Reputation: 0.05, LatencyMS: 50},
	}), 0)

	scores, err := d.ScoreValidators(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if scores["bad"] != 1 {
		t.Fatalf("collapsed validator score = %v, want 1", scores["bad"])
	}
}

func TestLatencyDeviationUniformPopulation(t *testing.T) {
	d := NewLatencyDeviation(statsSource([]ValidatorStats{
		{ID: "v1", Reputation: 0.9, LatencyMS: 100},
		{ID: "v2", Reputation: 0.9, LatencyMS: 100},
	}), 0)

	scores, err := d.ScoreValidators(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for id, score := range scores {
		if score != 0 {
			t.Fatalf("validator %s score = %v, want 0", id, score)
		}
	}
}

func TestLatencyDeviationEmptySnapshot(t *testing.T) {
	d := NewLatencyDeviation(statsSource(nil), 0)
	scores, err := d.ScoreValidators(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 0 {
		t.Fatalf("expected empty score map, got %d entries", len(scores))
	}
}
