package predictor

import (
	"errors"
	"math"
	"sort"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
)

var (
	ErrNoSamples = errors.New("predictor: no samples")
	ErrNoShards  = errors.New("predictor: no shards")
)

// KNNReliability scores the network by k-nearest-neighbour regression over
// the sample history: neighbours of the latest load observation vote with
// their recorded reliability. It is deliberately simple; any other model can
// replace it behind types.ReliabilityPredictor.
type KNNReliability struct {
	K int
}

// NewKNNReliability creates a predictor with the given neighbour count
// (default 3).
func NewKNNReliability(k int) *KNNReliability {
	if k <= 0 {
		k = 3
	}
	return &KNNReliability{K: k}
}

func (p *KNNReliability) PredictReliability(samples []types.NetworkSample) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrNoSamples
	}
	latest := samples[len(samples)-1]

	type neighbour struct {
		dist        float64
		reliability float64
	}
	neighbours := make([]neighbour, 0, len(samples))
	for _, s := range samples {
		d := math.Abs(float64(s.Load) - float64(latest.Load))
		neighbours = append(neighbours, neighbour{dist: d, reliability: s.Reliability})
	}
	sort.Slice(neighbours, func(i, j int) bool { return neighbours[i].dist < neighbours[j].dist })

	k := p.K
	if k > len(neighbours) {
		k = len(neighbours)
	}
	var sum float64
	for i := 0; i < k; i++ {
		sum += neighbours[i].reliability
	}
	return sum / float64(k), nil
}

// MinLoadShard picks the least-loaded shard, ties broken by lowest shard id.
// Implements types.ShardLoadPredictor.
type MinLoadShard struct{}

func (MinLoadShard) PredictLeastLoaded(loads map[uint64]int) (uint64, error) {
	if len(loads) == 0 {
		return 0, ErrNoShards
	}
	ids := make([]uint64, 0, len(loads))
	for id := range loads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	best := ids[0]
	for _, id := range ids[1:] {
		if loads[id] < loads[best] {
			best = id
		}
	}
	return best, nil
}
