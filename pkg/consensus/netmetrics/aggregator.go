package netmetrics

import (
	"sync"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
)

// DefaultRetention bounds the sample history
const DefaultRetention = 1024

// Aggregator owns the append-only ordered history of network samples.
// Samples are never mutated after append; the history is trimmed from the
// front once it exceeds retention.
type Aggregator struct {
	mu        sync.RWMutex
	samples   []types.NetworkSample
	retention int
	now       func() time.Time
}

// NewAggregator creates an aggregator with the given retention.
// retention <= 0 means DefaultRetention.
func NewAggregator(retention int) *Aggregator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Aggregator{
		retention: retention,
		now:       time.Now,
	}
}

// Record appends one observation. Load is clamped to [0,100] and reliability
// to [0,1]; telemetry producers occasionally report out-of-range values and
// a clamped sample is more useful than a dropped one.
func (a *Aggregator) Record(load uint64, latencyMS uint64, reliability float64) {
	if load > 100 {
		load = 100
	}
	if reliability < 0 {
		reliability = 0
	}
	if reliability > 1 {
		reliability = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = append(a.samples, types.NetworkSample{
		Load:        load,
		LatencyMS:   latencyMS,
		Reliability: reliability,
		ObservedAt:  a.now(),
	})
	if len(a.samples) > a.retention {
		// trim from the front, keeping the backing array bounded
		trimmed := make([]types.NetworkSample, a.retention)
		copy(trimmed, a.samples[len(a.samples)-a.retention:])
		a.samples = trimmed
	}
}

// Window returns a copy of the most recent n samples (all, if n <= 0 or
// exceeds the history).
func (a *Aggregator) Window(n int) []types.NetworkSample {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n <= 0 || n > len(a.samples) {
		n = len(a.samples)
	}
	out := make([]types.NetworkSample, n)
	copy(out, a.samples[len(a.samples)-n:])
	return out
}

// Len returns the current history length
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.samples)
}
