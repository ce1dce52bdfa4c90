package wiring

import (
	"sync/atomic"
	"time"
)

// Metrics tracks node-level events across the workers
type Metrics struct {
	BlocksFinalized       uint64
	FinalizationsAborted  uint64
	TransactionsFinalized uint64
	TransactionsAssigned  uint64

	ModeChanges      uint64
	RebalanceCycles  uint64
	AnomaliesFlagged uint64

	SnapshotWrites uint64
	SnapshotErrors uint64

	LastFinalizeDuration int64 // nanoseconds
	LastFinalizedIndex   uint64
}

func (m *Metrics) IncrementBlocksFinalized() {
	atomic.AddUint64(&m.BlocksFinalized, 1)
}

func (m *Metrics) IncrementFinalizationsAborted() {
	atomic.AddUint64(&m.FinalizationsAborted, 1)
}

func (m *Metrics) AddTransactionsFinalized(count uint64) {
	atomic.AddUint64(&m.TransactionsFinalized, count)
}

func (m *Metrics) IncrementTransactionsAssigned() {
	atomic.AddUint64(&m.TransactionsAssigned, 1)
}

func (m *Metrics) IncrementModeChanges() {
	atomic.AddUint64(&m.ModeChanges, 1)
}

func (m *Metrics) IncrementRebalanceCycles() {
	atomic.AddUint64(&m.RebalanceCycles, 1)
}

func (m *Metrics) IncrementAnomaliesFlagged() {
	atomic.AddUint64(&m.AnomaliesFlagged, 1)
}

func (m *Metrics) IncrementSnapshotWrites() {
	atomic.AddUint64(&m.SnapshotWrites, 1)
}

func (m *Metrics) IncrementSnapshotErrors() {
	atomic.AddUint64(&m.SnapshotErrors, 1)
}

func (m *Metrics) RecordFinalizeDuration(d time.Duration) {
	atomic.StoreInt64(&m.LastFinalizeDuration, d.Nanoseconds())
}

func (m *Metrics) UpdateLastFinalizedIndex(index uint64) {
	atomic.StoreUint64(&m.LastFinalizedIndex, index)
}

// GetSnapshot returns a point-in-time copy of all counters
func (m *Metrics) GetSnapshot() Metrics {
	return Metrics{
		BlocksFinalized:       atomic.LoadUint64(&m.BlocksFinalized),
		FinalizationsAborted:  atomic.LoadUint64(&m.FinalizationsAborted),
		TransactionsFinalized: atomic.LoadUint64(&m.TransactionsFinalized),
		TransactionsAssigned:  atomic.LoadUint64(&m.TransactionsAssigned),
		ModeChanges:           atomic.LoadUint64(&m.ModeChanges),
		RebalanceCycles:       atomic.LoadUint64(&m.RebalanceCycles),
		AnomaliesFlagged:      atomic.LoadUint64(&m.AnomaliesFlagged),
		SnapshotWrites:        atomic.LoadUint64(&m.SnapshotWrites),
		SnapshotErrors:        atomic.LoadUint64(&m.SnapshotErrors),
		LastFinalizeDuration:  atomic.LoadInt64(&m.LastFinalizeDuration),
		LastFinalizedIndex:    atomic.LoadUint64(&m.LastFinalizedIndex),
	}
}
