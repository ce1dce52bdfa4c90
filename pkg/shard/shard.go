package shard

import (
	"errors"
	"sync"

	"github.com/Hamida-ai/BLEEP-V1/pkg/block"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
)

var (
	ErrInvalidShard       = errors.New("shard: invalid shard id")
	ErrNoShards           = errors.New("shard: no shards available")
	ErrRebalanceRejected  = errors.New("shard: rebalance gate rejected move")
	ErrMoveDecryptFailed  = errors.New("shard: decrypt under target context failed")
	ErrNothingToMove      = errors.New("shard: source queue empty")
	ErrSameShard          = errors.New("shard: source and target are the same shard")
	ErrHeadReserved       = errors.New("shard: queue head reserved for finalization")
)

// Shard is one partition of pending transactions with its own chain and
// security context. The pending queue is FIFO and owned exclusively by the
// shard's worker; cross-shard access goes through the Rebalancer's move
// protocol only.
type Shard struct {
	id     uint64
	cipher types.ShardCipher
	chain  *block.Chain

	mu       sync.Mutex
	pending  []state.Transaction
	reserved int // queue prefix claimed by an in-flight finalization
}

// NewShard creates an empty shard
func NewShard(id uint64, cipher types.ShardCipher) *Shard {
	return &Shard{
		id:     id,
		cipher: cipher,
		chain:  block.NewChain(),
	}
}

func (s *Shard) ID() uint64          { return s.id }
func (s *Shard) Chain() *block.Chain { return s.chain }

// Load reports the pending queue length. The load invariant holds by
// construction: there is no separate counter to drift.
func (s *Shard) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Append admits a transaction at the queue tail
func (s *Shard) Append(tx state.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, tx)
}

// Pending returns a copy of the queue in FIFO order
func (s *Shard) Pending() []state.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]state.Transaction, len(s.pending))
	copy(out, s.pending)
	return out
}

// PopN removes and returns up to n transactions from the queue head.
// Called after the prefix was finalized into a block.
func (s *Shard) PopN(n int) []state.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.pending) {
		n = len(s.pending)
	}
	out := make([]state.Transaction, n)
	copy(out, s.pending[:n])
	s.pending = append(s.pending[:0:0], s.pending[n:]...)
	return out
}

// Reserve claims the queue prefix matching txs for finalization. While a
// reservation is held the prefix cannot be rebalanced away, so the block
// built from it pops exactly the transactions it finalized. Reserve fails
// when another reservation is active or the queue head no longer matches
// the snapshot txs was built from.
func (s *Shard) Reserve(txs []state.Transaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved > 0 || len(txs) == 0 || len(txs) > len(s.pending) {
		return false
	}
	for i := range txs {
		if s.pending[i].ID != txs[i].ID {
			return false
		}
	}
	s.reserved = len(txs)
	return true
}

// Release drops the reservation without removing anything; called after an
// aborted finalization so the prefix becomes movable again.
func (s *Shard) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved = 0
}

// PopReserved removes and returns the reserved prefix once it was
// finalized into a block, clearing the reservation.
func (s *Shard) PopReserved() []state.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.reserved
	s.reserved = 0
	out := make([]state.Transaction, n)
	copy(out, s.pending[:n])
	s.pending = append(s.pending[:0:0], s.pending[n:]...)
	return out
}

// replacePending swaps the queue wholesale; used by checkpoint restore
func (s *Shard) replacePending(txs []state.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = txs
}
