package shard

import (
	"context"
	"fmt"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Rebalancer moves pending transactions between shards with at-most-once
// semantics: a transaction is removed from the source only after it
// round-trips cleanly through the target shard's security context. A failed
// move leaves the source untouched; never lose, never duplicate.
type Rebalancer struct {
	log   *utils.Logger
	audit types.AuditLogger
}

// NewRebalancer creates a rebalancer
func NewRebalancer(log *utils.Logger, audit types.AuditLogger) *Rebalancer {
	return &Rebalancer{log: log, audit: audit}
}

// MoveOne transfers the oldest pending transaction from source to target.
// Both queues are locked in id order for the duration of the move so no
// other code can observe a transaction in both shards or in neither. A
// source whose head is reserved for finalization is refused; the move is
// retried on a later cycle.
func (r *Rebalancer) MoveOne(ctx context.Context, source, target *Shard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if source.ID() == target.ID() {
		return ErrSameShard
	}

	first, second := source, target
	if second.ID() < first.ID() {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if len(source.pending) == 0 {
		return ErrNothingToMove
	}
	if source.reserved > 0 {
		return ErrHeadReserved
	}
	tx := source.pending[0]

	moved, err := r.reencryptForTarget(tx, target)
	if err != nil {
		// recoverable: the transaction stays at the front of the source queue
		if r.log != nil {
			r.log.WarnContext(ctx, "rebalance move failed, transaction retained",
				utils.ZapUint64("source_shard", source.ID()),
				utils.ZapUint64("target_shard", target.ID()),
				utils.ZapString("tx_id", tx.ID),
				utils.ZapError(err))
		}
		return fmt.Errorf("%w: %v", ErrMoveDecryptFailed, err)
	}

	target.pending = append(target.pending, moved)
	source.pending = append(source.pending[:0:0], source.pending[1:]...)

	if r.log != nil {
		r.log.DebugContext(ctx, "transaction rebalanced",
			utils.ZapUint64("source_shard", source.ID()),
			utils.ZapUint64("target_shard", target.ID()),
			utils.ZapString("tx_id", tx.ID))
	}
	return nil
}

// reencryptForTarget re-encrypts the transaction under the target shard's
// security context and validates it decrypts cleanly there. Only the
// validated decryption result is admitted to the target queue.
func (r *Rebalancer) reencryptForTarget(tx state.Transaction, target *Shard) (state.Transaction, error) {
	plain, err := state.EncodeTransaction(tx)
	if err != nil {
		return state.Transaction{}, err
	}
	sealed, err := target.cipher.Encrypt(plain)
	if err != nil {
		return state.Transaction{}, err
	}
	opened, err := target.cipher.Decrypt(sealed)
	if err != nil {
		return state.Transaction{}, err
	}
	decoded, err := state.DecodeTransaction(opened)
	if err != nil {
		return state.Transaction{}, err
	}
	if decoded.ContentHash() != tx.ContentHash() {
		return state.Transaction{}, state.ErrHashMismatch
	}
	return decoded, nil
}
