package engine

import (
	"context"
	"fmt"

	"github.com/Hamida-ai/BLEEP-V1/pkg/block"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// runPBFT finalizes through leader proposal plus two quorum-gated vote
// phases. Quorum is ceil(0.66*N) over the active validator set for both the
// prepare and the commit phase.
func (e *Engine) runPBFT(ctx context.Context, chain *block.Chain, b *block.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := e.registry.ActiveValidators()
	leader := highestStake(snapshot, e.cfg.PBFTLeaderMinReputation)
	if leader == nil {
		return fmt.Errorf("%w: no active validator above reputation %.2f", ErrNoEligibleLeader, e.cfg.PBFTLeaderMinReputation)
	}

	if !e.network.BroadcastProposal(ctx, b, leader.ID) {
		return fmt.Errorf("%w: leader %s", ErrBroadcastRejected, leader.ID)
	}

	hash := b.HeaderHash()
	n := len(snapshot)

	e.setState(types.StateAwaitingPrepare)
	if err := e.votePhase(ctx, b, hash, types.PhasePrepare, n); err != nil {
		return err
	}

	e.setState(types.StateAwaitingCommit)
	if err := e.votePhase(ctx, b, hash, types.PhaseCommit, n); err != nil {
		return err
	}

	if err := e.signAndAppend(chain, b, leader.ID); err != nil {
		return err
	}
	if e.log != nil {
		e.log.DebugContext(ctx, "pbft committed block",
			utils.ZapString("leader_id", string(leader.ID)),
			utils.ZapUint64("index", b.Index),
			utils.ZapInt("validators", n))
	}
	return nil
}

// votePhase collects one phase's votes under the phase timeout and checks
// quorum. The vote set is ephemeral: discarded as soon as the phase resolves.
func (e *Engine) votePhase(ctx context.Context, b *block.Block, hash types.BlockHash, phase types.VotePhase, n int) error {
	phaseCtx := ctx
	if e.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, e.cfg.PhaseTimeout)
		defer cancel()
	}

	raw, err := e.network.CollectVotes(phaseCtx, b, phase)
	if err != nil {
		// an expired phase aborts the attempt; a cancelled parent propagates
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s phase: %v", ErrQuorumNotReached, phase, err)
	}

	votes := e.quorum.FilterVotes(raw, e.registry.ActiveValidators())
	if !e.quorum.HasQuorum(hash, phase, votes, n) {
		return fmt.Errorf("%w: %s phase: %d/%d votes, need %d",
			ErrQuorumNotReached, phase, len(votes), n, e.quorum.Threshold(n))
	}
	return nil
}
