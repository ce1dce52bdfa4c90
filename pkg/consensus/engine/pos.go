package engine

import (
	"context"
	"fmt"

	"github.com/Hamida-ai/BLEEP-V1/pkg/block"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// runPoS finalizes by stake weight: the highest-stake active validator seals
// the block directly, provided its reputation clears the bar.
func (e *Engine) runPoS(ctx context.Context, chain *block.Chain, b *block.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := e.registry.ActiveValidators()
	top := highestStake(snapshot, 0) // stake decides; reputation checked after
	if top == nil {
		return fmt.Errorf("%w: empty active set", ErrNoEligibleLeader)
	}
	if top.Reputation <= e.cfg.PoSMinReputation {
		return fmt.Errorf("%w: top staker %s reputation %.3f below bar", ErrNoEligibleLeader, top.ID, top.Reputation)
	}

	if err := e.signAndAppend(chain, b, top.ID); err != nil {
		return err
	}
	if e.log != nil {
		e.log.DebugContext(ctx, "pos sealed block",
			utils.ZapString("validator_id", string(top.ID)),
			utils.ZapUint64("index", b.Index))
	}
	return nil
}

// highestStake returns the highest-stake validator whose reputation exceeds
// minReputation, or nil. Ties resolve to the lexicographically smallest id
// because the snapshot arrives id-sorted.
func highestStake(snapshot []validator.Validator, minReputation float64) *validator.Validator {
	var best *validator.Validator
	for i := range snapshot {
		v := &snapshot[i]
		if v.Reputation <= minReputation {
			continue
		}
		if best == nil || v.Stake > best.Stake {
			best = v
		}
	}
	return best
}
