package p2p

import (
	"context"
	"sync/atomic"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
)

// LoopbackNetwork is the single-node transport: proposals are accepted
// locally and votes are synthesized from the registry's eligible voters.
// Used for development runs and in nodes started without bootstrap peers.
type LoopbackNetwork struct {
	registry      *validator.Registry
	voterMinRep   float64
	localHashrate atomic.Uint64
}

// NewLoopbackNetwork creates a loopback transport over the given registry
func NewLoopbackNetwork(registry *validator.Registry, voterMinRep float64) *LoopbackNetwork {
	if voterMinRep <= 0 {
		voterMinRep = 0.75
	}
	return &LoopbackNetwork{registry: registry, voterMinRep: voterMinRep}
}

// BroadcastProposal accepts every locally produced proposal
func (n *LoopbackNetwork) BroadcastProposal(ctx context.Context, _ types.Block, _ types.ValidatorID) bool {
	return ctx.Err() == nil
}

// CollectVotes synthesizes a vote from every active validator above the
// voter reputation floor.
func (n *LoopbackNetwork) CollectVotes(ctx context.Context, _ types.Block, _ types.VotePhase) (map[types.ValidatorID]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	votes := make(map[types.ValidatorID]struct{})
	for _, v := range n.registry.ActiveValidators() {
		if v.Reputation > n.voterMinRep {
			votes[v.ID] = struct{}{}
		}
	}
	return votes, nil
}

// NetworkHashrate reports the locally observed hashrate
func (n *LoopbackNetwork) NetworkHashrate() uint64 {
	return n.localHashrate.Load()
}

// SetHashrate updates the local hashrate observation
func (n *LoopbackNetwork) SetHashrate(v uint64) {
	n.localHashrate.Store(v)
}
