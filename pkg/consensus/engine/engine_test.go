package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/block"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/netmetrics"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
)

type stubNetwork struct {
	broadcastOK bool
	votes       map[types.VotePhase]map[types.ValidatorID]struct{}
	hashrate    uint64
	collectErr  error
}

func (n *stubNetwork) BroadcastProposal(ctx context.Context, b types.Block, leader types.ValidatorID) bool {
	return n.broadcastOK
}

func (n *stubNetwork) CollectVotes(ctx context.Context, b types.Block, phase types.VotePhase) (map[types.ValidatorID]struct{}, error) {
	if n.collectErr != nil {
		return nil, n.collectErr
	}
	out := make(map[types.ValidatorID]struct{})
	for id := range n.votes[phase] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (n *stubNetwork) NetworkHashrate() uint64 { return n.hashrate }

type fixedPredictor struct{ reliability float64 }

func (p *fixedPredictor) PredictReliability(samples []types.NetworkSample) (float64, error) {
	return p.reliability, nil
}

func testRegistry(t *testing.T) *validator.Registry {
	t.Helper()
	r := validator.NewRegistry(nil, nil)
	for _, v := range []validator.Validator{
		{ID: "v1", Reputation: 0.8, Stake: 1000, Active: true},
		{ID: "v2", Reputation: 0.6, Stake: 750, Active: true},
		{ID: "v3", Reputation: 0.9, Stake: 1500, Active: true},
	} {
		if err := r.Register(v); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func testSelector(mode types.ConsensusMode, reliability float64) (*netmetrics.Selector, *netmetrics.Aggregator) {
	agg := netmetrics.NewAggregator(0)
	sel := netmetrics.NewSelector(netmetrics.SelectorConfig{InitialMode: mode}, agg, &fixedPredictor{reliability: reliability}, nil)
	return sel, agg
}

func testBlock(chain *block.Chain) *block.Block {
	txs := []state.Transaction{state.NewTransaction("alice", "bob", 10, time.Unix(1700000000, 0))}
	var prev types.BlockHash
	if head := chain.Head(); head != nil {
		prev = head.HeaderHash()
	}
	return block.New(chain.NextIndex(), prev, txs, time.Unix(1700000100, 0))
}

func allVotes(ids ...types.ValidatorID) map[types.VotePhase]map[types.ValidatorID]struct{} {
	votes := make(map[types.VotePhase]map[types.ValidatorID]struct{})
	for _, phase := range []types.VotePhase{types.PhasePrepare, types.PhaseCommit} {
		votes[phase] = make(map[types.ValidatorID]struct{})
		for _, id := range ids {
			votes[phase][id] = struct{}{}
		}
	}
	return votes
}

func TestQuorumThresholdArithmetic(t *testing.T) {
	qv := NewQuorumVerifier(nil)
	cases := map[int]int{1: 1, 3: 2, 4: 3, 10: 7, 100: 66}
	for n, want := range cases {
		if got := qv.Threshold(n); got != want {
			t.Errorf("Threshold(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestPoSFinalizesWithTopStaker(t *testing.T) {
	reg := testRegistry(t)
	sel, _ := testSelector(types.ModePoS, 0.95)
	net := &stubNetwork{}
	e := New(DefaultConfig(), reg, sel, net, nil, nil, nil, nil)
	chain := block.NewChain()

	if err := e.FinalizeBlock(context.Background(), chain, testBlock(chain)); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if chain.Height() != 1 {
		t.Fatalf("height = %d, want 1", chain.Height())
	}
	if e.State() != types.StateFinalized {
		t.Fatalf("state = %v, want finalized", e.State())
	}
	// v3 (stake 1500, rep 0.9) sealed the block
	v3, _ := reg.Get("v3")
	if v3.LastFinalizedBlock != 0 {
		t.Fatalf("v3 last finalized = %d, want 0", v3.LastFinalizedBlock)
	}
}

func TestPoSAbortsWhenTopStakerBelowBar(t *testing.T) {
	reg := validator.NewRegistry(nil, nil)
	// top staker has reputation below 0.8
	_ = reg.Register(validator.Validator{ID: "low", Reputation: 0.5, Stake: 9000, Active: true})
	sel, agg := testSelector(types.ModePoS, 0.95) // re-selection keeps PoS
	agg.Record(10, 10, 0.95)
	e := New(DefaultConfig(), reg, sel, &stubNetwork{}, nil, nil, nil, nil)
	chain := block.NewChain()

	err := e.FinalizeBlock(context.Background(), chain, testBlock(chain))
	if !errors.Is(err, ErrFinalizationFailed) {
		t.Fatalf("expected ErrFinalizationFailed, got %v", err)
	}
	if chain.Height() != 0 {
		t.Fatal("aborted attempt must not append")
	}
}

func TestPBFTFinalizesWithQuorum(t *testing.T) {
	reg := testRegistry(t)
	sel, _ := testSelector(types.ModePBFT, 0.7)
	// v1 (0.8) and v3 (0.9) clear the 0.75 voter bar: 2 of 3 = quorum
	net := &stubNetwork{broadcastOK: true, votes: allVotes("v1", "v3")}
	e := New(DefaultConfig(), reg, sel, net, nil, nil, nil, nil)
	chain := block.NewChain()

	if err := e.FinalizeBlock(context.Background(), chain, testBlock(chain)); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if chain.Height() != 1 {
		t.Fatalf("height = %d, want 1", chain.Height())
	}
}

func TestPBFTIneligibleVotesDiscarded(t *testing.T) {
	reg := testRegistry(t)
	sel, agg := testSelector(types.ModePBFT, 0.7)
	agg.Record(60, 40, 0.7)
	// v2's reputation 0.6 is below the voter bar; an unknown id never counts
	net := &stubNetwork{broadcastOK: true, votes: allVotes("v1", "v2", "ghost")}
	e := New(DefaultConfig(), reg, sel, net, nil, nil, nil, nil)
	chain := block.NewChain()

	err := e.FinalizeBlock(context.Background(), chain, testBlock(chain))
	if !errors.Is(err, ErrFinalizationFailed) {
		t.Fatalf("expected ErrFinalizationFailed, got %v", err)
	}
}

func TestPBFTBroadcastRejectedAborts(t *testing.T) {
	reg := testRegistry(t)
	sel, agg := testSelector(types.ModePBFT, 0.7)
	agg.Record(60, 40, 0.7)
	net := &stubNetwork{broadcastOK: false}
	e := New(DefaultConfig(), reg, sel, net, nil, nil, nil, nil)
	chain := block.NewChain()

	err := e.FinalizeBlock(context.Background(), chain, testBlock(chain))
	if !errors.Is(err, ErrFinalizationFailed) {
		t.Fatalf("expected ErrFinalizationFailed, got %v", err)
	}
}

func TestAbortRetriesUnderReselectedMode(t *testing.T) {
	// PBFT aborts (no votes), re-selection sees reliability 0.95 -> PoS succeeds
	reg := testRegistry(t)
	agg := netmetrics.NewAggregator(0)
	agg.Record(30, 20, 0.95)
	sel := netmetrics.NewSelector(netmetrics.SelectorConfig{InitialMode: types.ModePBFT}, agg, &fixedPredictor{reliability: 0.95}, nil)
	net := &stubNetwork{broadcastOK: true} // no votes at all
	e := New(DefaultConfig(), reg, sel, net, nil, nil, nil, nil)
	chain := block.NewChain()

	if err := e.FinalizeBlock(context.Background(), chain, testBlock(chain)); err != nil {
		t.Fatalf("retry under PoS should finalize, got %v", err)
	}
	if sel.Current() != types.ModePoS {
		t.Fatalf("mode = %v, want pos after re-selection", sel.Current())
	}
	if chain.Height() != 1 {
		t.Fatal("block not appended")
	}
}

func TestPoWSealsAndRaisesDifficulty(t *testing.T) {
	reg := testRegistry(t)
	sel, _ := testSelector(types.ModePoW, 0.3)
	net := &stubNetwork{hashrate: 1000}
	cfg := DefaultConfig()
	cfg.PoWMinDifficulty = 1
	cfg.PoWInitialDifficulty = 1
	e := New(cfg, reg, sel, net, nil, nil, nil, nil)
	chain := block.NewChain()

	b := testBlock(chain)
	if err := e.FinalizeBlock(context.Background(), chain, b); err != nil {
		t.Fatalf("pow finalize failed: %v", err)
	}
	if got := b.PoWDigest(b.Nonce); got[0] != '0' {
		t.Fatalf("sealed digest %q has no zero prefix", got)
	}
	if e.Difficulty() != 2 {
		t.Fatalf("difficulty = %d, want 2 after high hashrate", e.Difficulty())
	}
}

func TestPoWExhaustionAborts(t *testing.T) {
	reg := testRegistry(t)
	sel, agg := testSelector(types.ModePoW, 0.3)
	agg.Record(90, 100, 0.3)
	cfg := DefaultConfig()
	cfg.PoWInitialDifficulty = 16 // unreachable
	cfg.PoWMaxAttempts = 64
	e := New(cfg, reg, sel, &stubNetwork{}, nil, nil, nil, nil)
	chain := block.NewChain()

	err := e.FinalizeBlock(context.Background(), chain, testBlock(chain))
	if !errors.Is(err, ErrFinalizationFailed) {
		t.Fatalf("expected ErrFinalizationFailed, got %v", err)
	}
	if e.State() != types.StateAborted {
		t.Fatalf("state = %v, want aborted", e.State())
	}
}

func TestCancelledContextPropagatesWithoutRetry(t *testing.T) {
	reg := testRegistry(t)
	sel, _ := testSelector(types.ModePoW, 0.3)
	cfg := DefaultConfig()
	cfg.PoWInitialDifficulty = 16
	e := New(cfg, reg, sel, &stubNetwork{}, nil, nil, nil, nil)
	chain := block.NewChain()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.FinalizeBlock(ctx, chain, testBlock(chain))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRoundAdjustmentRunsAfterFinalize(t *testing.T) {
	reg := testRegistry(t)
	sel, _ := testSelector(types.ModePoS, 0.95)
	e := New(DefaultConfig(), reg, sel, &stubNetwork{}, nil, nil, nil, nil)
	chain := block.NewChain()

	if err := e.FinalizeBlock(context.Background(), chain, testBlock(chain)); err != nil {
		t.Fatal(err)
	}
	// all three validators have large positive scores -> reward branch
	v1, _ := reg.Get("v1")
	if v1.Stake != 1050.0 {
		t.Fatalf("v1 stake = %v, want 1050 after reward round", v1.Stake)
	}
}
