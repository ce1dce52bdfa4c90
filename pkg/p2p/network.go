package p2p

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// VoterDirectory resolves a validator's registered public key. Votes whose
// key does not match the directory entry are discarded.
type VoterDirectory interface {
	PublicKeyOf(id types.ValidatorID) ([]byte, bool)
}

// MemberCounter reports the current active validator count, used to stop
// vote collection as soon as a quorum-sized set has arrived.
type MemberCounter interface {
	Count() int
}

type tallyKey struct {
	hash  types.BlockHash
	phase types.VotePhase
}

type voteSet struct {
	mu    sync.Mutex
	votes map[types.ValidatorID]struct{}
}

func (vs *voteSet) add(id types.ValidatorID) {
	vs.mu.Lock()
	vs.votes[id] = struct{}{}
	vs.mu.Unlock()
}

func (vs *voteSet) snapshot() map[types.ValidatorID]struct{} {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make(map[types.ValidatorID]struct{}, len(vs.votes))
	for id := range vs.votes {
		out[id] = struct{}{}
	}
	return out
}

func (vs *voteSet) size() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.votes)
}

// GossipNetwork implements the consensus core's transport over gossipsub.
// Incoming votes are tallied per block hash and phase; tallies expire on
// their own so an abandoned attempt leaves no residue.
type GossipNetwork struct {
	router  *Router
	signer  types.Signer
	selfID  types.ValidatorID
	keys    VoterDirectory
	members MemberCounter
	log     *utils.Logger

	tallyMu  sync.Mutex
	tallies  *expirable.LRU[tallyKey, *voteSet]
	hashrate atomic.Uint64
}

// NewGossipNetwork wires the vote transport onto a router. The router must
// outlive the network.
func NewGossipNetwork(router *Router, signer types.Signer, selfID types.ValidatorID, keys VoterDirectory, members MemberCounter, log *utils.Logger) (*GossipNetwork, error) {
	n := &GossipNetwork{
		router:  router,
		signer:  signer,
		selfID:  selfID,
		keys:    keys,
		members: members,
		log:     log,
		tallies: expirable.NewLRU[tallyKey, *voteSet](256, nil, 2*time.Minute),
	}
	if err := router.Subscribe(TopicVote, n.handleVote); err != nil {
		return nil, err
	}
	if err := router.Subscribe(TopicProposal, nil); err != nil {
		return nil, err
	}
	return n, nil
}

// BroadcastProposal publishes the signed block proposal. A false return
// aborts the attempt at the engine level.
func (n *GossipNetwork) BroadcastProposal(ctx context.Context, blk types.Block, leader types.ValidatorID) bool {
	blockData, err := utils.Encode(blk)
	if err != nil {
		n.warn(ctx, "proposal encode failed", err)
		return false
	}
	msg := ProposalMsg{
		LeaderID:  string(leader),
		BlockData: blockData,
		PubKey:    n.signer.PublicKey(),
	}
	msg.Signature, err = n.signer.Sign(msg.SigningBytes())
	if err != nil {
		n.warn(ctx, "proposal signing failed", err)
		return false
	}
	data, err := utils.Encode(msg)
	if err != nil {
		n.warn(ctx, "proposal envelope encode failed", err)
		return false
	}
	if err := n.router.Publish(ctx, TopicProposal, data); err != nil {
		n.warn(ctx, "proposal publish failed", err)
		return false
	}
	return true
}

// CollectVotes casts this node's own vote, then gathers peer votes until a
// quorum-sized set arrives or the phase context expires. The accumulated
// set is returned either way; the engine applies eligibility and quorum.
func (n *GossipNetwork) CollectVotes(ctx context.Context, blk types.Block, phase types.VotePhase) (map[types.ValidatorID]struct{}, error) {
	hash := blk.GetHash()
	key := tallyKey{hash: hash, phase: phase}
	vs := n.tally(key)

	if err := n.castVote(ctx, hash, phase, vs); err != nil {
		n.warn(ctx, "own vote failed", err)
	}

	target := n.quorumTarget()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if target > 0 && vs.size() >= target {
			return vs.snapshot(), nil
		}
		select {
		case <-ctx.Done():
			return vs.snapshot(), nil
		case <-ticker.C:
		}
	}
}

// NetworkHashrate reports the observed network hashrate in H/s
func (n *GossipNetwork) NetworkHashrate() uint64 {
	return n.hashrate.Load()
}

// SetHashrate updates the hashrate observation from telemetry
func (n *GossipNetwork) SetHashrate(v uint64) {
	n.hashrate.Store(v)
}

func (n *GossipNetwork) quorumTarget() int {
	if n.members == nil {
		return 0
	}
	count := n.members.Count()
	if count <= 0 {
		return 0
	}
	return int(math.Ceil(0.66 * float64(count)))
}

func (n *GossipNetwork) tally(key tallyKey) *voteSet {
	n.tallyMu.Lock()
	defer n.tallyMu.Unlock()
	if vs, ok := n.tallies.Get(key); ok {
		return vs
	}
	vs := &voteSet{votes: make(map[types.ValidatorID]struct{})}
	n.tallies.Add(key, vs)
	return vs
}

func (n *GossipNetwork) castVote(ctx context.Context, hash types.BlockHash, phase types.VotePhase, vs *voteSet) error {
	msg := VoteMsg{
		VoterID:   string(n.selfID),
		BlockHash: hash[:],
		Phase:     uint8(phase),
		PubKey:    n.signer.PublicKey(),
	}
	var err error
	msg.Signature, err = n.signer.Sign(msg.SigningBytes())
	if err != nil {
		return err
	}
	data, err := utils.Encode(msg)
	if err != nil {
		return err
	}
	vs.add(n.selfID)
	return n.router.Publish(ctx, TopicVote, data)
}

// handleVote verifies and tallies one incoming vote
func (n *GossipNetwork) handleVote(_ context.Context, _ peer.ID, data []byte) error {
	msg, err := DecodeVote(data)
	if err != nil {
		return err
	}
	voter := types.ValidatorID(msg.VoterID)
	expected, ok := n.keys.PublicKeyOf(voter)
	if !ok || len(expected) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: unknown voter %s", ErrEnvelopeInvalid, msg.VoterID)
	}
	if !bytes.Equal(expected, msg.PubKey) {
		return fmt.Errorf("%w: key mismatch for voter %s", ErrEnvelopeInvalid, msg.VoterID)
	}
	if !ed25519.Verify(msg.PubKey, msg.SigningBytes(), msg.Signature) {
		return fmt.Errorf("%w: bad vote signature from %s", ErrEnvelopeInvalid, msg.VoterID)
	}

	var hash types.BlockHash
	copy(hash[:], msg.BlockHash)
	n.tally(tallyKey{hash: hash, phase: types.VotePhase(msg.Phase)}).add(voter)
	return nil
}

func (n *GossipNetwork) warn(ctx context.Context, msg string, err error) {
	if n.log != nil {
		n.log.WarnContext(ctx, msg, utils.ZapError(err))
	}
}
