package engine

import (
	"crypto/sha256"
	"math"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
)

// QuorumConfig contains quorum verification parameters
type QuorumConfig struct {
	Fraction           float64 // quorum fraction of the validator set
	VoterMinReputation float64 // votes below this are discarded
	EnableCache        bool
	CacheSize          int
	CacheTTL           time.Duration
}

// DefaultQuorumConfig returns the protocol's standard parameters
func DefaultQuorumConfig() *QuorumConfig {
	return &QuorumConfig{
		Fraction:           0.66,
		VoterMinReputation: 0.75,
		EnableCache:        true,
		CacheSize:          4096,
		CacheTTL:           5 * time.Minute,
	}
}

// QuorumVerifier filters vote sets against the active validator snapshot and
// checks quorum arithmetic. Vote sets are ephemeral, scoped to one
// finalization attempt; verified set digests are cached so an identical set
// is not re-verified.
type QuorumVerifier struct {
	cfg   *QuorumConfig
	cache *expirable.LRU[[32]byte, bool]
}

// NewQuorumVerifier creates a verifier
func NewQuorumVerifier(cfg *QuorumConfig) *QuorumVerifier {
	if cfg == nil {
		cfg = DefaultQuorumConfig()
	}
	var cache *expirable.LRU[[32]byte, bool]
	if cfg.EnableCache {
		cache = expirable.NewLRU[[32]byte, bool](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return &QuorumVerifier{cfg: cfg, cache: cache}
}

// Threshold returns the vote count required for a validator set of size n:
// ceil(fraction * n).
func (qv *QuorumVerifier) Threshold(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(qv.cfg.Fraction * float64(n)))
}

// FilterVotes keeps only votes cast by eligible validators: present in the
// snapshot, active, and above the voter reputation bar.
func (qv *QuorumVerifier) FilterVotes(votes map[types.ValidatorID]struct{}, snapshot []validator.Validator) map[types.ValidatorID]struct{} {
	eligible := make(map[types.ValidatorID]struct{}, len(snapshot))
	for _, v := range snapshot {
		if v.Active && v.Reputation > qv.cfg.VoterMinReputation {
			eligible[v.ID] = struct{}{}
		}
	}
	out := make(map[types.ValidatorID]struct{}, len(votes))
	for id := range votes {
		if _, ok := eligible[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// HasQuorum reports whether the filtered votes reach the threshold for a
// validator set of size n.
func (qv *QuorumVerifier) HasQuorum(blockHash types.BlockHash, phase types.VotePhase, votes map[types.ValidatorID]struct{}, n int) bool {
	key := voteSetDigest(blockHash, phase, votes)
	if qv.cache != nil {
		if ok, hit := qv.cache.Get(key); hit {
			return ok
		}
	}
	ok := len(votes) >= qv.Threshold(n) && qv.Threshold(n) > 0
	if qv.cache != nil && ok {
		qv.cache.Add(key, true)
	}
	return ok
}

// voteSetDigest hashes block, phase and the sorted voter ids; it is a pure
// function of the actual vote set so cached results stay valid across
// attempts.
func voteSetDigest(blockHash types.BlockHash, phase types.VotePhase, votes map[types.ValidatorID]struct{}) [32]byte {
	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	h := sha256.New()
	h.Write(blockHash[:])
	h.Write([]byte{byte(phase)})
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0x00})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
