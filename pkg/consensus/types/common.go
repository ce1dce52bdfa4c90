package types

import (
	"time"
)

// ValidatorID uniquely identifies a validator. Registration keys, vote sets and
// persisted snapshots all use this as the single source of identity.
type ValidatorID string

// BlockHash represents a cryptographic hash of a block header
type BlockHash [32]byte

// ConsensusMode selects which finalization protocol is active.
// Exactly one mode is active process-wide at any instant.
type ConsensusMode uint8

const (
	ModePoS ConsensusMode = iota + 1
	ModePBFT
	ModePoW
)

func (m ConsensusMode) String() string {
	switch m {
	case ModePoS:
		return "pos"
	case ModePBFT:
		return "pbft"
	case ModePoW:
		return "pow"
	default:
		return "unknown"
	}
}

// VotePhase identifies a PBFT voting phase
type VotePhase uint8

const (
	PhasePrepare VotePhase = iota + 1
	PhaseCommit
)

func (p VotePhase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// AttemptState tracks a single block-finalization attempt.
// Finalized and Aborted are terminal.
type AttemptState uint8

const (
	StateIdle AttemptState = iota
	StateProposing
	StateAwaitingPrepare
	StateAwaitingCommit
	StateFinalized
	StateAborted
)

func (s AttemptState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProposing:
		return "proposing"
	case StateAwaitingPrepare:
		return "awaiting_prepare"
	case StateAwaitingCommit:
		return "awaiting_commit"
	case StateFinalized:
		return "finalized"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// NetworkSample is one observation of network health. Samples are append-only;
// the aggregator owns the ordered history and trims it by retention policy.
type NetworkSample struct {
	Load        uint64    `cbor:"1,keyasint"` // 0-100
	LatencyMS   uint64    `cbor:"2,keyasint"`
	Reliability float64   `cbor:"3,keyasint"` // 0.0-1.0
	ObservedAt  time.Time `cbor:"4,keyasint"`
}

// Block is the minimal view of a block the consensus core needs.
// The canonical implementation lives in pkg/block.
type Block interface {
	GetIndex() uint64
	GetHash() BlockHash
	GetPrevHash() BlockHash
	GetTransactionCount() int
	GetTimestamp() time.Time
}

// Domain separators for signature and hash security
const (
	DomainBlockHeader = "BLEEP_BLOCK_HEADER_V1"
	DomainBlockSig    = "BLEEP_BLOCK_SIG_V1"
	DomainPoWSearch   = "BLEEP_POW_V1"
)
