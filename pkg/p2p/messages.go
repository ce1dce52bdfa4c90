package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Gossip topics
const (
	TopicProposal = "bleep/consensus/proposal"
	TopicVote     = "bleep/consensus/vote"
)

// Wire message limits
const (
	MaxProposalSize = 16*1024*1024 + 4096 // block limit plus envelope
	MaxVoteSize     = 4 * 1024
)

const (
	domainProposal = "BLEEP_PROPOSAL_V1"
	domainVote     = "BLEEP_VOTE_V1"
)

var (
	ErrEnvelopeTooLarge = errors.New("p2p: message exceeds size limit")
	ErrEnvelopeInvalid  = errors.New("p2p: message malformed")
)

// ProposalMsg wraps a serialized block with the proposing leader's identity
type ProposalMsg struct {
	LeaderID  string `cbor:"1,keyasint"`
	BlockData []byte `cbor:"2,keyasint"`
	Signature []byte `cbor:"3,keyasint"`
	PubKey    []byte `cbor:"4,keyasint"`
}

// VoteMsg is one validator's vote for a block hash in a specific phase
type VoteMsg struct {
	VoterID   string `cbor:"1,keyasint"`
	BlockHash []byte `cbor:"2,keyasint"` // 32 bytes
	Phase     uint8  `cbor:"3,keyasint"`
	Signature []byte `cbor:"4,keyasint"`
	PubKey    []byte `cbor:"5,keyasint"`
}

// SigningBytes builds the canonical signed layout for a proposal
func (m *ProposalMsg) SigningBytes() []byte {
	buf := make([]byte, 0, len(domainProposal)+2+len(m.LeaderID)+len(m.BlockData))
	buf = append(buf, domainProposal...)
	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(m.LeaderID)))
	buf = append(buf, idLen[:]...)
	buf = append(buf, m.LeaderID...)
	buf = append(buf, m.BlockData...)
	return buf
}

// SigningBytes builds the canonical signed layout for a vote
func (m *VoteMsg) SigningBytes() []byte {
	buf := make([]byte, 0, len(domainVote)+2+len(m.VoterID)+1+len(m.BlockHash))
	buf = append(buf, domainVote...)
	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(m.VoterID)))
	buf = append(buf, idLen[:]...)
	buf = append(buf, m.VoterID...)
	buf = append(buf, m.Phase)
	buf = append(buf, m.BlockHash...)
	return buf
}

// Validate checks vote structure before any signature work
func (m *VoteMsg) Validate() error {
	if m.VoterID == "" || len(m.VoterID) > 128 {
		return fmt.Errorf("%w: voter id length %d", ErrEnvelopeInvalid, len(m.VoterID))
	}
	if len(m.BlockHash) != 32 {
		return fmt.Errorf("%w: block hash length %d", ErrEnvelopeInvalid, len(m.BlockHash))
	}
	if m.Phase != uint8(types.PhasePrepare) && m.Phase != uint8(types.PhaseCommit) {
		return fmt.Errorf("%w: unknown phase %d", ErrEnvelopeInvalid, m.Phase)
	}
	return nil
}

// DecodeVote parses a wire vote with the size cap applied first
func DecodeVote(data []byte) (VoteMsg, error) {
	if len(data) > MaxVoteSize {
		return VoteMsg{}, fmt.Errorf("%w: %d bytes", ErrEnvelopeTooLarge, len(data))
	}
	var m VoteMsg
	if err := utils.Decode(data, &m); err != nil {
		return VoteMsg{}, fmt.Errorf("%w: %v", ErrEnvelopeInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return VoteMsg{}, err
	}
	return m, nil
}

// DecodeProposal parses a wire proposal with the size cap applied first
func DecodeProposal(data []byte) (ProposalMsg, error) {
	if len(data) > MaxProposalSize {
		return ProposalMsg{}, fmt.Errorf("%w: %d bytes", ErrEnvelopeTooLarge, len(data))
	}
	var m ProposalMsg
	if err := utils.Decode(data, &m); err != nil {
		return ProposalMsg{}, fmt.Errorf("%w: %v", ErrEnvelopeInvalid, err)
	}
	return m, nil
}
