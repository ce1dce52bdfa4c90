package block

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
)

// Block is the canonical block representation. A block is immutable once
// finalized; rollback removes it from the chain rather than mutating it.
type Block struct {
	Index        uint64              `cbor:"1,keyasint"`
	Timestamp    int64               `cbor:"2,keyasint"` // unix seconds
	Transactions []state.Transaction `cbor:"3,keyasint"`
	PrevHash     types.BlockHash     `cbor:"4,keyasint"`
	MerkleRoot   types.BlockHash     `cbor:"5,keyasint"`
	Signature    []byte              `cbor:"6,keyasint"` // validator signature over the header hash
	ZKProof      []byte              `cbor:"7,keyasint,omitempty"`
	Nonce        uint64              `cbor:"8,keyasint"` // set by PoW sealing, zero otherwise
}

// New constructs a block over the given transactions and computes its Merkle root
func New(index uint64, prev types.BlockHash, txs []state.Transaction, ts time.Time) *Block {
	return &Block{
		Index:        index,
		Timestamp:    ts.Unix(),
		Transactions: txs,
		PrevHash:     prev,
		MerkleRoot:   ComputeTxRoot(txs),
	}
}

// HeaderHash builds canonical header bytes and hashes with SHA-256.
// The PoW nonce is deliberately excluded: it is hashed separately in
// PoWDigest so sealing does not move the header hash.
// Layout: domain||0x00||index(8B)||prev(32B)||merkle_root(32B)||ts(8B)
func (b *Block) HeaderHash() types.BlockHash {
	buf := make([]byte, 0, len(types.DomainBlockHeader)+1+8+32+32+8)
	buf = append(buf, types.DomainBlockHeader...)
	buf = append(buf, 0x00)
	var u [8]byte
	binary.BigEndian.PutUint64(u[:], b.Index)
	buf = append(buf, u[:]...)
	buf = append(buf, b.PrevHash[:]...)
	buf = append(buf, b.MerkleRoot[:]...)
	binary.BigEndian.PutUint64(u[:], uint64(b.Timestamp))
	buf = append(buf, u[:]...)
	var out types.BlockHash
	sum := sha256.Sum256(buf)
	copy(out[:], sum[:])
	return out
}

// PoWDigest returns the hex digest searched during proof-of-work sealing.
// The nonce is hashed with the header under its own domain so PoW digests can
// never collide with header hashes.
func (b *Block) PoWDigest(nonce uint64) string {
	h := b.HeaderHash()
	buf := make([]byte, 0, len(types.DomainPoWSearch)+1+32+8)
	buf = append(buf, types.DomainPoWSearch...)
	buf = append(buf, 0x00)
	buf = append(buf, h[:]...)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf = append(buf, n[:]...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// SigningBytes returns the bytes a validator signs to endorse this block
func (b *Block) SigningBytes() []byte {
	h := b.HeaderHash()
	buf := make([]byte, 0, len(types.DomainBlockSig)+1+32)
	buf = append(buf, types.DomainBlockSig...)
	buf = append(buf, 0x00)
	buf = append(buf, h[:]...)
	return buf
}

// types.Block implementation

func (b *Block) GetIndex() uint64               { return b.Index }
func (b *Block) GetHash() types.BlockHash       { return b.HeaderHash() }
func (b *Block) GetPrevHash() types.BlockHash   { return b.PrevHash }
func (b *Block) GetTransactionCount() int       { return len(b.Transactions) }
func (b *Block) GetTimestamp() time.Time        { return time.Unix(b.Timestamp, 0) }
