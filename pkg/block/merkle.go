package block

import (
	"crypto/sha256"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
)

// Domains for Merkle tree hashing
const (
	domainMerkleLeaf = "BLEEP_MERKLE_LEAF_V1"
	domainMerkleNode = "BLEEP_MERKLE_NODE_V1"
)

func leafHash(content [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domainMerkleLeaf))
	h.Write([]byte{0x00})
	h.Write(content[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domainMerkleNode))
	h.Write([]byte{0x00})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeTxRoot computes a deterministic Merkle root over the transactions in
// block order. Leaves are domain-separated content hashes; an odd node is
// carried up hashed against zero.
func ComputeTxRoot(txs []state.Transaction) types.BlockHash {
	var out types.BlockHash
	if len(txs) == 0 {
		sum := sha256.Sum256(nil)
		copy(out[:], sum[:])
		return out
	}

	level := make([][32]byte, len(txs))
	for i := range txs {
		level[i] = leafHash(txs[i].ContentHash())
	}
	for n := len(level); n > 1; {
		next := make([][32]byte, (n+1)/2)
		idx := 0
		for i := 0; i < n; i += 2 {
			if i+1 < n {
				next[idx] = nodeHash(level[i], level[i+1])
			} else {
				next[idx] = nodeHash(level[i], [32]byte{})
			}
			idx++
		}
		level = next
		n = len(level)
	}
	copy(out[:], level[0][:])
	return out
}
