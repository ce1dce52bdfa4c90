package block

import (
	"errors"
	"sync"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
)

var (
	ErrIndexGap         = errors.New("chain: block index not contiguous")
	ErrPrevHashMismatch = errors.New("chain: previous hash mismatch")
	ErrMerkleMismatch   = errors.New("chain: merkle root mismatch")
	ErrEmptyChain       = errors.New("chain: empty")
)

// Chain is one shard's sequence of finalized blocks. Indexes are strictly
// increasing and gapless; every appended block is verified against the tip.
type Chain struct {
	mu     sync.RWMutex
	blocks []*Block
}

// NewChain creates an empty chain
func NewChain() *Chain {
	return &Chain{}
}

// Append verifies and appends a finalized block.
// The first block must have index 0 and a zero previous hash.
func (c *Chain) Append(b *Block) error {
	if ComputeTxRoot(b.Transactions) != b.MerkleRoot {
		return ErrMerkleMismatch
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		if b.Index != 0 {
			return ErrIndexGap
		}
		if b.PrevHash != (types.BlockHash{}) {
			return ErrPrevHashMismatch
		}
		c.blocks = append(c.blocks, b)
		return nil
	}

	tip := c.blocks[len(c.blocks)-1]
	if b.Index != tip.Index+1 {
		return ErrIndexGap
	}
	if b.PrevHash != tip.HeaderHash() {
		return ErrPrevHashMismatch
	}
	c.blocks = append(c.blocks, b)
	return nil
}

// Rollback removes and returns the tip block
func (c *Chain) Rollback() (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return nil, ErrEmptyChain
	}
	tip := c.blocks[len(c.blocks)-1]
	c.blocks = c.blocks[:len(c.blocks)-1]
	return tip, nil
}

// Head returns the tip block, or nil for an empty chain
func (c *Chain) Head() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// NextIndex returns the index the next appended block must carry
func (c *Chain) NextIndex() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.blocks))
}

// Get returns the block at index i
func (c *Chain) Get(i uint64) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i >= uint64(len(c.blocks)) {
		return nil, false
	}
	return c.blocks[i], true
}

// Height returns the number of finalized blocks
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.blocks))
}
