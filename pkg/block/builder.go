package block

import (
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Builder assembles candidate blocks from a shard's pending transactions,
// deterministically and under configured limits.
type Builder struct {
	cfg Config
	log *utils.Logger
}

func NewBuilder(cfg Config, log *utils.Logger) *Builder {
	if cfg.MaxTxsPerBlock <= 0 || cfg.MaxTxsPerBlock > MaxBlockTxs {
		cfg.MaxTxsPerBlock = MaxBlockTxs
	}
	if cfg.MaxBlockBytes <= 0 || cfg.MaxBlockBytes > MaxBlockBytes {
		cfg.MaxBlockBytes = MaxBlockBytes
	}
	return &Builder{cfg: cfg, log: log}
}

// Build takes pending transactions in FIFO order up to the configured limits
// and produces a candidate block on top of the chain tip. Returns the block
// and the number of transactions taken (a prefix of pending).
func (b *Builder) Build(chain *Chain, pending []state.Transaction, now time.Time) (*Block, int) {
	taken := 0
	aggBytes := 0
	for _, tx := range pending {
		if taken >= b.cfg.MaxTxsPerBlock {
			break
		}
		enc, err := state.EncodeTransaction(tx)
		if err != nil {
			if b.log != nil {
				b.log.Warn("transaction encode failed during build", utils.ZapString("tx_id", tx.ID))
			}
			break
		}
		if aggBytes+len(enc) > b.cfg.MaxBlockBytes && taken > 0 {
			break
		}
		aggBytes += len(enc)
		taken++
	}

	txs := make([]state.Transaction, taken)
	copy(txs, pending[:taken])

	var prev [32]byte
	if head := chain.Head(); head != nil {
		prev = head.HeaderHash()
	}
	return New(chain.NextIndex(), prev, txs, now), taken
}
