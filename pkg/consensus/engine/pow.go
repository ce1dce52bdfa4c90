package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Hamida-ai/BLEEP-V1/pkg/block"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// ctx is polled every powCancelStride nonces during the search
const powCancelStride = 4096

// runPoW seals the block by nonce search: the hex digest must carry a
// zero-character prefix of the current difficulty. The search is bounded by
// PoWMaxAttempts and abortable between strides.
func (e *Engine) runPoW(ctx context.Context, chain *block.Chain, b *block.Block) error {
	target := strings.Repeat("0", e.powDifficulty)

	for nonce := uint64(0); nonce < e.cfg.PoWMaxAttempts; nonce++ {
		if nonce%powCancelStride == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if strings.HasPrefix(b.PoWDigest(nonce), target) {
			b.Nonce = nonce
			if err := e.signAndAppend(chain, b, ""); err != nil {
				return err
			}
			if e.log != nil {
				e.log.DebugContext(ctx, "pow sealed block",
					utils.ZapUint64("index", b.Index),
					utils.ZapUint64("nonce", nonce),
					utils.ZapInt("difficulty", e.powDifficulty))
			}
			e.adjustPoWDifficulty(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: difficulty %d after %d attempts", ErrPoWExhausted, e.powDifficulty, e.cfg.PoWMaxAttempts)
}

// adjustPoWDifficulty raises difficulty while observed network hashrate
// exceeds the threshold and lowers it otherwise, never below the floor.
// Caller holds e.mu.
func (e *Engine) adjustPoWDifficulty(ctx context.Context) {
	hashrate := e.network.NetworkHashrate()
	before := e.powDifficulty
	if hashrate > e.cfg.PoWHashrateThreshold {
		e.powDifficulty++
	} else if e.powDifficulty > e.cfg.PoWMinDifficulty {
		e.powDifficulty--
	}
	if e.powDifficulty != before && e.log != nil {
		e.log.InfoContext(ctx, "pow difficulty adjusted",
			utils.ZapInt("from", before),
			utils.ZapInt("to", e.powDifficulty),
			utils.ZapUint64("network_hashrate", hashrate))
	}
}
