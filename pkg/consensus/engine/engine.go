package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/block"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/netmetrics"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Finalization errors
var (
	ErrNoEligibleLeader   = errors.New("engine: no eligible leader")
	ErrBroadcastRejected  = errors.New("engine: proposal broadcast rejected")
	ErrQuorumNotReached   = errors.New("engine: quorum not reached")
	ErrPoWExhausted       = errors.New("engine: pow attempts exhausted")
	ErrFinalizationFailed = errors.New("engine: finalization failed")
)

// Config contains finalization parameters for all three protocols
type Config struct {
	PoSMinReputation        float64       // PoS validator eligibility bar
	PBFTLeaderMinReputation float64       // PBFT leader eligibility bar
	PhaseTimeout            time.Duration // upper bound per PBFT vote phase

	PoWInitialDifficulty int
	PoWMinDifficulty     int
	PoWMaxAttempts       uint64
	PoWHashrateThreshold uint64
}

// DefaultConfig returns the protocol defaults
func DefaultConfig() Config {
	return Config{
		PoSMinReputation:        0.8,
		PBFTLeaderMinReputation: 0.7,
		PhaseTimeout:            10 * time.Second,
		PoWInitialDifficulty:    4,
		PoWMinDifficulty:        2,
		PoWMaxAttempts:          10_000_000,
		PoWHashrateThreshold:    500,
	}
}

// Engine runs the selected protocol's algorithm to finalize one block.
// The active mode is read exactly once per attempt; an attempt in flight
// completes or aborts under the mode it started with.
type Engine struct {
	cfg      Config
	registry *validator.Registry
	selector *netmetrics.Selector
	network  types.Network
	signer   types.Signer
	quorum   *QuorumVerifier
	log      *utils.Logger
	audit    types.AuditLogger

	mu            sync.Mutex // serializes attempts per engine
	powDifficulty int

	state atomic.Uint32 // AttemptState, observability only
}

// New creates a finalization engine
func New(cfg Config, registry *validator.Registry, selector *netmetrics.Selector, network types.Network, signer types.Signer, quorum *QuorumVerifier, log *utils.Logger, audit types.AuditLogger) *Engine {
	if cfg.PoWInitialDifficulty < cfg.PoWMinDifficulty {
		cfg.PoWInitialDifficulty = cfg.PoWMinDifficulty
	}
	if quorum == nil {
		quorum = NewQuorumVerifier(nil)
	}
	return &Engine{
		cfg:           cfg,
		registry:      registry,
		selector:      selector,
		network:       network,
		signer:        signer,
		quorum:        quorum,
		log:           log,
		audit:         audit,
		powDifficulty: cfg.PoWInitialDifficulty,
	}
}

// State returns the most recent attempt state
func (e *Engine) State() types.AttemptState {
	return types.AttemptState(e.state.Load())
}

func (e *Engine) setState(s types.AttemptState) {
	e.state.Store(uint32(s))
}

// Difficulty returns the current PoW difficulty
func (e *Engine) Difficulty() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.powDifficulty
}

// FinalizeBlock finalizes b onto chain under the currently selected mode.
// An aborted attempt re-consults the mode selector immediately and retries
// once under the newly selected mode; a second consecutive abort surfaces as
// ErrFinalizationFailed. Context cancellation is propagated, never retried.
func (e *Engine) FinalizeBlock(ctx context.Context, chain *block.Chain, b *block.Block) error {
	mode := e.selector.Current()
	err := e.attempt(ctx, mode, chain, b)
	if err == nil {
		return e.postFinalize(ctx, mode, b)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if e.log != nil {
		e.log.WarnContext(ctx, "finalization aborted, re-selecting mode",
			utils.ZapString("mode", mode.String()),
			utils.ZapUint64("index", b.Index),
			utils.ZapError(err))
	}
	retryMode, _ := e.selector.Evaluate(ctx)
	retryErr := e.attempt(ctx, retryMode, chain, b)
	if retryErr == nil {
		return e.postFinalize(ctx, retryMode, b)
	}
	if errors.Is(retryErr, context.Canceled) || errors.Is(retryErr, context.DeadlineExceeded) {
		return retryErr
	}
	if e.audit != nil {
		_ = e.audit.Error("finalization_failed", map[string]interface{}{
			"index":       b.Index,
			"first_mode":  mode.String(),
			"retry_mode":  retryMode.String(),
			"first_error": err.Error(),
			"retry_error": retryErr.Error(),
		})
	}
	return fmt.Errorf("%w: %s then %s: %v", ErrFinalizationFailed, mode, retryMode, retryErr)
}

// attempt runs one protocol pass. Any returned error means Aborted.
func (e *Engine) attempt(ctx context.Context, mode types.ConsensusMode, chain *block.Chain, b *block.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.setState(types.StateProposing)
	var err error
	switch mode {
	case types.ModePoS:
		err = e.runPoS(ctx, chain, b)
	case types.ModePBFT:
		err = e.runPBFT(ctx, chain, b)
	case types.ModePoW:
		err = e.runPoW(ctx, chain, b)
	default:
		err = fmt.Errorf("engine: unknown mode %d", mode)
	}
	if err != nil {
		e.setState(types.StateAborted)
		return err
	}
	e.setState(types.StateFinalized)
	return nil
}

// postFinalize runs the per-round bookkeeping after a block was applied:
// the scoring round over all active validators. The adjustment is atomic per
// validator; a cancelled context skips the round entirely rather than
// applying it partially.
func (e *Engine) postFinalize(ctx context.Context, mode types.ConsensusMode, b *block.Block) error {
	rewarded, penalized, err := e.registry.AdjustAll(ctx)
	if err != nil {
		// the block is final; losing one scoring round is acceptable
		if e.log != nil {
			e.log.WarnContext(ctx, "scoring round skipped", utils.ZapError(err))
		}
		return nil
	}
	if e.log != nil {
		e.log.InfoContext(ctx, "block finalized",
			utils.ZapString("mode", mode.String()),
			utils.ZapUint64("index", b.Index),
			utils.ZapInt("tx_count", len(b.Transactions)),
			utils.ZapInt("rewarded", rewarded),
			utils.ZapInt("penalized", penalized))
	}
	return nil
}

// signAndAppend signs the block header with the node key, credits the
// finalizing validator, and appends to the chain.
func (e *Engine) signAndAppend(chain *block.Chain, b *block.Block, finalizer types.ValidatorID) error {
	if e.signer != nil {
		sig, err := e.signer.Sign(b.SigningBytes())
		if err != nil {
			return fmt.Errorf("engine: block signing: %w", err)
		}
		b.Signature = sig
	}
	if err := chain.Append(b); err != nil {
		return err
	}
	if finalizer != "" {
		_ = e.registry.RecordFinalized(finalizer, b.Index)
	}
	return nil
}
