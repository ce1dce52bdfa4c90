package netmetrics

import (
	"context"
	"errors"
	"sync"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// ErrPrediction wraps scoring collaborator failures. The selector never
// propagates it: prediction failure degrades to the current mode so the
// active consensus mode is never left undefined.
var ErrPrediction = errors.New("netmetrics: reliability prediction failed")

// Reliability thresholds for mode selection
const (
	powCeiling  = 0.6 // below: favor safety/cost under instability
	pbftCeiling = 0.8 // below: balanced
)

// ModeChange is emitted when the recommended mode differs from the current one
type ModeChange struct {
	From        types.ConsensusMode
	To          types.ConsensusMode
	Reliability float64
}

// Selector maps the recent sample window to a consensus mode through an
// injected reliability predictor. It re-emits nothing when the
// recommendation matches the current mode, so a constant metrics stream
// produces at most one change event.
type Selector struct {
	agg       *Aggregator
	predictor types.ReliabilityPredictor
	window    int
	log       *utils.Logger

	mu       sync.RWMutex
	current  types.ConsensusMode
	onChange []func(ModeChange)
}

// SelectorConfig holds selector construction parameters
type SelectorConfig struct {
	InitialMode types.ConsensusMode // zero means ModePoS
	WindowSize  int                 // samples consulted per evaluation; zero means all
}

// NewSelector creates a selector over an aggregator and predictor
func NewSelector(cfg SelectorConfig, agg *Aggregator, predictor types.ReliabilityPredictor, log *utils.Logger) *Selector {
	mode := cfg.InitialMode
	if mode == 0 {
		mode = types.ModePoS
	}
	return &Selector{
		agg:       agg,
		predictor: predictor,
		window:    cfg.WindowSize,
		log:       log,
		current:   mode,
	}
}

// Current returns the active mode. Engine reads this exactly once per
// finalization attempt; an attempt in flight is never switched mid-way.
func (s *Selector) Current() types.ConsensusMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers a mode-change listener. Listeners run synchronously
// inside Evaluate and must be fast.
func (s *Selector) Subscribe(fn func(ModeChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Evaluate consults the predictor over the recent window and switches the
// mode if the recommendation differs. Returns the mode now in effect and
// whether it changed. A failing predictor retains the current mode.
func (s *Selector) Evaluate(ctx context.Context) (types.ConsensusMode, bool) {
	if err := ctx.Err(); err != nil {
		return s.Current(), false
	}

	samples := s.agg.Window(s.window)
	if len(samples) == 0 {
		return s.Current(), false
	}

	reliability, err := s.predictor.PredictReliability(samples)
	if err != nil || reliability < 0 || reliability > 1 {
		if s.log != nil {
			s.log.WarnContext(ctx, "reliability prediction unavailable, retaining mode",
				utils.ZapError(err),
				utils.ZapFloat64("reliability", reliability),
				utils.ZapString("mode", s.Current().String()))
		}
		return s.Current(), false
	}

	recommended := modeFor(reliability)

	s.mu.Lock()
	if recommended == s.current {
		s.mu.Unlock()
		return recommended, false
	}
	change := ModeChange{From: s.current, To: recommended, Reliability: reliability}
	s.current = recommended
	listeners := make([]func(ModeChange), len(s.onChange))
	copy(listeners, s.onChange)
	s.mu.Unlock()

	if s.log != nil {
		s.log.InfoContext(ctx, "consensus mode switched",
			utils.ZapString("from", change.From.String()),
			utils.ZapString("to", change.To.String()),
			utils.ZapFloat64("reliability", reliability))
	}
	for _, fn := range listeners {
		fn(change)
	}
	return recommended, true
}

// modeFor applies the switching rule:
// reliability < 0.6 -> PoW, < 0.8 -> PBFT, otherwise PoS.
func modeFor(reliability float64) types.ConsensusMode {
	switch {
	case reliability < powCeiling:
		return types.ModePoW
	case reliability < pbftCeiling:
		return types.ModePBFT
	default:
		return types.ModePoS
	}
}
