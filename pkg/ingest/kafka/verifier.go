package kafka

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
)

var (
	ErrBadSignature = errors.New("kafka: telemetry signature verification failed")
	ErrReplay       = errors.New("kafka: telemetry nonce already seen")
)

// VerifierConfig bounds telemetry admission
type VerifierConfig struct {
	MaxTimestampSkew time.Duration
	NonceCacheSize   int
	NonceTTL         time.Duration
}

// DefaultVerifierConfig returns the standard admission limits
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		MaxTimestampSkew: 5 * time.Minute,
		NonceCacheSize:   16384,
		NonceTTL:         10 * time.Minute,
	}
}

// Verifier admits signed telemetry samples: structural validation, clock
// skew, Ed25519 signature, and nonce replay suppression, in that order.
type Verifier struct {
	cfg    VerifierConfig
	nonces *expirable.LRU[[32]byte, struct{}]
	now    func() time.Time
}

// NewVerifier creates a verifier with a TTL-bounded replay cache
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.MaxTimestampSkew <= 0 {
		cfg.MaxTimestampSkew = 5 * time.Minute
	}
	if cfg.NonceCacheSize <= 0 {
		cfg.NonceCacheSize = 16384
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 10 * time.Minute
	}
	return &Verifier{
		cfg:    cfg,
		nonces: expirable.NewLRU[[32]byte, struct{}](cfg.NonceCacheSize, nil, cfg.NonceTTL),
		now:    time.Now,
	}
}

// Verify checks one sample and converts it to the selector's sample form.
// A passing sample's nonce is recorded so a redelivered copy is rejected.
func (v *Verifier) Verify(m *TelemetrySample) (types.NetworkSample, error) {
	if err := m.Validate(); err != nil {
		return types.NetworkSample{}, err
	}
	if err := state.CheckSkew(m.TS, v.now(), v.cfg.MaxTimestampSkew); err != nil {
		return types.NetworkSample{}, fmt.Errorf("kafka: %w", err)
	}
	if !ed25519.Verify(m.PubKey, m.SigningBytes(), m.Signature) {
		return types.NetworkSample{}, ErrBadSignature
	}

	key := m.ReplayKey()
	if _, seen := v.nonces.Get(key); seen {
		return types.NetworkSample{}, ErrReplay
	}
	v.nonces.Add(key, struct{}{})

	return types.NetworkSample{
		Load:        m.Load,
		LatencyMS:   m.LatencyMS,
		Reliability: m.Reliability,
		ObservedAt:  time.Unix(m.TS, 0),
	}, nil
}
