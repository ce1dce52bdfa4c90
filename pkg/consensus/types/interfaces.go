package types

import (
	"context"
	"time"
)

// Signer handles node-level signing operations.
// SINGLE definition used across all packages.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	Verify(data, signature, publicKey []byte) bool
	PublicKey() []byte
}

// ShardCipher encrypts and decrypts transactions under one shard's security
// context. Every shard owns exactly one cipher; a transaction crossing a shard
// boundary must round-trip through the target shard's cipher before the move
// is committed.
type ShardCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Network is the consensus core's view of the peer transport.
// Broadcast and vote collection are delegated entirely; delivery mechanics
// (gossip, retries, peer discovery) are the transport's concern.
type Network interface {
	BroadcastProposal(ctx context.Context, block Block, leader ValidatorID) bool
	CollectVotes(ctx context.Context, block Block, phase VotePhase) (map[ValidatorID]struct{}, error)
	NetworkHashrate() uint64
}

// ReliabilityPredictor scores a sample window. Any heuristic, statistical
// model or learned model can sit behind this; the selector treats it as a
// pure function and degrades to the current mode when it fails.
type ReliabilityPredictor interface {
	PredictReliability(samples []NetworkSample) (float64, error)
}

// ShardLoadPredictor picks the least-loaded shard from a load snapshot.
type ShardLoadPredictor interface {
	PredictLeastLoaded(loads map[uint64]int) (uint64, error)
}

// AnomalyScorer flags misbehaving validators; scores above the caller's
// threshold lead to deactivation.
type AnomalyScorer interface {
	ScoreValidators(ctx context.Context) (map[ValidatorID]float64, error)
}

// KVStore is the persistence collaborator: an opaque key/value store used for
// shard checkpoints and validator snapshots. Writes to distinct keys may
// proceed in parallel; writes to the same key are serialized by the impl.
type KVStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Close() error
}

// AuditLogger provides tamper-evident audit logging.
// SINGLE definition used across all packages.
type AuditLogger interface {
	Info(event string, fields map[string]interface{}) error
	Warn(event string, fields map[string]interface{}) error
	Error(event string, fields map[string]interface{}) error
	Security(event string, fields map[string]interface{}) error
}

// ConfigManager provides type-safe configuration access
type ConfigManager interface {
	GetString(key, defaultValue string) string
	GetStringRequired(key string) (string, error)
	GetInt(key string, defaultValue int) int
	GetFloat64(key string, defaultValue float64) float64
	GetBool(key string, defaultValue bool) bool
	GetDuration(key string, defaultValue time.Duration) time.Duration
	GetStringSlice(key string, defaultValue []string) []string
	GetSecret(key string) (string, error)
}
