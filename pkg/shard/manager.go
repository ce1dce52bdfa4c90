package shard

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Defaults mirrored from the protocol parameters
const (
	DefaultInitialLoadThreshold = 10
	DefaultRebalanceCooldown    = 60 * time.Second
)

// ConsensusGate confirms that both shard states are consistent before a
// cross-shard move. A rejection skips the move for this cycle; it is not
// retried immediately.
type ConsensusGate interface {
	ValidateRebalance(ctx context.Context, sourceID, targetID uint64) bool
}

// Config holds shard manager construction parameters
type Config struct {
	NumShards            uint64
	InitialLoadThreshold int
	RebalanceCooldown    time.Duration
	CheckpointPrefix     string // KV key prefix, default "shard/"
}

// Manager assigns transactions to the least-loaded shard, watches per-shard
// load, and runs cooldown-gated rebalancing. The shard set is fixed at
// construction; only transactions migrate.
type Manager struct {
	cfg       Config
	shards    map[uint64]*Shard
	ids       []uint64 // sorted
	predictor types.ShardLoadPredictor
	gate      ConsensusGate
	rebal     *Rebalancer
	kv        types.KVStore
	log       *utils.Logger
	audit     types.AuditLogger

	mu            sync.Mutex
	loadThreshold int
	lastRebalance time.Time
	rng           *rand.Rand
	now           func() time.Time
}

// NewManager creates the fixed shard set with one cipher per shard.
// ciphers must contain one entry per shard id.
func NewManager(cfg Config, ciphers map[uint64]types.ShardCipher, predictor types.ShardLoadPredictor, gate ConsensusGate, rebal *Rebalancer, kv types.KVStore, log *utils.Logger, audit types.AuditLogger) (*Manager, error) {
	if cfg.NumShards == 0 {
		return nil, ErrNoShards
	}
	if cfg.InitialLoadThreshold <= 0 {
		cfg.InitialLoadThreshold = DefaultInitialLoadThreshold
	}
	if cfg.RebalanceCooldown <= 0 {
		cfg.RebalanceCooldown = DefaultRebalanceCooldown
	}
	if cfg.CheckpointPrefix == "" {
		cfg.CheckpointPrefix = "shard/"
	}

	shards := make(map[uint64]*Shard, cfg.NumShards)
	ids := make([]uint64, 0, cfg.NumShards)
	for id := uint64(0); id < cfg.NumShards; id++ {
		cipher, ok := ciphers[id]
		if !ok {
			return nil, fmt.Errorf("%w: no cipher for shard %d", ErrInvalidShard, id)
		}
		shards[id] = NewShard(id, cipher)
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return &Manager{
		cfg:           cfg,
		shards:        shards,
		ids:           ids,
		predictor:     predictor,
		gate:          gate,
		rebal:         rebal,
		kv:            kv,
		log:           log,
		audit:         audit,
		loadThreshold: cfg.InitialLoadThreshold,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		now:           time.Now,
	}, nil
}

// Shard returns the shard with the given id
func (m *Manager) Shard(id uint64) (*Shard, error) {
	s, ok := m.shards[id]
	if !ok {
		return nil, ErrInvalidShard
	}
	return s, nil
}

// Assign admits a transaction into the least-loaded shard (ties broken by
// lowest shard id), persists the shard's checkpoint, and triggers a
// rebalance evaluation if the shard's load crossed the threshold.
// Returns the chosen shard id.
func (m *Manager) Assign(ctx context.Context, tx state.Transaction) (uint64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}
	if len(m.ids) == 0 {
		return 0, ErrNoShards
	}

	id, err := m.predictor.PredictLeastLoaded(m.Health())
	if err != nil {
		// prediction degrades to the deterministic min-load scan
		if m.log != nil {
			m.log.WarnContext(ctx, "shard load prediction unavailable", utils.ZapError(err))
		}
		id = m.minLoadShard()
	}
	s, ok := m.shards[id]
	if !ok {
		return 0, fmt.Errorf("%w: predicted shard %d", ErrInvalidShard, id)
	}

	s.Append(tx)
	if err := m.persistShard(ctx, s); err != nil && m.log != nil {
		m.log.WarnContext(ctx, "shard checkpoint write failed",
			utils.ZapUint64("shard_id", s.ID()),
			utils.ZapError(err))
	}

	m.mu.Lock()
	threshold := m.loadThreshold
	m.mu.Unlock()
	if s.Load() > threshold {
		m.Rebalance(ctx)
	}
	return id, nil
}

// minLoadShard scans for the least-loaded shard, ties broken by lowest id
func (m *Manager) minLoadShard() uint64 {
	best := m.ids[0]
	bestLoad := m.shards[best].Load()
	for _, id := range m.ids[1:] {
		if l := m.shards[id].Load(); l < bestLoad {
			best, bestLoad = id, l
		}
	}
	return best
}

// Health reports every shard's current load
func (m *Manager) Health() map[uint64]int {
	out := make(map[uint64]int, len(m.ids))
	for id, s := range m.shards {
		out[id] = s.Load()
	}
	return out
}

// LoadThreshold returns the current rebalance trigger threshold
func (m *Manager) LoadThreshold() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadThreshold
}

// Rebalance evaluates all shards and moves transactions from overloaded
// shards toward below-threshold targets, gated by consensus validation.
// At most one evaluation runs per cooldown period.
func (m *Manager) Rebalance(ctx context.Context) {
	m.mu.Lock()
	if m.now().Sub(m.lastRebalance) < m.cfg.RebalanceCooldown {
		m.mu.Unlock()
		return
	}
	m.lastRebalance = m.now()
	threshold := m.loadThreshold
	m.mu.Unlock()

	avg := m.averageLoad()
	for _, sourceID := range m.ids {
		if err := ctx.Err(); err != nil {
			return
		}
		source := m.shards[sourceID]
		if source.Load() <= avg {
			continue
		}
		targetID, ok := m.pickTarget(sourceID, threshold)
		if !ok {
			continue
		}
		if m.gate != nil && !m.gate.ValidateRebalance(ctx, sourceID, targetID) {
			// skipped this cycle, not retried immediately
			if m.audit != nil {
				_ = m.audit.Warn("rebalance_gate_rejected", map[string]interface{}{
					"source_shard": sourceID,
					"target_shard": targetID,
				})
			}
			continue
		}
		if err := m.rebal.MoveOne(ctx, source, m.shards[targetID]); err != nil {
			continue // recoverable, logged by the rebalancer
		}
		m.persistPair(ctx, source, m.shards[targetID])
	}

	m.mu.Lock()
	m.loadThreshold = m.averageLoad() + 2
	m.mu.Unlock()

	if m.log != nil {
		m.log.InfoContext(ctx, "rebalance cycle complete",
			utils.ZapInt("load_threshold", m.LoadThreshold()))
	}
}

// pickTarget selects a random below-threshold shard other than source
func (m *Manager) pickTarget(sourceID uint64, threshold int) (uint64, bool) {
	candidates := make([]uint64, 0, len(m.ids))
	for _, id := range m.ids {
		if id != sourceID && m.shards[id].Load() < threshold {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	m.mu.Lock()
	idx := m.rng.Intn(len(candidates))
	m.mu.Unlock()
	return candidates[idx], true
}

func (m *Manager) averageLoad() int {
	if len(m.ids) == 0 {
		return 0
	}
	total := 0
	for _, s := range m.shards {
		total += s.Load()
	}
	return total / len(m.ids)
}

// persistShard checkpoints one shard's pending queue to the KV store
func (m *Manager) persistShard(ctx context.Context, s *Shard) error {
	if m.kv == nil {
		return nil
	}
	data, err := utils.Encode(s.Pending())
	if err != nil {
		return err
	}
	return m.kv.Put(ctx, m.checkpointKey(s.ID()), data)
}

func (m *Manager) persistPair(ctx context.Context, a, b *Shard) {
	for _, s := range []*Shard{a, b} {
		if err := m.persistShard(ctx, s); err != nil && m.log != nil {
			m.log.WarnContext(ctx, "shard checkpoint write failed",
				utils.ZapUint64("shard_id", s.ID()),
				utils.ZapError(err))
		}
	}
}

// PersistAfterFinalize re-checkpoints a shard after its pending prefix was
// finalized into a block.
func (m *Manager) PersistAfterFinalize(ctx context.Context, shardID uint64) error {
	s, err := m.Shard(shardID)
	if err != nil {
		return err
	}
	return m.persistShard(ctx, s)
}

// RestoreCheckpoints reloads every shard's pending queue from the KV store.
// Called once at boot, before any worker starts.
func (m *Manager) RestoreCheckpoints(ctx context.Context) error {
	if m.kv == nil {
		return nil
	}
	for _, id := range m.ids {
		data, found, err := m.kv.Get(ctx, m.checkpointKey(id))
		if err != nil {
			return fmt.Errorf("shard %d checkpoint read: %w", id, err)
		}
		if !found {
			continue
		}
		var txs []state.Transaction
		if err := utils.Decode(data, &txs); err != nil {
			return fmt.Errorf("shard %d checkpoint decode: %w", id, err)
		}
		m.shards[id].replacePending(txs)
		if m.log != nil {
			m.log.Info("shard checkpoint restored",
				utils.ZapUint64("shard_id", id),
				utils.ZapInt("pending", len(txs)))
		}
	}
	return nil
}

func (m *Manager) checkpointKey(id uint64) string {
	return fmt.Sprintf("%s%d", m.cfg.CheckpointPrefix, id)
}

// ShardIDs returns the fixed shard id set in ascending order
func (m *Manager) ShardIDs() []uint64 {
	out := make([]uint64, len(m.ids))
	copy(out, m.ids)
	return out
}
