// Package wiring composes the node: per-shard finalization workers, the
// metrics-driven mode selector loop, shard rebalancing, telemetry ingest,
// snapshot persistence, and the read-only API.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/api"
	"github.com/Hamida-ai/BLEEP-V1/pkg/block"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/engine"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/netmetrics"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
	"github.com/Hamida-ai/BLEEP-V1/pkg/ingest/kafka"
	"github.com/Hamida-ai/BLEEP-V1/pkg/shard"
	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Config holds worker cadences and thresholds
type Config struct {
	BlockCfg block.Config

	SelectorInterval  time.Duration // mode re-evaluation cadence
	RebalanceInterval time.Duration // shard load evaluation cadence
	AnomalyInterval   time.Duration // anomaly scoring cadence
	AnomalyThreshold  float64       // scores above this deactivate the validator

	SnapshotInterval time.Duration
	EpochInterval    time.Duration
}

// LoadConfig reads worker settings from the config manager
func LoadConfig(cm types.ConfigManager) Config {
	blockCfg := block.DefaultConfig()
	blockCfg.MaxTxsPerBlock = cm.GetInt("BLOCK_MAX_TXS", blockCfg.MaxTxsPerBlock)
	blockCfg.MinPendingTxs = cm.GetInt("BLOCK_MIN_PENDING_TXS", blockCfg.MinPendingTxs)
	blockCfg.BuildInterval = cm.GetDuration("BLOCK_BUILD_INTERVAL", blockCfg.BuildInterval)
	return Config{
		BlockCfg:          blockCfg,
		SelectorInterval:  cm.GetDuration("SELECTOR_INTERVAL", 10*time.Second),
		RebalanceInterval: cm.GetDuration("REBALANCE_INTERVAL", 30*time.Second),
		AnomalyInterval:   cm.GetDuration("ANOMALY_INTERVAL", 60*time.Second),
		AnomalyThreshold:  cm.GetFloat64("ANOMALY_THRESHOLD", 0.9),
		SnapshotInterval:  cm.GetDuration("SNAPSHOT_INTERVAL", 30*time.Second),
		EpochInterval:     cm.GetDuration("SNAPSHOT_EPOCH_INTERVAL", 10*time.Minute),
	}
}

// Dependencies holds the composed components. Consumer, APIServer, Anomaly,
// and Snapshots are optional; the rest are required.
type Dependencies struct {
	Logger   *utils.Logger
	Audit    types.AuditLogger
	Registry *validator.Registry
	Selector *netmetrics.Selector
	Engine   *engine.Engine
	Shards   *shard.Manager

	Consumer  *kafka.Consumer
	APIServer *api.Server
	Anomaly   types.AnomalyScorer
	Snapshots *SnapshotWorker
	Store     types.KVStore
}

// Service runs the node's worker loops
type Service struct {
	cfg     Config
	deps    Dependencies
	log     *utils.Logger
	builder *block.Builder
	metrics *Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewService validates the dependency set and prepares the workers
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Logger == nil {
		return nil, errors.New("wiring: logger is required")
	}
	if deps.Registry == nil || deps.Selector == nil || deps.Engine == nil || deps.Shards == nil {
		return nil, errors.New("wiring: registry, selector, engine, and shard manager are required")
	}
	if cfg.SelectorInterval <= 0 {
		cfg.SelectorInterval = 10 * time.Second
	}
	if cfg.RebalanceInterval <= 0 {
		cfg.RebalanceInterval = 30 * time.Second
	}
	if cfg.AnomalyInterval <= 0 {
		cfg.AnomalyInterval = 60 * time.Second
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 0.9
	}

	s := &Service{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger,
		builder: block.NewBuilder(cfg.BlockCfg, deps.Logger),
		metrics: &Metrics{},
	}
	deps.Selector.Subscribe(func(change netmetrics.ModeChange) {
		s.metrics.IncrementModeChanges()
		if deps.Audit != nil {
			_ = deps.Audit.Info("consensus_mode_changed", map[string]interface{}{
				"from": change.From.String(),
				"to":   change.To.String(),
			})
		}
	})
	return s, nil
}

// Metrics exposes the service counters
func (s *Service) Metrics() *Metrics { return s.metrics }

// Start restores persisted state and launches all worker loops
func (s *Service) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("wiring: service already started")
	}
	s.ctx, s.cancel = context.WithCancel(parent)

	if s.deps.Store != nil {
		if err := RestoreRegistry(s.ctx, s.deps.Registry, s.deps.Store, s.log); err != nil {
			s.cancel()
			return err
		}
		if err := s.deps.Shards.RestoreCheckpoints(s.ctx); err != nil {
			s.cancel()
			return err
		}
	}

	for _, id := range s.deps.Shards.ShardIDs() {
		sh, err := s.deps.Shards.Shard(id)
		if err != nil {
			s.cancel()
			return err
		}
		s.wg.Add(1)
		go s.finalizeLoop(sh)
	}

	s.wg.Add(1)
	go s.selectorLoop()
	s.wg.Add(1)
	go s.rebalanceLoop()

	if s.deps.Anomaly != nil {
		s.wg.Add(1)
		go s.anomalyLoop()
	}
	if s.deps.Snapshots != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deps.Snapshots.Run(s.ctx)
		}()
	}
	if s.deps.Consumer != nil {
		if err := s.deps.Consumer.Start(); err != nil {
			s.cancel()
			return fmt.Errorf("wiring: telemetry consumer: %w", err)
		}
	}
	if s.deps.APIServer != nil {
		if err := s.deps.APIServer.Start(); err != nil {
			s.cancel()
			return fmt.Errorf("wiring: api server: %w", err)
		}
	}

	s.started = true
	s.log.InfoContext(s.ctx, "node service started",
		utils.ZapInt("shards", len(s.deps.Shards.ShardIDs())),
		utils.ZapString("mode", s.deps.Selector.Current().String()))
	return nil
}

// Stop winds the workers down in reverse order of data flow: ingest first,
// then the loops, then the API.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	var firstErr error
	if s.deps.Consumer != nil {
		if err := s.deps.Consumer.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.cancel()
	s.wg.Wait()

	if s.deps.APIServer != nil {
		if err := s.deps.APIServer.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.log.Info("node service stopped")
	return firstErr
}

// SubmitTransaction admits one transaction into the shard set
func (s *Service) SubmitTransaction(ctx context.Context, tx state.Transaction) (uint64, error) {
	id, err := s.deps.Shards.Assign(ctx, tx)
	if err != nil {
		return 0, err
	}
	s.metrics.IncrementTransactionsAssigned()
	return id, nil
}

// finalizeLoop drives one shard: build a block from the pending prefix,
// run it through consensus, and pop the prefix only after finalization.
func (s *Service) finalizeLoop(sh *shard.Shard) {
	defer s.wg.Done()
	interval := s.cfg.BlockCfg.BuildInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.finalizeOnce(sh)
		}
	}
}

func (s *Service) finalizeOnce(sh *shard.Shard) {
	pending := sh.Pending()
	if len(pending) < s.cfg.BlockCfg.MinPendingTxs {
		return
	}
	b, taken := s.builder.Build(sh.Chain(), pending, time.Now())
	if b == nil || taken == 0 {
		return
	}
	if !sh.Reserve(b.Transactions) {
		// queue head changed under a rebalance; rebuild next tick
		return
	}

	start := time.Now()
	err := s.deps.Engine.FinalizeBlock(s.ctx, sh.Chain(), b)
	s.metrics.RecordFinalizeDuration(time.Since(start))
	if err != nil {
		sh.Release()
		if s.ctx.Err() != nil {
			return
		}
		s.metrics.IncrementFinalizationsAborted()
		s.log.WarnContext(s.ctx, "block finalization failed",
			utils.ZapUint64("shard_id", sh.ID()),
			utils.ZapUint64("index", b.Index),
			utils.ZapError(err))
		return
	}

	sh.PopReserved()
	s.metrics.IncrementBlocksFinalized()
	s.metrics.AddTransactionsFinalized(uint64(taken))
	s.metrics.UpdateLastFinalizedIndex(b.Index)
	if err := s.deps.Shards.PersistAfterFinalize(s.ctx, sh.ID()); err != nil {
		s.log.WarnContext(s.ctx, "post-finalize checkpoint failed",
			utils.ZapUint64("shard_id", sh.ID()),
			utils.ZapError(err))
	}
	s.log.InfoContext(s.ctx, "block finalized",
		utils.ZapUint64("shard_id", sh.ID()),
		utils.ZapUint64("index", b.Index),
		utils.ZapInt("txs", taken))
}

func (s *Service) selectorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SelectorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.deps.Selector.Evaluate(s.ctx)
		}
	}
}

func (s *Service) rebalanceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.deps.Shards.Rebalance(s.ctx)
			s.metrics.IncrementRebalanceCycles()
		}
	}
}

// anomalyLoop deactivates validators the scorer flags above threshold
func (s *Service) anomalyLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.AnomalyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			scores, err := s.deps.Anomaly.ScoreValidators(s.ctx)
			if err != nil {
				if s.ctx.Err() == nil {
					s.log.WarnContext(s.ctx, "anomaly scoring failed", utils.ZapError(err))
				}
				continue
			}
			for id, score := range scores {
				if score <= s.cfg.AnomalyThreshold {
					continue
				}
				if err := s.deps.Registry.MarkAnomalous(id, score); err != nil {
					s.log.WarnContext(s.ctx, "anomaly flag failed",
						utils.ZapString("validator_id", string(id)),
						utils.ZapError(err))
					continue
				}
				s.metrics.IncrementAnomaliesFlagged()
			}
		}
	}
}
