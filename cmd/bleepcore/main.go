package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Hamida-ai/BLEEP-V1/pkg/api"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/engine"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/netmetrics"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
	"github.com/Hamida-ai/BLEEP-V1/pkg/crypto"
	"github.com/Hamida-ai/BLEEP-V1/pkg/ingest/kafka"
	"github.com/Hamida-ai/BLEEP-V1/pkg/p2p"
	"github.com/Hamida-ai/BLEEP-V1/pkg/predictor"
	"github.com/Hamida-ai/BLEEP-V1/pkg/shard"
	"github.com/Hamida-ai/BLEEP-V1/pkg/storage"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
	"github.com/Hamida-ai/BLEEP-V1/pkg/wiring"
)

func main() {
	// Load doesn't overwrite variables already present in the environment.
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			fmt.Printf("loaded environment from %s\n", path)
			break
		}
	}

	logger, err := utils.NewLogger(utils.DefaultLogConfig())
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Shutdown() }()

	cfgMgr, err := utils.NewConfigManager(&utils.ConfigManagerConfig{Logger: logger})
	if err != nil {
		log.Fatalf("config manager init failed: %v", err)
	}

	selfID := types.ValidatorID(cfgMgr.GetString("NODE_VALIDATOR_ID", "validator-1"))

	audit, err := utils.NewAuditLogger(&utils.AuditConfig{
		Logger:    logger,
		NodeID:    string(selfID),
		ChainSeed: cfgMgr.GetString("AUDIT_CHAIN_SEED", ""),
	})
	if err != nil {
		log.Fatalf("audit logger init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer, err := buildSigner(cfgMgr)
	if err != nil {
		log.Fatalf("signer init failed: %v", err)
	}

	registry := validator.NewRegistry(logger, audit)
	if err := seedValidators(cfgMgr, registry, selfID, signer.PublicKey()); err != nil {
		log.Fatalf("validator bootstrap failed: %v", err)
	}

	store, err := buildStore(ctx, cfgMgr, logger, audit)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("store close failed", utils.ZapError(closeErr))
		}
	}()

	agg := netmetrics.NewAggregator(cfgMgr.GetInt("METRICS_RETENTION", 0))
	reliability := predictor.NewKNNReliability(cfgMgr.GetInt("PREDICTOR_NEIGHBOURS", 3))
	selector := netmetrics.NewSelector(netmetrics.SelectorConfig{
		WindowSize: cfgMgr.GetInt("SELECTOR_WINDOW", 0),
	}, agg, reliability, logger)

	network, router, err := buildNetwork(ctx, cfgMgr, logger, audit, registry, signer, selfID)
	if err != nil {
		log.Fatalf("network init failed: %v", err)
	}
	defer func() {
		if router != nil {
			if closeErr := router.Close(); closeErr != nil {
				logger.Warn("p2p router close failed", utils.ZapError(closeErr))
			}
		}
	}()

	engineCfg := engine.DefaultConfig()
	engineCfg.PhaseTimeout = cfgMgr.GetDuration("CONSENSUS_PHASE_TIMEOUT", engineCfg.PhaseTimeout)
	engineCfg.PoWInitialDifficulty = cfgMgr.GetInt("POW_INITIAL_DIFFICULTY", engineCfg.PoWInitialDifficulty)
	eng := engine.New(engineCfg, registry, selector, network, signer,
		engine.NewQuorumVerifier(engine.DefaultQuorumConfig()), logger, audit)

	shards, err := buildShardManager(cfgMgr, eng, store, logger, audit)
	if err != nil {
		log.Fatalf("shard manager init failed: %v", err)
	}

	anomaly := predictor.NewLatencyDeviation(func() []predictor.ValidatorStats {
		active := registry.ActiveValidators()
		stats := make([]predictor.ValidatorStats, 0, len(active))
		for _, v := range active {
			stats = append(stats, predictor.ValidatorStats{
				ID:         v.ID,
				Reputation: v.Reputation,
				LatencyMS:  v.LatencyMS,
			})
		}
		return stats
	}, cfgMgr.GetFloat64("ANOMALY_SIGMA_CAP", 3))

	wiringCfg := wiring.LoadConfig(cfgMgr)
	snapshots := wiring.NewSnapshotWorker(registry, store, logger, nil,
		wiringCfg.SnapshotInterval, wiringCfg.EpochInterval)

	consumer, err := buildConsumer(ctx, cfgMgr, agg, logger, audit)
	if err != nil {
		log.Fatalf("telemetry consumer init failed: %v", err)
	}

	apiServer, err := api.NewServer(api.LoadConfig(cfgMgr), api.Dependencies{
		Logger:   logger,
		Engine:   eng,
		Selector: selector,
		Registry: registry,
		Shards:   shards,
	})
	if err != nil {
		log.Fatalf("api server init failed: %v", err)
	}

	service, err := wiring.NewService(wiringCfg, wiring.Dependencies{
		Logger:    logger,
		Audit:     audit,
		Registry:  registry,
		Selector:  selector,
		Engine:    eng,
		Shards:    shards,
		Consumer:  consumer,
		APIServer: apiServer,
		Anomaly:   anomaly,
		Snapshots: snapshots,
		Store:     store,
	})
	if err != nil {
		log.Fatalf("service init failed: %v", err)
	}

	if err := service.Start(ctx); err != nil {
		log.Fatalf("service start failed: %v", err)
	}
	logger.Info("node started",
		utils.ZapString("validator_id", string(selfID)),
		utils.ZapString("mode", selector.Current().String()),
		utils.ZapInt("validators", registry.Count()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown requested")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := service.Stop(stopCtx); err != nil {
		logger.Warn("service stop encountered error", utils.ZapError(err))
	}
	cancel()
	logger.Info("shutdown complete")
}

func buildSigner(cfgMgr *utils.ConfigManager) (*crypto.Ed25519Signer, error) {
	seedHex, err := cfgMgr.GetSecret("VALIDATOR_KEY_SEED")
	if err != nil {
		env := strings.ToLower(cfgMgr.GetString("ENVIRONMENT", "development"))
		if env != "development" && env != "test" {
			return nil, fmt.Errorf("VALIDATOR_KEY_SEED required outside development: %w", err)
		}
		seedHex = ""
	}
	return crypto.NewEd25519Signer(seedHex)
}

// seedValidators loads the initial validator set from VALIDATOR_SET, entries
// of the form "id:reputation:stake[:pubkeyhex]". The local validator is
// registered with the node's own public key when the set omits it.
func seedValidators(cfgMgr *utils.ConfigManager, registry *validator.Registry, selfID types.ValidatorID, selfKey []byte) error {
	entries := cfgMgr.GetStringSlice("VALIDATOR_SET", nil)
	selfSeen := false
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 3 {
			return fmt.Errorf("malformed validator entry %q", entry)
		}
		id := types.ValidatorID(parts[0])
		rep, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return fmt.Errorf("validator %s: bad reputation %q: %w", id, parts[1], err)
		}
		stake, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return fmt.Errorf("validator %s: bad stake %q: %w", id, parts[2], err)
		}
		v := validator.Validator{ID: id, Reputation: rep, Stake: stake, Active: true}
		if len(parts) >= 4 && parts[3] != "" {
			key, err := hex.DecodeString(parts[3])
			if err != nil {
				return fmt.Errorf("validator %s: bad public key: %w", id, err)
			}
			v.PublicKey = key
		}
		if id == selfID {
			selfSeen = true
			if len(v.PublicKey) == 0 {
				v.PublicKey = selfKey
			}
		}
		if err := registry.Register(v); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}
	}
	if !selfSeen {
		self := validator.Validator{
			ID:         selfID,
			Reputation: cfgMgr.GetFloat64("NODE_INITIAL_REPUTATION", 0.8),
			Stake:      cfgMgr.GetFloat64("NODE_INITIAL_STAKE", 1000),
			Active:     true,
			PublicKey:  selfKey,
		}
		if err := registry.Register(self); err != nil {
			return fmt.Errorf("register local validator: %w", err)
		}
	}
	return nil
}

// buildStore selects CockroachDB when DB_DSN is configured, an in-memory
// store otherwise. In-memory is refused outside development and test.
func buildStore(ctx context.Context, cfgMgr *utils.ConfigManager, logger *utils.Logger, audit types.AuditLogger) (wiring.EpochStore, error) {
	if _, err := cfgMgr.GetSecret("DB_DSN"); err != nil {
		if errors.Is(err, utils.ErrSecretMissing) {
			env := strings.ToLower(cfgMgr.GetString("ENVIRONMENT", "development"))
			if env != "development" && env != "test" {
				return nil, fmt.Errorf("DB_DSN required outside development")
			}
			logger.Warn("no DB_DSN configured, checkpoints are held in memory only")
			return storage.NewMemoryStore(), nil
		}
		return nil, err
	}
	dbCfg, err := storage.LoadCockroachConfig(cfgMgr)
	if err != nil {
		return nil, err
	}
	return storage.NewCockroachStore(ctx, dbCfg, logger, audit)
}

// buildNetwork wires the gossip transport when bootstrap peers are
// configured, a registry-backed loopback otherwise (single node).
func buildNetwork(ctx context.Context, cfgMgr *utils.ConfigManager, logger *utils.Logger, audit types.AuditLogger, registry *validator.Registry, signer *crypto.Ed25519Signer, selfID types.ValidatorID) (types.Network, *p2p.Router, error) {
	if !cfgMgr.GetBool("P2P_ENABLED", false) {
		voterMinRep := cfgMgr.GetFloat64("PBFT_VOTER_MIN_REPUTATION", 0.75)
		return p2p.NewLoopbackNetwork(registry, voterMinRep), nil, nil
	}
	router, err := p2p.NewRouter(ctx, p2p.LoadRouterConfig(cfgMgr), logger, audit)
	if err != nil {
		return nil, nil, err
	}
	directory := wiring.NewRegistryDirectory(registry)
	network, err := p2p.NewGossipNetwork(router, signer, selfID, directory, directory, logger)
	if err != nil {
		_ = router.Close()
		return nil, nil, err
	}
	return network, router, nil
}

func buildShardManager(cfgMgr *utils.ConfigManager, eng *engine.Engine, store types.KVStore, logger *utils.Logger, audit types.AuditLogger) (*shard.Manager, error) {
	masterKey, err := shardMasterKey(cfgMgr)
	if err != nil {
		return nil, err
	}
	numShards := uint64(cfgMgr.GetIntRange("SHARD_COUNT", 4, 1, 1024))
	ciphers := make(map[uint64]types.ShardCipher, numShards)
	for id := uint64(0); id < numShards; id++ {
		cipher, err := crypto.NewShardAEAD(masterKey, id)
		if err != nil {
			return nil, fmt.Errorf("shard %d cipher: %w", id, err)
		}
		ciphers[id] = cipher
	}
	cfg := shard.Config{
		NumShards:            numShards,
		InitialLoadThreshold: cfgMgr.GetInt("SHARD_LOAD_THRESHOLD", 10),
		RebalanceCooldown:    cfgMgr.GetDuration("SHARD_REBALANCE_COOLDOWN", 60*time.Second),
	}
	return shard.NewManager(cfg, ciphers, predictor.MinLoadShard{}, wiring.NewEngineGate(eng),
		shard.NewRebalancer(logger, audit), store, logger, audit)
}

func shardMasterKey(cfgMgr *utils.ConfigManager) ([]byte, error) {
	keyHex, err := cfgMgr.GetSecret("SHARD_MASTER_KEY")
	if err != nil {
		env := strings.ToLower(cfgMgr.GetString("ENVIRONMENT", "development"))
		if env != "development" && env != "test" {
			return nil, fmt.Errorf("SHARD_MASTER_KEY required outside development: %w", err)
		}
		// Dev fallback: checkpoints from a previous run stay readable.
		return []byte("bleep-development-master-key-0001"), nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("SHARD_MASTER_KEY is not hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("SHARD_MASTER_KEY too short: want >= 32 bytes, got %d", len(key))
	}
	return key, nil
}

func buildConsumer(ctx context.Context, cfgMgr *utils.ConfigManager, agg *netmetrics.Aggregator, logger *utils.Logger, audit types.AuditLogger) (*kafka.Consumer, error) {
	brokers := cfgMgr.GetStringSlice("KAFKA_BROKERS", nil)
	if len(brokers) == 0 {
		logger.Info("no KAFKA_BROKERS configured, telemetry ingest disabled")
		return nil, nil
	}
	saramaCfg, err := kafka.BuildSaramaConfig(cfgMgr, logger, audit)
	if err != nil {
		return nil, err
	}
	return kafka.NewConsumer(ctx, kafka.ConsumerConfig{
		Brokers:     brokers,
		GroupID:     cfgMgr.GetString("KAFKA_GROUP_ID", "bleep-telemetry"),
		VerifierCfg: kafka.DefaultVerifierConfig(),
	}, saramaCfg, agg, logger, audit)
}
