package wiring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/block"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/engine"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/netmetrics"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
	"github.com/Hamida-ai/BLEEP-V1/pkg/crypto"
	"github.com/Hamida-ai/BLEEP-V1/pkg/p2p"
	"github.com/Hamida-ai/BLEEP-V1/pkg/predictor"
	"github.com/Hamida-ai/BLEEP-V1/pkg/shard"
	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
	"github.com/Hamida-ai/BLEEP-V1/pkg/storage"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	log, err := utils.NewLogger(&utils.LogConfig{
		Level:           "error",
		OutputPath:      filepath.Join(t.TempDir(), "test.log"),
		ErrorOutputPath: "stderr",
		Component:       "wiring-test",
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(func() { _ = log.Shutdown() })
	return log
}

type fixedPredictor struct {
	value float64
}

func (p fixedPredictor) PredictReliability([]types.NetworkSample) (float64, error) {
	return p.value, nil
}

func serviceFixture(t *testing.T) (*Service, *shard.Manager, *validator.Registry, *storage.MemoryStore) {
	t.Helper()

	registry := validator.NewRegistry(nil, nil)
	records := []validator.Validator{
		{ID: "v1", Reputation: 0.8, Stake: 1000, Active: true},
		{ID: "v2", Reputation: 0.6, Stake: 750, Active: true},
		{ID: "v3", Reputation: 0.9, Stake: 1500, Active: true},
	}
	for _, v := range records {
		if err := registry.Register(v); err != nil {
			t.Fatalf("register %s: %v", v.ID, err)
		}
	}

	agg := netmetrics.NewAggregator(0)
	selector := netmetrics.NewSelector(netmetrics.SelectorConfig{}, agg, fixedPredictor{value: 0.95}, nil)
	network := p2p.NewLoopbackNetwork(registry, 0.75)
	signer, err := crypto.NewEd25519Signer("")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	eng := engine.New(engine.DefaultConfig(), registry, selector, network, signer,
		engine.NewQuorumVerifier(engine.DefaultQuorumConfig()), nil, nil)

	store := storage.NewMemoryStore()
	masterKey := make([]byte, 32)
	ciphers := map[uint64]types.ShardCipher{}
	for id := uint64(0); id < 2; id++ {
		cipher, err := crypto.NewShardAEAD(masterKey, id)
		if err != nil {
			t.Fatalf("cipher: %v", err)
		}
		ciphers[id] = cipher
	}
	shards, err := shard.NewManager(shard.Config{NumShards: 2}, ciphers,
		predictor.MinLoadShard{}, NewEngineGate(eng), shard.NewRebalancer(nil, nil), store, nil, nil)
	if err != nil {
		t.Fatalf("shard manager: %v", err)
	}

	blockCfg := block.DefaultConfig()
	blockCfg.BuildInterval = 10 * time.Millisecond
	blockCfg.MinPendingTxs = 1

	log := testLogger(t)
	svc, err := NewService(Config{
		BlockCfg:          blockCfg,
		SelectorInterval:  50 * time.Millisecond,
		RebalanceInterval: time.Hour,
	}, Dependencies{
		Logger:   log,
		Registry: registry,
		Selector: selector,
		Engine:   eng,
		Shards:   shards,
		Store:    store,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, shards, registry, store
}

func TestServiceFinalizesPendingTransactions(t *testing.T) {
	svc, shards, _, _ := serviceFixture(t)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	tx := state.NewTransaction("alice", "bob", 25, time.Now())
	shardID, err := svc.SubmitTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	sh, err := shards.Shard(shardID)
	if err != nil {
		t.Fatalf("shard: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sh.Chain().Height() > 0 && sh.Load() == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if sh.Chain().Height() == 0 {
		t.Fatal("no block finalized within deadline")
	}
	if sh.Load() != 0 {
		t.Fatalf("pending queue not drained: load=%d", sh.Load())
	}

	snap := svc.Metrics().GetSnapshot()
	if snap.BlocksFinalized == 0 || snap.TransactionsFinalized == 0 {
		t.Fatalf("metrics not updated: %+v", snap)
	}
}

func TestEngineGateAllowsIdleEngine(t *testing.T) {
	svc, _, _, _ := serviceFixture(t)
	gate := NewEngineGate(svc.deps.Engine)

	if !gate.ValidateRebalance(context.Background(), 0, 1) {
		t.Fatal("idle engine should allow rebalance")
	}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if gate.ValidateRebalance(cancelled, 0, 1) {
		t.Fatal("cancelled context should deny rebalance")
	}
}

func TestRegistryDirectoryLookup(t *testing.T) {
	registry := validator.NewRegistry(nil, nil)
	key := make([]byte, 32)
	key[0] = 7
	if err := registry.Register(validator.Validator{
		ID: "v1", Reputation: 0.8, Stake: 100, Active: true, PublicKey: key,
	}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(validator.Validator{
		ID: "v2", Reputation: 0.8, Stake: 100, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	dir := NewRegistryDirectory(registry)
	got, ok := dir.PublicKeyOf("v1")
	if !ok || got[0] != 7 {
		t.Fatalf("PublicKeyOf(v1) = %v, %v", got, ok)
	}
	if _, ok := dir.PublicKeyOf("v2"); ok {
		t.Fatal("v2 has no key registered")
	}
	if _, ok := dir.PublicKeyOf("unknown"); ok {
		t.Fatal("unknown validator resolved a key")
	}
	if dir.Count() != 2 {
		t.Fatalf("Count = %d, want 2", dir.Count())
	}
}

func TestRegistryDirectoryCountsOnlyActive(t *testing.T) {
	registry := validator.NewRegistry(nil, nil)
	for _, id := range []types.ValidatorID{"v1", "v2", "v3"} {
		if err := registry.Register(validator.Validator{
			ID: id, Reputation: 0.8, Stake: 100, Active: true,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := registry.Deactivate("v2"); err != nil {
		t.Fatal(err)
	}

	dir := NewRegistryDirectory(registry)
	if got := dir.Count(); got != 2 {
		t.Fatalf("Count = %d after a deactivation, want 2", got)
	}
	if got := registry.Count(); got != 3 {
		t.Fatalf("registry.Count = %d, want all 3 records", got)
	}
}

func TestSnapshotPersistAndRestore(t *testing.T) {
	registry := validator.NewRegistry(nil, nil)
	if err := registry.Register(validator.Validator{
		ID: "v1", Reputation: 0.8, Stake: 1000, Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	store := storage.NewMemoryStore()
	w := NewSnapshotWorker(registry, store, nil, &Metrics{}, time.Second, time.Minute)

	ctx := context.Background()
	if err := w.persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, found, _ := store.Get(ctx, snapshotKeyLatest); !found {
		t.Fatal("latest snapshot missing")
	}

	restored := validator.NewRegistry(nil, nil)
	if err := RestoreRegistry(ctx, restored, store, nil); err != nil {
		t.Fatalf("restore: %v", err)
	}
	v, err := restored.Get("v1")
	if err != nil {
		t.Fatalf("restored registry missing v1: %v", err)
	}
	if v.Reputation != 0.8 || v.Stake != 1000 {
		t.Fatalf("restored record = %+v", v)
	}
}
