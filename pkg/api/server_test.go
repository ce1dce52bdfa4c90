package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/engine"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/netmetrics"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
	"github.com/Hamida-ai/BLEEP-V1/pkg/crypto"
	"github.com/Hamida-ai/BLEEP-V1/pkg/p2p"
	"github.com/Hamida-ai/BLEEP-V1/pkg/predictor"
	"github.com/Hamida-ai/BLEEP-V1/pkg/shard"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

type fixedReliability struct{ value float64 }

func (p fixedReliability) PredictReliability([]types.NetworkSample) (float64, error) {
	return p.value, nil
}

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	log, err := utils.NewLogger(&utils.LogConfig{
		Level:           "error",
		OutputPath:      filepath.Join(t.TempDir(), "test.log"),
		ErrorOutputPath: "stderr",
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(func() { _ = log.Shutdown() })
	return log
}

func testServer(t *testing.T) *Server {
	t.Helper()
	log := testLogger(t)

	registry := validator.NewRegistry(nil, nil)
	for _, v := range []validator.Validator{
		{ID: "v1", Reputation: 0.8, Stake: 1000, Active: true},
		{ID: "v2", Reputation: 0.6, Stake: 750, Active: true},
	} {
		if err := registry.Register(v); err != nil {
			t.Fatal(err)
		}
	}

	agg := netmetrics.NewAggregator(0)
	selector := netmetrics.NewSelector(netmetrics.SelectorConfig{}, agg, fixedReliability{0.95}, nil)
	signer, err := crypto.NewEd25519Signer("")
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.New(engine.DefaultConfig(), registry, selector,
		p2p.NewLoopbackNetwork(registry, 0.75), signer,
		engine.NewQuorumVerifier(engine.DefaultQuorumConfig()), nil, nil)

	ciphers := make(map[uint64]types.ShardCipher)
	for id := uint64(0); id < 2; id++ {
		c, err := crypto.NewShardAEAD(bytes.Repeat([]byte{7}, 32), id)
		if err != nil {
			t.Fatal(err)
		}
		ciphers[id] = c
	}
	shards, err := shard.NewManager(shard.Config{NumShards: 2}, ciphers,
		predictor.MinLoadShard{}, nil, shard.NewRebalancer(nil, nil), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Config{}, Dependencies{
		Logger:   log,
		Engine:   eng,
		Selector: selector,
		Registry: registry,
		Shards:   shards,
	})
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := get(t, testServer(t), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Fatalf("status field = %q", body.Status)
	}
}

func TestConsensusEndpoint(t *testing.T) {
	rec := get(t, testServer(t), "/v1/consensus")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body consensusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Mode == "" || body.AttemptState != "idle" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.PoWDifficulty <= 0 {
		t.Fatalf("pow_difficulty = %d", body.PoWDifficulty)
	}
}

func TestValidatorsEndpointSorted(t *testing.T) {
	rec := get(t, testServer(t), "/v1/validators")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body []validatorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body) != 2 || body[0].ID != "v1" || body[1].ID != "v2" {
		t.Fatalf("unexpected validators %+v", body)
	}
	if body[0].Score == 0 {
		t.Fatal("score not populated")
	}
}

func TestShardsEndpoint(t *testing.T) {
	rec := get(t, testServer(t), "/v1/shards")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body shardsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Shards) != 2 {
		t.Fatalf("shards = %d, want 2", len(body.Shards))
	}
	if body.LoadThreshold <= 0 {
		t.Fatalf("load_threshold = %d", body.LoadThreshold)
	}
}

func TestNonGETRejected(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("Allow header = %q", rec.Header().Get("Allow"))
	}
}
