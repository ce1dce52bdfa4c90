package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type consensusResponse struct {
	Mode          string `json:"mode"`
	AttemptState  string `json:"attempt_state"`
	PoWDifficulty int    `json:"pow_difficulty"`
}

type validatorResponse struct {
	ID                 string  `json:"id"`
	Reputation         float64 `json:"reputation"`
	Stake              float64 `json:"stake"`
	LatencyMS          uint64  `json:"latency_ms"`
	Active             bool    `json:"active"`
	LastFinalizedBlock uint64  `json:"last_finalized_block"`
	Score              float64 `json:"score"`
}

type shardResponse struct {
	ID          uint64 `json:"id"`
	PendingTxs  int    `json:"pending_txs"`
	ChainHeight uint64 `json:"chain_height"`
}

type shardsResponse struct {
	Shards        []shardResponse `json:"shards"`
	LoadThreshold int             `json:"load_threshold"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleConsensus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, consensusResponse{
		Mode:          s.deps.Selector.Current().String(),
		AttemptState:  s.deps.Engine.State().String(),
		PoWDifficulty: s.deps.Engine.Difficulty(),
	})
}

func (s *Server) handleValidators(w http.ResponseWriter, _ *http.Request) {
	records := s.deps.Registry.Export()
	out := make([]validatorResponse, 0, len(records))
	for i := range records {
		v := &records[i]
		out = append(out, validatorResponse{
			ID:                 string(v.ID),
			Reputation:         v.Reputation,
			Stake:              v.Stake,
			LatencyMS:          v.LatencyMS,
			Active:             v.Active,
			LastFinalizedBlock: v.LastFinalizedBlock,
			Score:              v.Score(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShards(w http.ResponseWriter, _ *http.Request) {
	ids := s.deps.Shards.ShardIDs()
	out := shardsResponse{
		Shards:        make([]shardResponse, 0, len(ids)),
		LoadThreshold: s.deps.Shards.LoadThreshold(),
	}
	for _, id := range ids {
		sh, err := s.deps.Shards.Shard(id)
		if err != nil {
			continue
		}
		out.Shards = append(out.Shards, shardResponse{
			ID:          id,
			PendingTxs:  sh.Load(),
			ChainHeight: sh.Chain().Height(),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("api response encode failed", utils.ZapError(err))
	}
}
