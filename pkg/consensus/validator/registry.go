package validator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

var (
	ErrDuplicateValidator = errors.New("validator: duplicate registration")
	ErrUnknownValidator   = errors.New("validator: unknown id")
)

// Scoring rule constants. The rule is deterministic and reproduced exactly:
// score = reputation*0.8 - latency*0.2 + stake*0.05; below 0.5 is a penalty
// round, otherwise a reward round. No floor or ceiling is applied here;
// bounds, if any, are the operator's configuration concern.
const (
	scoreReputationWeight = 0.8
	scoreLatencyWeight    = 0.2
	scoreStakeWeight      = 0.05
	scoreRewardCutoff     = 0.5

	penaltyReputationFactor = 0.85
	penaltyStakeFactor      = 0.95
	rewardReputationFactor  = 1.1
	rewardStakeFactor       = 1.05

	anomalyReputationFactor = 0.5
)

// Validator holds one validator's registry record. Records are mutated every
// consensus round and deactivated on anomaly, never physically deleted.
type Validator struct {
	ID                 types.ValidatorID `cbor:"1,keyasint"`
	Reputation         float64           `cbor:"2,keyasint"`
	Stake              float64           `cbor:"3,keyasint"`
	LatencyMS          uint64            `cbor:"4,keyasint"`
	Active             bool              `cbor:"5,keyasint"`
	LastFinalizedBlock uint64            `cbor:"6,keyasint"`
	PublicKey          []byte            `cbor:"7,keyasint,omitempty"`
}

// Score computes the round score for this record
func (v *Validator) Score() float64 {
	return v.Reputation*scoreReputationWeight -
		float64(v.LatencyMS)*scoreLatencyWeight +
		v.Stake*scoreStakeWeight
}

// Registry is the authoritative validator set, shared by every finalization
// attempt across all shards. All mutation happens under one lock so
// concurrent reward/penalty application cannot lose updates.
type Registry struct {
	mu    sync.RWMutex
	byID  map[types.ValidatorID]*Validator
	log   *utils.Logger
	audit types.AuditLogger
}

// NewRegistry creates an empty registry
func NewRegistry(log *utils.Logger, audit types.AuditLogger) *Registry {
	return &Registry{
		byID:  make(map[types.ValidatorID]*Validator),
		log:   log,
		audit: audit,
	}
}

// Register adds a validator. Duplicate identities are a caller bug or a
// replay and always surface as ErrDuplicateValidator.
func (r *Registry) Register(v Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[v.ID]; exists {
		return ErrDuplicateValidator
	}
	cp := v
	r.byID[v.ID] = &cp
	if r.log != nil {
		r.log.Info("validator registered",
			utils.ZapString("validator_id", string(v.ID)),
			utils.ZapFloat64("stake", v.Stake),
			utils.ZapFloat64("reputation", v.Reputation))
	}
	return nil
}

// Adjust applies the scoring rule to one validator atomically.
// Returns true when the round was a reward.
func (r *Registry) Adjust(id types.ValidatorID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok {
		return false, ErrUnknownValidator
	}
	return r.adjustLocked(v), nil
}

// AdjustAll runs one scoring round over every active validator. The whole
// round runs under the registry lock: a cancelled context aborts before the
// round, never mid-validator.
func (r *Registry) AdjustAll(ctx context.Context) (rewarded, penalized int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.byID {
		if !v.Active {
			continue
		}
		if r.adjustLocked(v) {
			rewarded++
		} else {
			penalized++
		}
	}
	return rewarded, penalized, nil
}

func (r *Registry) adjustLocked(v *Validator) bool {
	score := v.Score()
	if score < scoreRewardCutoff {
		v.Reputation *= penaltyReputationFactor
		v.Stake *= penaltyStakeFactor
		if r.log != nil {
			r.log.Debug("validator penalized",
				utils.ZapString("validator_id", string(v.ID)),
				utils.ZapFloat64("score", score),
				utils.ZapFloat64("reputation", v.Reputation),
				utils.ZapFloat64("stake", v.Stake))
		}
		return false
	}
	v.Reputation *= rewardReputationFactor
	v.Stake *= rewardStakeFactor
	if r.log != nil {
		r.log.Debug("validator rewarded",
			utils.ZapString("validator_id", string(v.ID)),
			utils.ZapFloat64("score", score),
			utils.ZapFloat64("reputation", v.Reputation),
			utils.ZapFloat64("stake", v.Stake))
	}
	return true
}

// Deactivate marks a validator inactive. The record stays for audit.
func (r *Registry) Deactivate(id types.ValidatorID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok {
		return ErrUnknownValidator
	}
	v.Active = false
	if r.audit != nil {
		_ = r.audit.Warn("validator_deactivated", map[string]interface{}{
			"validator_id": string(id),
		})
	}
	return nil
}

// MarkAnomalous halves the validator's reputation and deactivates it.
// Called when the anomaly scorer flags the validator as misbehaving.
func (r *Registry) MarkAnomalous(id types.ValidatorID, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok {
		return ErrUnknownValidator
	}
	v.Reputation *= anomalyReputationFactor
	v.Active = false
	if r.audit != nil {
		_ = r.audit.Security("validator_anomaly", map[string]interface{}{
			"validator_id":  string(id),
			"anomaly_score": score,
			"reputation":    v.Reputation,
		})
	}
	return nil
}

// RecordFinalized advances a validator's last-finalized index.
// The index never moves backward.
func (r *Registry) RecordFinalized(id types.ValidatorID, index uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok {
		return ErrUnknownValidator
	}
	if index > v.LastFinalizedBlock {
		v.LastFinalizedBlock = index
	}
	return nil
}

// Get returns a copy of one validator record
func (r *Registry) Get(id types.ValidatorID) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	if !ok {
		return Validator{}, ErrUnknownValidator
	}
	return *v, nil
}

// ActiveValidators returns a snapshot of active validators, sorted by id for
// deterministic iteration. Inactive validators are never returned: they must
// not be selected as leader or counted toward quorum.
func (r *Registry) ActiveValidators() []Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Validator, 0, len(r.byID))
	for _, v := range r.byID {
		if v.Active {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the total number of registered validators, active or not
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ActiveCount returns how many validators are currently active. Quorum
// sizing uses this, not Count: a deactivated validator cannot vote.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, v := range r.byID {
		if v.Active {
			n++
		}
	}
	return n
}

// Export returns a snapshot of every record, for persistence
func (r *Registry) Export() []Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Validator, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Import merges persisted records into the registry, overwriting by id.
// Used at boot before any round runs.
func (r *Registry) Import(records []Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range records {
		cp := v
		r.byID[v.ID] = &cp
	}
}
