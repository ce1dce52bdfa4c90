package validator

import (
	"context"
	"math"
	"testing"
)

func newTestRegistry() *Registry {
	return NewRegistry(nil, nil)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := newTestRegistry()
	v := Validator{ID: "v1", Reputation: 0.9, Stake: 100, Active: true}
	if err := r.Register(v); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register(v); err != ErrDuplicateValidator {
		t.Fatalf("expected ErrDuplicateValidator, got %v", err)
	}
}

func TestAdjustUnknownValidator(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Adjust("nobody"); err != ErrUnknownValidator {
		t.Fatalf("expected ErrUnknownValidator, got %v", err)
	}
}

func TestScoringRewardBranch(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(Validator{ID: "v1", Reputation: 0.8, LatencyMS: 30, Stake: 1000, Active: true}); err != nil {
		t.Fatal(err)
	}

	// score = 0.8*0.8 - 30*0.2 + 1000*0.05 = 44.64 -> reward
	rewarded, err := r.Adjust("v1")
	if err != nil {
		t.Fatal(err)
	}
	if !rewarded {
		t.Fatal("expected reward branch")
	}

	v, err := r.Get("v1")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v.Reputation-0.88) > 1e-9 {
		t.Fatalf("reputation = %v, want 0.88", v.Reputation)
	}
	if math.Abs(v.Stake-1050.0) > 1e-9 {
		t.Fatalf("stake = %v, want 1050.0", v.Stake)
	}
}

func TestScoringPenaltyBranch(t *testing.T) {
	r := newTestRegistry()
	// score = 0.5*0.8 - 100*0.2 + 1*0.05 = -19.55 -> penalty
	if err := r.Register(Validator{ID: "v1", Reputation: 0.5, LatencyMS: 100, Stake: 1, Active: true}); err != nil {
		t.Fatal(err)
	}

	rewarded, err := r.Adjust("v1")
	if err != nil {
		t.Fatal(err)
	}
	if rewarded {
		t.Fatal("expected penalty branch")
	}

	v, _ := r.Get("v1")
	if math.Abs(v.Reputation-0.5*0.85) > 1e-9 {
		t.Fatalf("reputation = %v, want %v", v.Reputation, 0.5*0.85)
	}
	if math.Abs(v.Stake-0.95) > 1e-9 {
		t.Fatalf("stake = %v, want 0.95", v.Stake)
	}
}

func TestAdjustAllSkipsInactive(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(Validator{ID: "active", Reputation: 0.8, LatencyMS: 1, Stake: 100, Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Validator{ID: "inactive", Reputation: 0.8, LatencyMS: 1, Stake: 100, Active: false}); err != nil {
		t.Fatal(err)
	}

	rewarded, penalized, err := r.AdjustAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rewarded+penalized != 1 {
		t.Fatalf("expected exactly one adjustment, got %d", rewarded+penalized)
	}

	inactive, _ := r.Get("inactive")
	if inactive.Reputation != 0.8 || inactive.Stake != 100 {
		t.Fatal("inactive validator must not be adjusted")
	}
}

func TestAdjustAllCancelledContext(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(Validator{ID: "v1", Reputation: 0.8, LatencyMS: 1, Stake: 100, Active: true}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := r.AdjustAll(ctx); err == nil {
		t.Fatal("expected context error")
	}
	v, _ := r.Get("v1")
	if v.Reputation != 0.8 {
		t.Fatal("cancelled round must not apply partial adjustments")
	}
}

func TestDeactivateExcludedFromActiveSet(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(Validator{ID: "v1", Active: true})
	_ = r.Register(Validator{ID: "v2", Active: true})
	if err := r.Deactivate("v1"); err != nil {
		t.Fatal(err)
	}

	active := r.ActiveValidators()
	if len(active) != 1 || active[0].ID != "v2" {
		t.Fatalf("active set = %v, want only v2", active)
	}
	// logical deletion only
	if r.Count() != 2 {
		t.Fatalf("count = %d, want 2", r.Count())
	}
}

func TestMarkAnomalous(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(Validator{ID: "v1", Reputation: 0.9, Active: true})
	if err := r.MarkAnomalous("v1", 0.95); err != nil {
		t.Fatal(err)
	}
	v, _ := r.Get("v1")
	if v.Active {
		t.Fatal("anomalous validator must be deactivated")
	}
	if math.Abs(v.Reputation-0.45) > 1e-9 {
		t.Fatalf("reputation = %v, want 0.45", v.Reputation)
	}
}

func TestRecordFinalizedMonotonic(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(Validator{ID: "v1", Active: true})
	_ = r.RecordFinalized("v1", 5)
	_ = r.RecordFinalized("v1", 3)
	v, _ := r.Get("v1")
	if v.LastFinalizedBlock != 5 {
		t.Fatalf("last finalized = %d, want 5", v.LastFinalizedBlock)
	}
}

func TestActiveValidatorsIsSnapshot(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(Validator{ID: "v1", Reputation: 0.9, Active: true})
	snap := r.ActiveValidators()
	snap[0].Reputation = 0.1
	v, _ := r.Get("v1")
	if v.Reputation != 0.9 {
		t.Fatal("snapshot mutation leaked into registry")
	}
}
