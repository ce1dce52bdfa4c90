package wiring

import (
	"context"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/engine"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
)

// RegistryDirectory adapts the validator registry to the vote transport's
// key lookup and membership views.
type RegistryDirectory struct {
	registry *validator.Registry
}

// NewRegistryDirectory wraps a registry
func NewRegistryDirectory(r *validator.Registry) *RegistryDirectory {
	return &RegistryDirectory{registry: r}
}

// PublicKeyOf returns the registered key for a validator, if any
func (d *RegistryDirectory) PublicKeyOf(id types.ValidatorID) ([]byte, bool) {
	v, err := d.registry.Get(id)
	if err != nil || len(v.PublicKey) == 0 {
		return nil, false
	}
	return v.PublicKey, true
}

// Count reports the active validator count. Deactivated validators do not
// vote and must not inflate the quorum size.
func (d *RegistryDirectory) Count() int {
	return d.registry.ActiveCount()
}

// EngineGate defers shard moves while a finalization attempt is in flight.
// It is advisory backpressure; the shard queue reservation is what keeps a
// move from racing a block built from the same queue.
type EngineGate struct {
	engine *engine.Engine
}

// NewEngineGate wraps an engine
func NewEngineGate(e *engine.Engine) *EngineGate {
	return &EngineGate{engine: e}
}

// ValidateRebalance checks both shards' consistency preconditions
func (g *EngineGate) ValidateRebalance(ctx context.Context, _, _ uint64) bool {
	if ctx.Err() != nil {
		return false
	}
	switch g.engine.State() {
	case types.StateProposing, types.StateAwaitingPrepare, types.StateAwaitingCommit:
		return false
	default:
		return true
	}
}
