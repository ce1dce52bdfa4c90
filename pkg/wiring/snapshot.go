package wiring

import (
	"context"
	"fmt"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

const (
	snapshotKeyLatest      = "validators/latest"
	snapshotKeyEpochFormat = "validators/epoch/%d"
)

// EpochStore is the extended KV surface snapshots need: PutIfAbsent gives
// epoch records insert-only semantics across restarts.
type EpochStore interface {
	types.KVStore
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
}

// SnapshotWorker periodically persists the validator registry. Every cycle
// overwrites the latest snapshot; once per epoch interval an immutable
// epoch record is added.
type SnapshotWorker struct {
	registry *validator.Registry
	store    EpochStore
	log      *utils.Logger
	metrics  *Metrics

	interval      time.Duration
	epochInterval time.Duration
}

// NewSnapshotWorker builds the worker with sane fallbacks
func NewSnapshotWorker(registry *validator.Registry, store EpochStore, log *utils.Logger, metrics *Metrics, interval, epochInterval time.Duration) *SnapshotWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if epochInterval <= 0 {
		epochInterval = 10 * time.Minute
	}
	return &SnapshotWorker{
		registry:      registry,
		store:         store,
		log:           log,
		metrics:       metrics,
		interval:      interval,
		epochInterval: epochInterval,
	}
}

// Run loops until the context is cancelled
func (w *SnapshotWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.persist(ctx); err != nil {
				if w.metrics != nil {
					w.metrics.IncrementSnapshotErrors()
				}
				if w.log != nil {
					w.log.WarnContext(ctx, "validator snapshot failed", utils.ZapError(err))
				}
			}
		}
	}
}

func (w *SnapshotWorker) persist(ctx context.Context) error {
	data, err := utils.Encode(w.registry.Export())
	if err != nil {
		return err
	}
	if err := w.store.Put(ctx, snapshotKeyLatest, data); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.IncrementSnapshotWrites()
	}

	epoch := time.Now().Unix() / int64(w.epochInterval.Seconds())
	key := fmt.Sprintf(snapshotKeyEpochFormat, epoch)
	// already-written epochs are left untouched
	_, err = w.store.PutIfAbsent(ctx, key, data)
	return err
}

// RestoreRegistry loads the latest persisted validator set, if present
func RestoreRegistry(ctx context.Context, registry *validator.Registry, store types.KVStore, log *utils.Logger) error {
	data, found, err := store.Get(ctx, snapshotKeyLatest)
	if err != nil {
		return fmt.Errorf("wiring: registry snapshot read: %w", err)
	}
	if !found {
		return nil
	}
	var records []validator.Validator
	if err := utils.Decode(data, &records); err != nil {
		return fmt.Errorf("wiring: registry snapshot decode: %w", err)
	}
	registry.Import(records)
	if log != nil {
		log.Info("validator registry restored",
			utils.ZapInt("validators", len(records)))
	}
	return nil
}
