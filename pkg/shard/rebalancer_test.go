package shard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/state"
)

func TestMoveOneTransfersQueueHead(t *testing.T) {
	r := NewRebalancer(nil, nil)
	source := NewShard(0, nopCipher{})
	target := NewShard(1, nopCipher{})

	first := state.NewTransaction("alice", "bob", 5, time.Now())
	second := state.NewTransaction("carol", "dave", 7, time.Now())
	source.Append(first)
	source.Append(second)

	if err := r.MoveOne(context.Background(), source, target); err != nil {
		t.Fatalf("MoveOne: %v", err)
	}
	if source.Load() != 1 || target.Load() != 1 {
		t.Fatalf("loads = %d/%d, want 1/1", source.Load(), target.Load())
	}
	if got := target.Pending()[0].ID; got != first.ID {
		t.Errorf("moved tx = %s, want queue head %s", got, first.ID)
	}
	if got := source.Pending()[0].ID; got != second.ID {
		t.Errorf("remaining tx = %s, want %s", got, second.ID)
	}
	if target.Pending()[0].ContentHash() != first.ContentHash() {
		t.Error("moved transaction content differs from the original")
	}
}

func TestMoveOneDecryptFailureLeavesSourceUntouched(t *testing.T) {
	r := NewRebalancer(nil, nil)
	source := NewShard(0, nopCipher{})
	target := NewShard(1, brokenCipher{})

	tx := state.NewTransaction("alice", "bob", 5, time.Now())
	source.Append(tx)

	err := r.MoveOne(context.Background(), source, target)
	if !errors.Is(err, ErrMoveDecryptFailed) {
		t.Fatalf("err = %v, want ErrMoveDecryptFailed", err)
	}
	if source.Load() != 1 || target.Load() != 0 {
		t.Fatalf("loads = %d/%d after failed move, want 1/0", source.Load(), target.Load())
	}
	if got := source.Pending()[0].ID; got != tx.ID {
		t.Errorf("queue head = %s, want %s", got, tx.ID)
	}
}

func TestMoveOneEmptySource(t *testing.T) {
	r := NewRebalancer(nil, nil)
	source := NewShard(0, nopCipher{})
	target := NewShard(1, nopCipher{})
	if err := r.MoveOne(context.Background(), source, target); !errors.Is(err, ErrNothingToMove) {
		t.Fatalf("err = %v, want ErrNothingToMove", err)
	}
}

func TestMoveOneSameShard(t *testing.T) {
	r := NewRebalancer(nil, nil)
	s := NewShard(0, nopCipher{})
	s.Append(state.NewTransaction("alice", "bob", 5, time.Now()))
	if err := r.MoveOne(context.Background(), s, s); !errors.Is(err, ErrSameShard) {
		t.Fatalf("err = %v, want ErrSameShard", err)
	}
}

func TestMoveOneCancelledContext(t *testing.T) {
	r := NewRebalancer(nil, nil)
	source := NewShard(0, nopCipher{})
	target := NewShard(1, nopCipher{})
	source.Append(state.NewTransaction("alice", "bob", 5, time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.MoveOne(ctx, source, target); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if source.Load() != 1 {
		t.Fatal("cancelled move mutated the source queue")
	}
}

func TestPopNBounds(t *testing.T) {
	s := NewShard(0, nopCipher{})
	for i := 0; i < 3; i++ {
		s.Append(state.NewTransaction("alice", "bob", float64(i+1), time.Now()))
	}
	got := s.PopN(5)
	if len(got) != 3 {
		t.Fatalf("PopN(5) returned %d, want 3", len(got))
	}
	if s.Load() != 0 {
		t.Fatalf("load = %d after draining pop, want 0", s.Load())
	}
}

// Reproduces a move landing in the middle of a finalization window: a
// 3-tx queue where the first two are built into a block while a rebalance
// tries to take the head. The reservation must refuse the move so the pop
// removes exactly the finalized prefix, with nothing duplicated or lost.
func TestFinalizationReservationBlocksMove(t *testing.T) {
	r := NewRebalancer(nil, nil)
	source := NewShard(0, nopCipher{})
	target := NewShard(1, nopCipher{})

	txA := state.NewTransaction("alice", "bob", 1, time.Now())
	txB := state.NewTransaction("carol", "dave", 2, time.Now())
	txC := state.NewTransaction("erin", "frank", 3, time.Now())
	source.Append(txA)
	source.Append(txB)
	source.Append(txC)

	built := source.Pending()[:2]
	if !source.Reserve(built) {
		t.Fatal("Reserve refused a matching prefix")
	}

	if err := r.MoveOne(context.Background(), source, target); !errors.Is(err, ErrHeadReserved) {
		t.Fatalf("err = %v, want ErrHeadReserved", err)
	}
	if source.Load() != 3 || target.Load() != 0 {
		t.Fatalf("loads = %d/%d during reservation, want 3/0", source.Load(), target.Load())
	}

	popped := source.PopReserved()
	if len(popped) != 2 || popped[0].ID != txA.ID || popped[1].ID != txB.ID {
		t.Fatalf("popped %d txs, want the built prefix [%s %s]", len(popped), txA.ID, txB.ID)
	}
	if got := source.Pending(); len(got) != 1 || got[0].ID != txC.ID {
		t.Fatalf("remaining queue = %v, want only %s", got, txC.ID)
	}
	if target.Load() != 0 {
		t.Fatal("refused move still delivered a transaction to the target")
	}

	// the queue is movable again once the reservation is gone
	if err := r.MoveOne(context.Background(), source, target); err != nil {
		t.Fatalf("MoveOne after pop: %v", err)
	}
	if got := target.Pending()[0].ID; got != txC.ID {
		t.Errorf("moved tx = %s, want %s", got, txC.ID)
	}
}

func TestReserveRejectsStaleSnapshot(t *testing.T) {
	r := NewRebalancer(nil, nil)
	source := NewShard(0, nopCipher{})
	target := NewShard(1, nopCipher{})

	txA := state.NewTransaction("alice", "bob", 1, time.Now())
	txB := state.NewTransaction("carol", "dave", 2, time.Now())
	source.Append(txA)
	source.Append(txB)

	snapshot := source.Pending()
	if err := r.MoveOne(context.Background(), source, target); err != nil {
		t.Fatalf("MoveOne: %v", err)
	}

	if source.Reserve(snapshot) {
		t.Fatal("Reserve accepted a snapshot whose head was moved away")
	}
	if got := source.Pending(); len(got) != 1 || got[0].ID != txB.ID {
		t.Fatalf("source queue = %v, want only %s", got, txB.ID)
	}
	if got := target.Pending(); len(got) != 1 || got[0].ID != txA.ID {
		t.Fatalf("target queue = %v, want only %s", got, txA.ID)
	}
}

func TestReleaseReopensQueueForMoves(t *testing.T) {
	r := NewRebalancer(nil, nil)
	source := NewShard(0, nopCipher{})
	target := NewShard(1, nopCipher{})

	tx := state.NewTransaction("alice", "bob", 1, time.Now())
	source.Append(tx)

	if !source.Reserve(source.Pending()) {
		t.Fatal("Reserve refused a matching prefix")
	}
	source.Release()

	if err := r.MoveOne(context.Background(), source, target); err != nil {
		t.Fatalf("MoveOne after release: %v", err)
	}
	if source.Load() != 0 || target.Load() != 1 {
		t.Fatalf("loads = %d/%d, want 0/1", source.Load(), target.Load())
	}
}

func TestReserveRefusedWhileHeld(t *testing.T) {
	s := NewShard(0, nopCipher{})
	s.Append(state.NewTransaction("alice", "bob", 1, time.Now()))
	s.Append(state.NewTransaction("carol", "dave", 2, time.Now()))

	snapshot := s.Pending()
	if !s.Reserve(snapshot[:1]) {
		t.Fatal("first Reserve refused")
	}
	if s.Reserve(snapshot) {
		t.Fatal("second Reserve succeeded over an active reservation")
	}
}
