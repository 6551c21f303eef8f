package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"alphaedge/internal/models"
	"alphaedge/internal/store"
)

// ============================================================
// Position Index Tests
// ============================================================

func TestIndexAddAndLookup(t *testing.T) {
	idx := NewPositionIndex(store.NewMemoryStore())
	ctx := context.Background()

	position := openPosition("pos_1", "user-1", "NIFTY:2026-08-27:CE:24000")
	if err := idx.Add(ctx, position); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	has, err := idx.HasOpenPosition(ctx, "user-1", position.Identifier)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Error("expected open position to be indexed")
	}

	// Same instrument, different user: no conflict
	has, err = idx.HasOpenPosition(ctx, "user-2", position.Identifier)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Error("index leaked position across users")
	}

	got, err := idx.Get(ctx, "pos_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Quantity != 50 {
		t.Errorf("expected quantity 50, got %d", got.Quantity)
	}
}

func TestIndexRejectsDuplicate(t *testing.T) {
	idx := NewPositionIndex(store.NewMemoryStore())
	ctx := context.Background()

	identifier := "NIFTY:2026-08-27:CE:24000"
	if err := idx.Add(ctx, openPosition("pos_1", "user-1", identifier)); err != nil {
		t.Fatalf("first add failed: %v", err)
	}

	err := idx.Add(ctx, openPosition("pos_2", "user-1", identifier))
	if !errors.Is(err, ErrDuplicatePosition) {
		t.Fatalf("expected ErrDuplicatePosition, got %v", err)
	}
}

// Concurrent creates for the same (user, instrument) must admit exactly one.
func TestIndexUniquenessUnderConcurrency(t *testing.T) {
	idx := NewPositionIndex(store.NewMemoryStore())
	ctx := context.Background()
	identifier := "NIFTY:2026-08-27:CE:24000"

	const workers = 32

	var wg sync.WaitGroup
	admitted := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			position := openPosition(fmt.Sprintf("pos_%d", n), "user-1", identifier)
			if err := idx.Add(ctx, position); err == nil {
				admitted <- position.ID
			}
		}(i)
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly 1 admitted position, got %d", count)
	}
}

func TestIndexRemove(t *testing.T) {
	idx := NewPositionIndex(store.NewMemoryStore())
	ctx := context.Background()

	position := openPosition("pos_1", "user-1", "NIFTY:2026-08-27:CE:24000")
	if err := idx.Add(ctx, position); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := idx.Remove(ctx, position); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	has, err := idx.HasOpenPosition(ctx, "user-1", position.Identifier)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Error("removed position still indexed")
	}

	if _, err := idx.Get(ctx, "pos_1"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}

	// After removal a new position for the same instrument is allowed
	if err := idx.Add(ctx, openPosition("pos_2", "user-1", position.Identifier)); err != nil {
		t.Errorf("re-add after removal failed: %v", err)
	}
}

func TestIndexListPositions(t *testing.T) {
	idx := NewPositionIndex(store.NewMemoryStore())
	ctx := context.Background()

	if err := idx.Add(ctx, openPosition("pos_1", "user-1", "NIFTY:2026-08-27:CE:24000")); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, openPosition("pos_2", "user-1", "BANKNIFTY:2026-08-27:PE:51000")); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, openPosition("pos_3", "user-2", "NIFTY:2026-08-27:CE:24000")); err != nil {
		t.Fatal(err)
	}

	positions, err := idx.ListPositions(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Errorf("expected 2 positions for user-1, got %d", len(positions))
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 total positions, got %d", count)
	}
}

// Repair must re-add missing mapping entries and drop orphaned ones.
func TestIndexRepair(t *testing.T) {
	keyed := store.NewMemoryStore()
	idx := NewPositionIndex(keyed)
	ctx := context.Background()

	position := openPosition("pos_1", "user-1", "NIFTY:2026-08-27:CE:24000")
	if err := idx.Add(ctx, position); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash between store write and index update: wipe one
	// mapping and plant an orphan in the other
	if err := keyed.HDel(ctx, store.CategoryPositionIDMappings, position.Identifier); err != nil {
		t.Fatal(err)
	}
	if err := keyed.HSet(ctx, store.CategoryPositionUserMappings, "user-9", []string{"pos_ghost"}); err != nil {
		t.Fatal(err)
	}

	repaired, err := idx.Repair(ctx)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if repaired != 2 {
		t.Errorf("expected 2 fixes, got %d", repaired)
	}

	has, err := idx.HasOpenPosition(ctx, "user-1", position.Identifier)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("repair did not restore instrument mapping")
	}

	var ghost []string
	found, err := keyed.HGet(ctx, store.CategoryPositionUserMappings, "user-9", &ghost)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("repair did not drop orphaned mapping")
	}
}

func TestIndexUpdateKeepsMappings(t *testing.T) {
	idx := NewPositionIndex(store.NewMemoryStore())
	ctx := context.Background()

	position := openPosition("pos_1", "user-1", "NIFTY:2026-08-27:CE:24000")
	if err := idx.Add(ctx, position); err != nil {
		t.Fatal(err)
	}

	position.Status = models.PositionStatusExitFailed
	position.ShouldExit = true
	if err := idx.Update(ctx, position); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := idx.Get(ctx, "pos_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.PositionStatusExitFailed || !got.ShouldExit {
		t.Errorf("update lost fields: %+v", got)
	}

	has, err := idx.HasOpenPosition(ctx, "user-1", position.Identifier)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("update must not drop index membership")
	}
}
