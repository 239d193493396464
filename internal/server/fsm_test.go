package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/devghori1264/aerophoenix/laundromat/internal/cache"
	"github.com/devghori1264/aerophoenix/laundromat/internal/hardware"
	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
	"github.com/devghori1264/aerophoenix/laundromat/internal/storage"
)

func TestRequestStartSequenceOnBadger(t *testing.T) {
	store, err := storage.NewBadgerStore(filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer store.Close()

	c, err := cache.NewRistrettoCache(100, 0)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	for _, id := range []string{"m1", "m2"} {
		if err := store.PutMachine(ctx, &models.Machine{ID: id, LocationID: "L1", Status: models.StatusAvailable}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	s := New(store, c, hardware.NewSimulator(0))

	// reserve
	res, err := s.RequestMachine(ctx, "L1", "j1")
	if err != nil {
		t.Fatalf("request err: %v", err)
	}
	if res.Code != models.CodeOK || res.Machine.ID != "m1" {
		t.Fatalf("expected m1 reserved, got %s %+v", res.Code, res.Machine)
	}

	// get goes through the cache and matches the store
	gRes, err := s.GetMachine(ctx, "m1")
	if err != nil {
		t.Fatalf("get err: %v", err)
	}
	if gRes.Machine.Status != models.StatusAwaitingDropoff {
		t.Fatalf("expected AWAITING_DROPOFF got %s", gRes.Machine.Status)
	}

	// start
	sRes, err := s.StartMachine(ctx, "m1")
	if err != nil {
		t.Fatalf("start err: %v", err)
	}
	if sRes.Code != models.CodeOK {
		t.Fatalf("expected OK got %s", sRes.Code)
	}

	// fetch from the store directly and check running
	stored, err := store.GetMachine(ctx, "m1")
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if stored.Status != models.StatusRunning || stored.CurrentJobID != "j1" {
		t.Fatalf("expected RUNNING/j1 got %s/%s", stored.Status, stored.CurrentJobID)
	}

	// the cached record carries the store's bookkeeping
	cachedRes, _ := s.GetMachine(ctx, "m1")
	if cachedRes.Machine.Version != stored.Version || !cachedRes.Machine.UpdatedAt.Equal(stored.UpdatedAt) {
		t.Fatalf("cached version/updatedAt %d/%v, store %d/%v",
			cachedRes.Machine.Version, cachedRes.Machine.UpdatedAt, stored.Version, stored.UpdatedAt)
	}
	if sRes.Machine.Version != stored.Version {
		t.Fatalf("start result version %d, store %d", sRes.Machine.Version, stored.Version)
	}

	// starting again is rejected
	again, _ := s.StartMachine(ctx, "m1")
	if again.Code != models.CodeBadRequest {
		t.Fatalf("expected BAD_REQUEST got %s", again.Code)
	}

	// the next reservation gets m2
	next, _ := s.RequestMachine(ctx, "L1", "j2")
	if next.Code != models.CodeOK || next.Machine.ID != "m2" {
		t.Fatalf("expected m2 reserved, got %s %+v", next.Code, next.Machine)
	}
	none, _ := s.RequestMachine(ctx, "L1", "j3")
	if none.Code != models.CodeNotFound {
		t.Fatalf("expected NOT_FOUND got %s", none.Code)
	}
}
