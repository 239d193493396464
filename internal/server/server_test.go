package server

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/devghori1264/aerophoenix/laundromat/internal/cache"
	"github.com/devghori1264/aerophoenix/laundromat/internal/hardware"
	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
)

func TestRequestMachineReservesFirstAvailable(t *testing.T) {
	f := newFixture(t, nil,
		&models.Machine{ID: "m0", LocationID: "L1", Status: models.StatusRunning},
		available("m1", "L1"),
		available("m2", "L1"),
		available("x1", "L2"),
	)

	res, err := f.srv.RequestMachine(context.Background(), "L1", "j1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != models.CodeOK {
		t.Fatalf("expected OK, got %s (%s)", res.Code, res.Message)
	}
	if res.Machine.ID != "m1" {
		t.Fatalf("expected m1, got %s", res.Machine.ID)
	}
	if res.Machine.Status != models.StatusAwaitingDropoff || res.Machine.CurrentJobID != "j1" {
		t.Fatalf("unexpected record: %+v", res.Machine)
	}

	stored, cached := f.stored(t, "m1"), f.cached(t, "m1")
	if stored.Status != models.StatusAwaitingDropoff || stored.CurrentJobID != "j1" {
		t.Fatalf("store not updated: %+v", stored)
	}
	if cached.Status != stored.Status || cached.CurrentJobID != stored.CurrentJobID {
		t.Fatalf("cache %+v disagrees with store %+v", cached, stored)
	}
	if cached.Version != stored.Version || res.Machine.Version != stored.Version {
		t.Fatalf("version: result %d, cache %d, store %d", res.Machine.Version, cached.Version, stored.Version)
	}
	if f.stored(t, "m2").Status != models.StatusAvailable {
		t.Fatalf("m2 should be untouched")
	}
}

func TestRequestMachineNoneAvailable(t *testing.T) {
	f := newFixture(t, nil,
		&models.Machine{ID: "m1", LocationID: "L1", Status: models.StatusRunning},
		&models.Machine{ID: "m2", LocationID: "L1", Status: models.StatusAwaitingDropoff, CurrentJobID: "j0"},
	)

	for _, loc := range []string{"L1", "empty"} {
		res, err := f.srv.RequestMachine(context.Background(), loc, "j1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Code != models.CodeNotFound {
			t.Fatalf("expected NOT_FOUND for %s, got %s", loc, res.Code)
		}
		if res.Machine != nil {
			t.Fatalf("expected no machine on NOT_FOUND")
		}
	}

	if _, _, writes := f.store.counts(); writes != 0 {
		t.Fatalf("expected no store writes, got %d", writes)
	}
	for _, id := range []string{"m1", "m2"} {
		if _, ok, _ := f.cache.Get(context.Background(), id); ok {
			t.Fatalf("expected %s not to be cached", id)
		}
	}
	if got := f.stored(t, "m2").CurrentJobID; got != "j0" {
		t.Fatalf("job id changed to %q", got)
	}
}

func TestRequestMachineRequiresInputs(t *testing.T) {
	f := newFixture(t, nil, available("m1", "L1"))

	for _, tc := range [][2]string{{"", "j1"}, {"L1", ""}} {
		res, err := f.srv.RequestMachine(context.Background(), tc[0], tc[1])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Code != models.CodeBadRequest {
			t.Fatalf("expected BAD_REQUEST for %q/%q, got %s", tc[0], tc[1], res.Code)
		}
	}
	if f.stored(t, "m1").Status != models.StatusAvailable {
		t.Fatalf("machine mutated on bad request")
	}
}

func TestGetMachineReadThrough(t *testing.T) {
	f := newFixture(t, nil, &models.Machine{ID: "m1", LocationID: "L1", Status: models.StatusAwaitingDropoff, CurrentJobID: "j1"})
	ctx := context.Background()

	first, err := f.srv.GetMachine(ctx, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.srv.GetMachine(ctx, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Code != models.CodeOK || second.Code != models.CodeOK {
		t.Fatalf("expected OK twice, got %s and %s", first.Code, second.Code)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ: %+v vs %+v", first.Machine, second.Machine)
	}
	if gets, _, _ := f.store.counts(); gets != 1 {
		t.Fatalf("expected a single store read, got %d", gets)
	}
	if _, _, writes := f.store.counts(); writes != 0 {
		t.Fatalf("get must not write, got %d writes", writes)
	}
}

func TestGetMachineNotFound(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.srv.GetMachine(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != models.CodeNotFound || res.Machine != nil {
		t.Fatalf("expected NOT_FOUND without record, got %+v", res)
	}
}

func TestStartMachineRejectsIneligible(t *testing.T) {
	f := newFixture(t, nil,
		available("idle", "L1"),
		&models.Machine{ID: "busy", LocationID: "L1", Status: models.StatusRunning, CurrentJobID: "j0"},
		&models.Machine{ID: "done", LocationID: "L1", Status: "COMPLETE"},
	)

	for _, id := range []string{"idle", "busy", "done"} {
		before := f.stored(t, id)
		res, err := f.srv.StartMachine(context.Background(), id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Code != models.CodeBadRequest {
			t.Fatalf("expected BAD_REQUEST for %s, got %s", id, res.Code)
		}
		if res.Machine == nil || res.Machine.Status != before.Status {
			t.Fatalf("expected unmutated record for %s, got %+v", id, res.Machine)
		}
		if f.stored(t, id).Status != before.Status || f.cached(t, id).Status != before.Status {
			t.Fatalf("status of %s changed", id)
		}
		if f.hw.Cycles(id) != 0 {
			t.Fatalf("hardware called for %s", id)
		}
	}
}

func TestStartMachineNotFound(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.srv.StartMachine(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != models.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", res.Code)
	}
}

func TestStartMachineHardwareFailure(t *testing.T) {
	f := newFixture(t, nil, &models.Machine{ID: "m1", LocationID: "L1", Status: models.StatusAwaitingDropoff, CurrentJobID: "j1"})
	f.hw.Fail("m1")

	res, err := f.srv.StartMachine(context.Background(), "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != models.CodeHardwareError {
		t.Fatalf("expected HARDWARE_ERROR, got %s", res.Code)
	}
	if res.Machine != nil {
		t.Fatalf("expected no record on hardware error")
	}
	if got := f.stored(t, "m1").Status; got != models.StatusAwaitingDropoff {
		t.Fatalf("store status changed to %s", got)
	}
	if got := f.cached(t, "m1").Status; got != models.StatusAwaitingDropoff {
		t.Fatalf("cache status changed to %s", got)
	}
	if _, _, writes := f.store.counts(); writes != 0 {
		t.Fatalf("expected no store writes, got %d", writes)
	}

	// no retry happened, and a later start can still succeed
	f.hw.Heal("m1")
	res, _ = f.srv.StartMachine(context.Background(), "m1")
	if res.Code != models.CodeOK {
		t.Fatalf("expected OK after heal, got %s", res.Code)
	}
	if f.hw.Cycles("m1") != 1 {
		t.Fatalf("expected exactly one started cycle, got %d", f.hw.Cycles("m1"))
	}
}

func TestStartMachineSuccess(t *testing.T) {
	f := newFixture(t, nil, &models.Machine{ID: "m1", LocationID: "L1", Status: models.StatusAwaitingDropoff, CurrentJobID: "j1"})

	res, err := f.srv.StartMachine(context.Background(), "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != models.CodeOK || res.Machine.Status != models.StatusRunning {
		t.Fatalf("expected OK RUNNING, got %s %+v", res.Code, res.Machine)
	}
	if res.Machine.CurrentJobID != "j1" {
		t.Fatalf("job id must survive start, got %q", res.Machine.CurrentJobID)
	}
	stored, cached := f.stored(t, "m1"), f.cached(t, "m1")
	if stored.Status != models.StatusRunning || cached.Status != models.StatusRunning {
		t.Fatalf("store and cache must converge on RUNNING")
	}
	if cached.Version != stored.Version || res.Machine.Version != stored.Version {
		t.Fatalf("version: result %d, cache %d, store %d", res.Machine.Version, cached.Version, stored.Version)
	}

	// a cached Get reports the same bookkeeping as the store
	got, _ := f.srv.GetMachine(context.Background(), "m1")
	if got.Machine.Version != stored.Version {
		t.Fatalf("cached get version %d, store %d", got.Machine.Version, stored.Version)
	}
}

func TestReserveStartScenario(t *testing.T) {
	f := newFixture(t, nil, available("m1", "L1"), available("m2", "L1"))
	ctx := context.Background()

	res, _ := f.srv.RequestMachine(ctx, "L1", "j1")
	if res.Code != models.CodeOK || res.Machine.ID != "m1" || res.Machine.Status != models.StatusAwaitingDropoff {
		t.Fatalf("reserve: unexpected result %s %+v", res.Code, res.Machine)
	}

	res, _ = f.srv.StartMachine(ctx, "m1")
	if res.Code != models.CodeOK || res.Machine.Status != models.StatusRunning {
		t.Fatalf("start: unexpected result %s %+v", res.Code, res.Machine)
	}

	res, _ = f.srv.StartMachine(ctx, "m1")
	if res.Code != models.CodeBadRequest {
		t.Fatalf("second start: expected BAD_REQUEST, got %s", res.Code)
	}
	if res.Machine.Status != models.StatusRunning {
		t.Fatalf("second start: expected RUNNING record, got %s", res.Machine.Status)
	}
}

func TestStartMachineStaleCache(t *testing.T) {
	f := newFixture(t, nil, &models.Machine{ID: "m1", LocationID: "L1", Status: models.StatusAwaitingDropoff, CurrentJobID: "j1"})
	ctx := context.Background()

	// warm the cache, then change the row outside the server
	if res, _ := f.srv.GetMachine(ctx, "m1"); res.Code != models.CodeOK {
		t.Fatalf("warm cache: %s", res.Code)
	}
	f.store.set("m1", "COMPLETE")

	res, err := f.srv.StartMachine(ctx, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != models.CodeBadRequest || res.Machine.Status != "COMPLETE" {
		t.Fatalf("expected BAD_REQUEST with store record, got %s %+v", res.Code, res.Machine)
	}
	if got := f.cached(t, "m1").Status; got != "COMPLETE" {
		t.Fatalf("expected cache refreshed to COMPLETE, got %s", got)
	}
}

func TestCacheFailureDoesNotFailOperations(t *testing.T) {
	store := newMemStore(available("m1", "L1"))
	srv := New(store, brokenCache{}, hardware.NewSimulator(0))
	ctx := context.Background()

	res, err := srv.RequestMachine(ctx, "L1", "j1")
	if err != nil || res.Code != models.CodeOK {
		t.Fatalf("reserve: %s %v", res.Code, err)
	}
	res, err = srv.GetMachine(ctx, "m1")
	if err != nil || res.Code != models.CodeOK || res.Machine.Status != models.StatusAwaitingDropoff {
		t.Fatalf("get: %s %v", res.Code, err)
	}
	res, err = srv.StartMachine(ctx, "m1")
	if err != nil || res.Code != models.CodeOK {
		t.Fatalf("start: %s %v", res.Code, err)
	}
}

func TestJobWriteFailureKeepsCacheInLineWithStore(t *testing.T) {
	f := newFixture(t, nil, available("m1", "L1"))
	f.store.jobErr = errors.New("disk full")

	_, err := f.srv.RequestMachine(context.Background(), "L1", "j1")
	if err == nil {
		t.Fatalf("expected store error to surface")
	}
	stored, cached := f.stored(t, "m1"), f.cached(t, "m1")
	if stored.Status != cached.Status || stored.CurrentJobID != cached.CurrentJobID {
		t.Fatalf("cache %+v diverged from store %+v", cached, stored)
	}
}

func TestConcurrentReservationsNeverShareAMachine(t *testing.T) {
	var ms []*models.Machine
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		ms = append(ms, available(id, "L1"))
	}
	f := newFixture(t, nil, ms...)

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners = map[string]int{}
		missed  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.srv.RequestMachine(context.Background(), "L1", "job")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch res.Code {
			case models.CodeOK:
				winners[res.Machine.ID]++
			case models.CodeNotFound:
				missed++
			default:
				t.Errorf("unexpected code %s", res.Code)
			}
		}()
	}
	wg.Wait()

	if len(winners) != len(ms) || missed != callers-len(ms) {
		t.Fatalf("expected %d distinct winners and %d misses, got %v and %d", len(ms), callers-len(ms), winners, missed)
	}
	for id, n := range winners {
		if n != 1 {
			t.Fatalf("machine %s reserved %d times", id, n)
		}
	}
}

func TestConcurrentStartsStartOnce(t *testing.T) {
	f := newFixture(t, nil, &models.Machine{ID: "m1", LocationID: "L1", Status: models.StatusAwaitingDropoff, CurrentJobID: "j1"})

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := f.srv.StartMachine(context.Background(), "m1")
			if res.Code == models.CodeOK {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if oks != 1 {
		t.Fatalf("expected exactly one successful start, got %d", oks)
	}
	if f.hw.Cycles("m1") != 1 {
		t.Fatalf("expected one hardware cycle, got %d", f.hw.Cycles("m1"))
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, []Option{WithEventPublisher(pub)}, available("m1", "L1"))
	ctx := context.Background()

	f.srv.RequestMachine(ctx, "L1", "j1")
	f.hw.Fail("m1")
	f.srv.StartMachine(ctx, "m1")
	f.hw.Heal("m1")
	f.srv.StartMachine(ctx, "m1")

	want := []models.EventKind{models.EventMachineReserved, models.EventMachineStartFailed, models.EventMachineStarted}
	if got := pub.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if pub.events[0].JobID != "j1" || pub.events[0].LocationID != "L1" {
		t.Fatalf("reserved event missing fields: %+v", pub.events[0])
	}
}

func TestTracingAndMetrics(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	metrics := NewMetrics(prometheus.NewRegistry())

	f := newFixture(t, []Option{WithTracerProvider(tp), WithMetrics(metrics)},
		&models.Machine{ID: "m1", LocationID: "L1", Status: models.StatusAwaitingDropoff, CurrentJobID: "j1"})
	f.hw.Fail("m1")

	res, _ := f.srv.StartMachine(context.Background(), "m1")
	if res.Code != models.CodeHardwareError {
		t.Fatalf("expected HARDWARE_ERROR, got %s", res.Code)
	}

	var root, hw sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		switch s.Name() {
		case "server.StartMachine":
			root = s
		case "hardware.StartCycle":
			hw = s
		}
	}
	if root == nil || hw == nil {
		t.Fatalf("missing spans, got %d ended", len(recorder.Ended()))
	}
	if hw.Parent().SpanID() != root.SpanContext().SpanID() {
		t.Fatalf("hardware span not parented by operation span")
	}
	if hw.Status().Code != codes.Error {
		t.Fatalf("expected hardware span status Error, got %v", hw.Status().Code)
	}

	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("start", "HARDWARE_ERROR")); got != 1 {
		t.Fatalf("operations{start,HARDWARE_ERROR} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.hardwareCalls.WithLabelValues("error")); got != 1 {
		t.Fatalf("hardware_calls{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("miss")); got != 1 {
		t.Fatalf("cache_lookups{miss} = %v, want 1", got)
	}
}

func TestRequestMachineSkipsCandidateLostToAnotherWriter(t *testing.T) {
	store := &racingStore{memStore: newMemStore(available("m1", "L1"), available("m2", "L1"))}
	store.afterList = func() { store.set("m1", models.StatusRunning) }
	c := cache.NewMemoryCache()
	srv := New(store, c, hardware.NewSimulator(0))

	res, err := srv.RequestMachine(context.Background(), "L1", "j1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != models.CodeOK || res.Machine.ID != "m2" || res.Machine.Status != models.StatusAwaitingDropoff {
		t.Fatalf("expected m2 reserved, got %s %+v", res.Code, res.Machine)
	}

	store.mu.Lock()
	m1 := store.machines["m1"].Clone()
	store.mu.Unlock()
	if m1.Status != models.StatusRunning || m1.CurrentJobID != "" {
		t.Fatalf("lost candidate was modified: %+v", m1)
	}
	if _, ok, _ := c.Get(context.Background(), "m1"); ok {
		t.Fatalf("lost candidate must not be cached")
	}
}

func TestRequestMachineAllCandidatesLost(t *testing.T) {
	store := &racingStore{memStore: newMemStore(available("m1", "L1"), available("m2", "L1"))}
	store.afterList = func() {
		store.set("m1", models.StatusRunning)
		store.set("m2", models.StatusAwaitingDropoff)
	}
	c := cache.NewMemoryCache()
	srv := New(store, c, hardware.NewSimulator(0))

	res, err := srv.RequestMachine(context.Background(), "L1", "j1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != models.CodeNotFound || res.Machine != nil {
		t.Fatalf("expected NOT_FOUND, got %s %+v", res.Code, res.Machine)
	}
	if _, _, writes := store.counts(); writes != 0 {
		t.Fatalf("expected no writes, got %d", writes)
	}
	for _, id := range []string{"m1", "m2"} {
		if _, ok, _ := c.Get(context.Background(), id); ok {
			t.Fatalf("%s must not be cached", id)
		}
	}
}

func TestStartMachineRemovedDuringHardwareCall(t *testing.T) {
	store := &racingStore{memStore: newMemStore(
		&models.Machine{ID: "m1", LocationID: "L1", Status: models.StatusAwaitingDropoff, CurrentJobID: "j1"},
	)}
	store.beforeCAS = func(id string) { store.remove(id) }
	sim := hardware.NewSimulator(0)
	srv := New(store, cache.NewMemoryCache(), sim)

	res, err := srv.StartMachine(context.Background(), "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != models.CodeNotFound || res.Machine != nil {
		t.Fatalf("expected NOT_FOUND, got %s %+v", res.Code, res.Machine)
	}
	if sim.Cycles("m1") != 1 {
		t.Fatalf("expected the hardware to have been called once, got %d", sim.Cycles("m1"))
	}
}
