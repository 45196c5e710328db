package manager

import (
	"context"
	"testing"
	"time"

	"github.com/wingedpig/iporg-history/internal/cache"
	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/internal/storage"
	"github.com/wingedpig/iporg-history/pkg/model"
)

func TestInitialScheduleCoversWindow(t *testing.T) {
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	m := New(Config{DaysInMemory: 30, FloatingWindowDays: 14, Sources: []string{"caida"}},
		c, GoroutineSpawner{Cache: c, Storage: st})

	now, _ := time.Parse("2006-01-02", "2023-06-15")
	specs := m.initialSchedule("caida", now)

	if len(specs) < 2 {
		t.Fatalf("expected at least 2 workers for overlap, got %d", len(specs))
	}
	if !specs[0].First.Equal(truncateToDay(now)) {
		t.Fatalf("worker 0 first = %v, want today", specs[0].First)
	}
	wantLast := truncateToDay(now).Add(14 * 24 * time.Hour)
	if !specs[0].Last.Equal(wantLast) {
		t.Fatalf("worker 0 last = %v, want %v", specs[0].Last, wantLast)
	}

	floor := truncateToDay(now).AddDate(0, 0, -30)
	last := specs[len(specs)-1]
	if last.Last.Before(floor) {
		t.Fatalf("last scheduled worker should not end before floor %v, got %v", floor, last.Last)
	}
	if last.First.After(floor) {
		t.Fatalf("last scheduled worker should start at or before floor %v, got %v", floor, last.First)
	}
}

func TestStartSpawnsFleetAndPublishesInterval(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	m := New(Config{DaysInMemory: 30, FloatingWindowDays: 14, Sources: []string{"caida"}},
		c, GoroutineSpawner{Cache: c, Storage: st})

	now, _ := time.Parse("2006-01-02", "2023-06-15")
	if err := m.Start(ctx, now); err != nil {
		t.Fatal(err)
	}

	workers := m.Workers("caida")
	if len(workers) == 0 {
		t.Fatal("expected spawned workers")
	}

	fields, err := c.HGetAll(ctx, keyschema.MetaExpectedIntervalKey)
	if err != nil {
		t.Fatal(err)
	}
	if fields["first"] != "2023-05-16" || fields["last"] != "2023-06-15" {
		t.Fatalf("expected_interval = %+v", fields)
	}

	running, err := c.HGetAll(ctx, keyschema.RunningKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != len(workers) {
		t.Fatalf("expected one running entry per spawned worker, got %+v for %+v", running, workers)
	}
	for _, w := range workers {
		if running[w.ID()] != "1" {
			t.Fatalf("worker %s missing from running hash: %+v", w.ID(), running)
		}
	}
}

func TestStartWipesStaleCachedDates(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()

	if err := c.SAdd(ctx, keyschema.CachedDatesKey("caida", model.V4), "2020-01-01"); err != nil {
		t.Fatal(err)
	}

	m := New(Config{DaysInMemory: 30, FloatingWindowDays: 14, Sources: []string{"caida"}},
		c, GoroutineSpawner{Cache: c, Storage: st})

	now, _ := time.Parse("2006-01-02", "2023-06-15")
	if err := m.Start(ctx, now); err != nil {
		t.Fatal(err)
	}

	members, err := c.SMembers(ctx, keyschema.CachedDatesKey("caida", model.V4))
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Fatalf("expected cached_dates wiped on boot, got %v", members)
	}
}

func TestTickKillsAgedOutWorkerAndSpawnsNewHead(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	m := New(Config{DaysInMemory: 10, FloatingWindowDays: 4, Sources: []string{"caida"}},
		c, GoroutineSpawner{Cache: c, Storage: st})

	now, _ := time.Parse("2006-01-02", "2023-06-15")
	if err := m.Start(ctx, now); err != nil {
		t.Fatal(err)
	}
	before := m.Workers("caida")

	// Advance far enough that the original fleet ages out of days_in_memory
	// and the head needs to be advanced again.
	later := now.AddDate(0, 0, 20)
	if err := m.Tick(ctx, later); err != nil {
		t.Fatal(err)
	}

	after := m.Workers("caida")
	floor := truncateToDay(later).AddDate(0, 0, -10)
	afterIDs := make(map[string]struct{}, len(after))
	for _, w := range after {
		if w.Last.Before(floor) {
			t.Fatalf("worker %s should have been killed (last=%v, floor=%v)", w.ID(), w.Last, floor)
		}
		afterIDs[w.ID()] = struct{}{}
	}
	if len(after) == 0 {
		t.Fatal("expected a new head worker after tick")
	}

	running, err := c.HGetAll(ctx, keyschema.RunningKey)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range before {
		if _, stillLive := afterIDs[w.ID()]; stillLive {
			continue
		}
		if _, ok := running[w.ID()]; ok {
			t.Fatalf("killed worker %s should be cleared from running hash: %+v", w.ID(), running)
		}
	}
}

func TestPruneCachedDatesRemovesStaleDates(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	m := New(Config{DaysInMemory: 10, FloatingWindowDays: 4, Sources: []string{"caida"}},
		c, GoroutineSpawner{Cache: c, Storage: st})

	key := keyschema.CachedDatesKey("caida", model.V4)
	if err := c.SAdd(ctx, key, "2023-01-01", "2023-06-14"); err != nil {
		t.Fatal(err)
	}

	now, _ := time.Parse("2006-01-02", "2023-06-15")
	floor := truncateToDay(now).AddDate(0, 0, -10)
	if err := m.pruneCachedDates(ctx, floor); err != nil {
		t.Fatal(err)
	}

	members, err := c.SMembers(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != "2023-06-14" {
		t.Fatalf("pruneCachedDates left %v, want only 2023-06-14", members)
	}
}

func TestDropDeadRemovesWorkerWithoutStopping(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	m := New(Config{DaysInMemory: 30, FloatingWindowDays: 14, Sources: []string{"caida"}},
		c, GoroutineSpawner{Cache: c, Storage: st})

	now, _ := time.Parse("2006-01-02", "2023-06-15")
	if err := m.Start(ctx, now); err != nil {
		t.Fatal(err)
	}
	workers := m.Workers("caida")
	if len(workers) == 0 {
		t.Fatal("expected workers")
	}
	dead := workers[0]
	m.DropDead("caida", dead.ID())

	for _, w := range m.Workers("caida") {
		if w.ID() == dead.ID() {
			t.Fatalf("worker %s still present after DropDead", dead.ID())
		}
	}
}

func TestShutdownSetsSentinelAndClearsFleet(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	m := New(Config{DaysInMemory: 30, FloatingWindowDays: 14, Sources: []string{"caida"}},
		c, GoroutineSpawner{Cache: c, Storage: st})

	now, _ := time.Parse("2006-01-02", "2023-06-15")
	if err := m.Start(ctx, now); err != nil {
		t.Fatal(err)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	exists, err := c.Exists(ctx, keyschema.ShutdownKey)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected shutdown sentinel set")
	}
	if len(m.Workers("caida")) != 0 {
		t.Fatal("expected fleet cleared after shutdown")
	}

	running, err := c.HGetAll(ctx, keyschema.RunningKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 0 {
		t.Fatalf("expected running hash cleared after shutdown, got %+v", running)
	}
}
