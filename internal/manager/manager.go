// Package manager implements the lookup manager: it never answers a
// query itself, only spawns and kills lookup workers so that the
// sliding window [today-days_in_memory, today] always stays covered,
// publishes META:expected_interval, and prunes aged-out cached-dates
// entries.
//
// The spawn/kill bookkeeping is a mutex-guarded slice of handles; the
// actual OS process management is delegated to a small Spawner
// interface so tests can run without forking real binaries.
package manager

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/iporg-history/internal/cache"
	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/pkg/model"
)

// Handle represents one running worker process, as seen by the manager.
type Handle struct {
	Spec model.WorkerSpec
	stop func()
}

// Spawner starts and stops worker processes. ExecSpawner forks a real
// ipasn-lookup-worker binary; GoroutineSpawner runs an in-process
// worker.Worker for tests.
type Spawner interface {
	Spawn(ctx context.Context, spec model.WorkerSpec) (stop func(), err error)
}

// Config holds the manager's tunables.
type Config struct {
	DaysInMemory       int
	FloatingWindowDays int
	Sources            []string
}

// Manager owns the live worker fleet for one source-family pair set and
// drives the spawn/kill/publish/prune cycle.
type Manager struct {
	cfg     Config
	cache   cache.Store
	spawner Spawner

	mu      sync.Mutex
	workers map[string][]Handle // source -> live workers, unsorted
}

// New constructs a Manager. It does not spawn anything until Start runs.
func New(cfg Config, c cache.Store, s Spawner) *Manager {
	return &Manager{
		cfg:     cfg,
		cache:   c,
		spawner: s,
		workers: make(map[string][]Handle),
	}
}

// Start wipes stale cached-dates indexes left over from a previous boot,
// then spawns the initial fleet for each configured source and publishes
// the expected interval.
func (m *Manager) Start(ctx context.Context, now time.Time) error {
	for _, source := range m.cfg.Sources {
		for _, family := range []model.Family{model.V4, model.V6} {
			key := keyschema.CachedDatesKey(source, family)
			members, err := m.cache.SMembers(ctx, key)
			if err != nil {
				return fmt.Errorf("manager start: reading %s: %w", key, err)
			}
			if len(members) > 0 {
				if err := m.cache.SRem(ctx, key, members...); err != nil {
					return fmt.Errorf("manager start: wiping %s: %w", key, err)
				}
			}
		}
		for _, spec := range m.initialSchedule(source, now) {
			if err := m.spawn(ctx, spec); err != nil {
				return fmt.Errorf("manager start: spawning %s: %w", spec.ID(), err)
			}
		}
	}
	return m.publishExpectedInterval(ctx, now)
}

// initialSchedule computes worker 0..n: worker 0 covers [today,
// today+W], worker 1 covers [today-W/2, today+W/2], and each subsequent
// worker steps back by W/2 until its last falls before
// today-days_in_memory.
func (m *Manager) initialSchedule(source string, now time.Time) []model.WorkerSpec {
	today := truncateToDay(now)
	W := time.Duration(m.cfg.FloatingWindowDays) * 24 * time.Hour
	half := W / 2
	floor := today.AddDate(0, 0, -m.cfg.DaysInMemory)

	var specs []model.WorkerSpec
	specs = append(specs, model.WorkerSpec{Source: source, First: today, Last: today.Add(W)})

	for k := 1; ; k++ {
		first := today.Add(-time.Duration(k) * half)
		last := first.Add(W)
		if last.Before(floor) {
			break
		}
		specs = append(specs, model.WorkerSpec{Source: source, First: first, Last: last})
	}
	return specs
}

func (m *Manager) spawn(ctx context.Context, spec model.WorkerSpec) error {
	stop, err := m.spawner.Spawn(ctx, spec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.workers[spec.Source] = append(m.workers[spec.Source], Handle{Spec: spec, stop: stop})
	m.mu.Unlock()
	log.Printf("INFO: manager spawned worker %s", spec.ID())
	return nil
}

// Tick runs one steady-state iteration: advance the head if it's aging
// toward the floating window's midpoint, kill workers that have aged
// entirely out of days_in_memory, publish the expected interval, and
// prune stale cached-dates entries.
func (m *Manager) Tick(ctx context.Context, now time.Time) error {
	today := truncateToDay(now)
	W := time.Duration(m.cfg.FloatingWindowDays) * 24 * time.Hour
	half := W / 2
	floor := today.AddDate(0, 0, -m.cfg.DaysInMemory)

	for _, source := range m.cfg.Sources {
		if err := m.tickSource(ctx, source, today, W, half, floor); err != nil {
			return err
		}
	}
	if err := m.publishExpectedInterval(ctx, now); err != nil {
		return err
	}
	return m.pruneCachedDates(ctx, floor)
}

func (m *Manager) tickSource(ctx context.Context, source string, today time.Time, W, half time.Duration, floor time.Time) error {
	m.mu.Lock()
	live := append([]Handle(nil), m.workers[source]...)
	m.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].Spec.Last.After(live[j].Spec.Last) })

	if len(live) == 0 || live[0].Spec.Last.Before(today.Add(half)) {
		spec := model.WorkerSpec{Source: source, First: today, Last: today.Add(W)}
		if err := m.spawn(ctx, spec); err != nil {
			return fmt.Errorf("tick: spawning new head for %s: %w", source, err)
		}
	}

	m.mu.Lock()
	var kept []Handle
	var killed []model.WorkerSpec
	for _, h := range m.workers[source] {
		if h.Spec.Last.Before(floor) {
			h.stop()
			killed = append(killed, h.Spec)
			log.Printf("INFO: manager killed aged-out worker %s", h.Spec.ID())
			continue
		}
		kept = append(kept, h)
	}
	m.workers[source] = kept
	m.mu.Unlock()

	// A hard kill (ExecSpawner's process.Kill) gives the worker no chance
	// to clear its own running-hash entry, so the manager clears it here
	// as well. Clearing twice is harmless.
	for _, spec := range killed {
		if err := m.cache.HDel(ctx, keyschema.RunningKey, spec.ID()); err != nil {
			log.Printf("WARN: manager: failed to clear running flag for %s: %v", spec.ID(), err)
		}
	}
	return nil
}

// DropDead removes workerID from the live set without killing it — used
// when a worker has already exited on its own and should just be
// dropped from the list with a warning.
func (m *Manager) DropDead(source, workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []Handle
	for _, h := range m.workers[source] {
		if h.Spec.ID() == workerID {
			log.Printf("WARN: manager dropping dead worker %s", workerID)
			continue
		}
		kept = append(kept, h)
	}
	m.workers[source] = kept
}

func (m *Manager) publishExpectedInterval(ctx context.Context, now time.Time) error {
	today := truncateToDay(now)
	first := today.AddDate(0, 0, -m.cfg.DaysInMemory)
	fields := map[string]string{
		"first": first.Format("2006-01-02"),
		"last":  today.Format("2006-01-02"),
	}
	return m.cache.HSet(ctx, keyschema.MetaExpectedIntervalKey, fields)
}

func (m *Manager) pruneCachedDates(ctx context.Context, floor time.Time) error {
	for _, source := range m.cfg.Sources {
		for _, family := range []model.Family{model.V4, model.V6} {
			key := keyschema.CachedDatesKey(source, family)
			dates, err := m.cache.SMembers(ctx, key)
			if err != nil {
				return fmt.Errorf("pruning %s: %w", key, err)
			}
			var stale []string
			for _, d := range dates {
				parsed, err := time.Parse("2006-01-02", d)
				if err != nil || parsed.Before(floor) {
					stale = append(stale, d)
				}
			}
			if len(stale) > 0 {
				if err := m.cache.SRem(ctx, key, stale...); err != nil {
					return fmt.Errorf("pruning %s: %w", key, err)
				}
			}
		}
	}
	return nil
}

// Shutdown sets the cooperative shutdown sentinel and stops every
// manager-owned worker. Workers observing the sentinel on their own next
// poll exit regardless, so this is mostly useful to also clear sources
// whose workers aren't yet polling.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.cache.SAdd(ctx, keyschema.ShutdownKey, "1"); err != nil {
		return fmt.Errorf("shutdown: setting sentinel: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for source, handles := range m.workers {
		for _, h := range handles {
			h.stop()
			if err := m.cache.HDel(ctx, keyschema.RunningKey, h.Spec.ID()); err != nil {
				log.Printf("WARN: manager: failed to clear running flag for %s: %v", h.Spec.ID(), err)
			}
		}
		m.workers[source] = nil
	}
	return nil
}

// Workers returns a snapshot of the currently live fleet for source, for
// introspection and tests.
func (m *Manager) Workers(source string) []model.WorkerSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.WorkerSpec, 0, len(m.workers[source]))
	for _, h := range m.workers[source] {
		out = append(out, h.Spec)
	}
	return out
}

func truncateToDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
