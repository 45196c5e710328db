// Package worker implements a single lookup worker: a process that owns
// a subset of snapshot tries for one (source, [first, last]) date
// window, loads them from the storage store at startup, and then serves
// lookups out of the shared cache work-set until it ages out or is
// asked to shut down.
//
// The overall shape — a struct wrapping a store handle behind a small
// mutex, with Start/Serve/steady-state-loop methods — follows a
// cooperative-shutdown, short-sleep-in-a-loop pattern.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wingedpig/iporg-history/internal/cache"
	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/internal/storage"
	"github.com/wingedpig/iporg-history/internal/trie"
	"github.com/wingedpig/iporg-history/pkg/model"
)

const (
	sampleSize   = 20
	pollInterval = 250 * time.Millisecond
)

// Worker owns one (source, [first,last]) window's tries.
type Worker struct {
	spec model.WorkerSpec

	cache   cache.Store
	storage storage.Store

	mu          sync.RWMutex
	tries       map[model.Family]map[string]*trie.Trie // family -> date -> trie
	loadedDates map[model.Family]map[string]struct{}
}

// New constructs a Worker for the given source and inclusive date window.
// It does not load anything yet; call Start to perform the initial load.
func New(spec model.WorkerSpec, c cache.Store, s storage.Store) *Worker {
	return &Worker{
		spec:        spec,
		cache:       c,
		storage:     s,
		tries:       make(map[model.Family]map[string]*trie.Trie),
		loadedDates: make(map[model.Family]map[string]struct{}),
	}
}

// ID is the worker's stable identity, also used as its "running" registry key.
func (w *Worker) ID() string { return w.spec.ID() }

// Start performs the worker's initial, lock-free load: for each family, it
// reads the storage store's date set, filters to [first, last], builds a
// trie per qualifying date, and records each loaded date in the cache's
// cached-dates index.
func (w *Worker) Start(ctx context.Context) error {
	for _, family := range []model.Family{model.V4, model.V6} {
		if err := w.loadWindow(ctx, family, false); err != nil {
			return fmt.Errorf("worker %s: initial load of %s failed: %w", w.ID(), family, err)
		}
	}
	log.Printf("INFO: worker %s started, window [%s, %s]", w.ID(),
		w.spec.First.Format("2006-01-02"), w.spec.Last.Format("2006-01-02"))
	return nil
}

// loadWindow loads every storage date in [first, last] for family that
// isn't already loaded. When honorLock is true it claims the lock-set
// interval first and skips entirely if another worker already holds an
// overlapping interval.
func (w *Worker) loadWindow(ctx context.Context, family model.Family, honorLock bool) error {
	if honorLock {
		held, err := w.lockHeldByOther(ctx, family)
		if err != nil {
			return err
		}
		if held {
			return nil
		}
	}

	dates, err := w.storage.Dates(ctx, w.spec.Source, family)
	if err != nil {
		return fmt.Errorf("reading dates: %w", err)
	}

	var toLoad []string
	for _, d := range dates {
		if !w.inWindow(d) {
			continue
		}
		if w.isLoaded(family, d) {
			continue
		}
		toLoad = append(toLoad, d)
	}
	if len(toLoad) == 0 {
		return nil
	}

	if honorLock {
		if err := w.claimLock(ctx, family); err != nil {
			return err
		}
		defer w.releaseLock(ctx, family)
	}

	for _, d := range toLoad {
		if err := w.loadTree(ctx, d, family); err != nil {
			return fmt.Errorf("loading %s/%s/%s: %w", w.spec.Source, family, d, err)
		}
	}
	return nil
}

func (w *Worker) inWindow(dateISO string) bool {
	d, err := time.Parse("2006-01-02", dateISO)
	if err != nil {
		return false
	}
	return !d.Before(w.spec.First) && !d.After(w.spec.Last)
}

func (w *Worker) isLoaded(family model.Family, date string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.loadedDates[family][date]
	return ok
}

// loadTree builds a fresh trie for (source, family, date) from the
// storage store: one Get for the ASN set, then one trie insert per
// (prefix, asn) pair across every ASN announcing that day.
func (w *Worker) loadTree(ctx context.Context, date string, family model.Family) error {
	asns, err := w.storage.Asns(ctx, w.spec.Source, family, date)
	if err != nil {
		return fmt.Errorf("reading asns: %w", err)
	}

	var t *trie.Trie
	if family == model.V4 {
		t = trie.NewV4()
	} else {
		t = trie.NewV6()
	}

	for _, asn := range asns {
		prefixes, err := w.storage.AsnPrefixes(ctx, w.spec.Source, family, date, asn)
		if err != nil {
			return fmt.Errorf("reading prefixes for asn %s: %w", asn, err)
		}
		for _, p := range prefixes {
			if err := t.Insert(p, asn); err != nil {
				log.Printf("WARN: worker %s: skipping malformed prefix %q for asn %s: %v", w.ID(), p, asn, err)
			}
		}
	}

	w.mu.Lock()
	if w.tries[family] == nil {
		w.tries[family] = make(map[string]*trie.Trie)
		w.loadedDates[family] = make(map[string]struct{})
	}
	w.tries[family][date] = t
	w.loadedDates[family][date] = struct{}{}
	w.mu.Unlock()

	if err := w.cache.SAdd(ctx, keyschema.CachedDatesKey(w.spec.Source, family), date); err != nil {
		return fmt.Errorf("publishing cached date: %w", err)
	}
	log.Printf("INFO: worker %s loaded %s/%s/%s (%d asns)", w.ID(), w.spec.Source, family, date, len(asns))
	return nil
}

func (w *Worker) lockHeldByOther(ctx context.Context, family model.Family) (bool, error) {
	intervals, err := w.cache.SMembers(ctx, keyschema.LockKey(w.spec.Source, family))
	if err != nil {
		return false, err
	}
	mine := w.spec.IntervalString()
	for _, iv := range intervals {
		if iv == mine {
			continue
		}
		if intervalOverlaps(iv, w.spec.First, w.spec.Last) {
			return true, nil
		}
	}
	return false, nil
}

func intervalOverlaps(interval string, first, last time.Time) bool {
	idx := -1
	for i := 0; i < len(interval); i++ {
		if interval[i] == '_' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	a, err1 := time.Parse("2006-01-02", interval[:idx])
	b, err2 := time.Parse("2006-01-02", interval[idx+1:])
	if err1 != nil || err2 != nil {
		return false
	}
	return !first.After(b) && !a.After(last)
}

func (w *Worker) claimLock(ctx context.Context, family model.Family) error {
	return w.cache.SAdd(ctx, keyschema.LockKey(w.spec.Source, family), w.spec.IntervalString())
}

func (w *Worker) releaseLock(ctx context.Context, family model.Family) {
	if err := w.cache.SRem(ctx, keyschema.LockKey(w.spec.Source, family), w.spec.IntervalString()); err != nil {
		log.Printf("WARN: worker %s: failed to release lock: %v", w.ID(), err)
	}
}

// ReloadIfStale re-checks the storage store for newly-appeared snapshot
// dates within this worker's window and loads any it's missing, honoring
// the lock set so two workers never duplicate-load the same range.
func (w *Worker) ReloadIfStale(ctx context.Context) error {
	for _, family := range []model.Family{model.V4, model.V6} {
		if err := w.loadWindow(ctx, family, true); err != nil {
			return err
		}
	}
	return nil
}

// Serve runs the worker's steady-state loop until ctx is cancelled or the
// cache's shutdown sentinel appears. Each iteration: reload any newly
// arrived snapshots, sample up to sampleSize pending work items, and
// resolve the ones that belong to this worker.
func (w *Worker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		shuttingDown, err := w.cache.Exists(ctx, keyschema.ShutdownKey)
		if err != nil {
			log.Printf("WARN: worker %s: shutdown check failed: %v", w.ID(), err)
		} else if shuttingDown {
			log.Printf("INFO: worker %s observed shutdown sentinel, exiting", w.ID())
			return model.ErrShutdown
		}

		if err := w.ReloadIfStale(ctx); err != nil {
			log.Printf("WARN: worker %s: reload failed: %v", w.ID(), err)
		}

		if err := w.tick(ctx); err != nil {
			log.Printf("WARN: worker %s: tick failed: %v", w.ID(), err)
		}
	}
}

// tick samples up to sampleSize pending work items and resolves any that
// belong to this worker, batching the resulting cache mutations into one
// pipeline.
func (w *Worker) tick(ctx context.Context) error {
	keys, err := w.cache.SRandMember(ctx, keyschema.QuerySetKey, sampleSize)
	if err != nil {
		return fmt.Errorf("sampling work-set: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := w.cache.Pipeline()
	touched := false

	for _, key := range keys {
		item, err := keyschema.WorkItemFromKey(key)
		if err != nil {
			log.Printf("WARN: worker %s: dropping malformed work key %q: %v", w.ID(), key, err)
			pipe.SRem(keyschema.QuerySetKey, key)
			touched = true
			continue
		}

		already, err := w.cache.Exists(ctx, key)
		if err != nil {
			log.Printf("WARN: worker %s: exists check failed for %q: %v", w.ID(), key, err)
			continue
		}
		if already {
			pipe.SRem(keyschema.QuerySetKey, key)
			touched = true
			continue
		}

		if item.Source != w.spec.Source {
			continue // not ours
		}
		if !w.isLoaded(item.Family, item.Date) {
			continue // not ours (yet)
		}

		resp := w.resolve(item)
		pipe.HSet(key, responseFields(resp))
		pipe.Expire(key, cache.ResponseTTL)
		pipe.SRem(keyschema.QuerySetKey, key)
		touched = true
	}

	if !touched {
		return nil
	}
	return pipe.Exec(ctx)
}

func responseFields(r model.Response) map[string]string {
	if r.Err != "" {
		return map[string]string{"error": r.Err}
	}
	return map[string]string{"asn": r.ASN, "prefix": r.Prefix}
}

// resolve answers a single work item against this worker's loaded tries,
// applying the null-route normalization rule.
func (w *Worker) resolve(item model.WorkItem) model.Response {
	w.mu.RLock()
	t := w.tries[item.Family][item.Date]
	w.mu.RUnlock()

	if t == nil {
		return model.Response{Err: fmt.Sprintf("Query invalid: %s/%s not loaded", item.Family, item.Date)}
	}

	asn, prefix, err := t.Lookup(item.IP)
	if err != nil {
		if err == model.ErrNotFound {
			return model.Response{ASN: "0", Prefix: item.Family.NullRoute()}
		}
		return model.Response{Err: fmt.Sprintf("Query invalid: %v", err)}
	}

	if prefix == item.Family.NullRoute() {
		// A trie entry for the null route with a non-zero ASN shouldn't
		// occur on well-formed data; normalize defensively.
		asn = "0"
	}
	return model.Response{ASN: asn, Prefix: prefix}
}

// LoadedDates returns the dates currently loaded for family, for tests.
func (w *Worker) LoadedDates(family model.Family) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.loadedDates[family]))
	for d := range w.loadedDates[family] {
		out = append(out, d)
	}
	return out
}

// Spec returns the worker's configured window.
func (w *Worker) Spec() model.WorkerSpec { return w.spec }
