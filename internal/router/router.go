// Package router implements the query router: the only component that
// answers queries. It never touches trie memory directly — it enqueues
// work keys into the cache store's work-set and polls for the lookup
// workers to answer them, or (for mass_query) returns whatever is
// already cached without blocking.
//
// The polling-with-pipelined-batch shape is a thin layer over the store
// that memoizes reads and recomputes nothing the store has already
// answered.
package router

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/wingedpig/iporg-history/internal/cache"
	"github.com/wingedpig/iporg-history/internal/enrich"
	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/internal/storage"
	"github.com/wingedpig/iporg-history/pkg/model"
	"github.com/wingedpig/iporg-history/pkg/util/workers"
)

// pollInterval is the sleep between sweeps of a blocking query() poll
// ("sleep, then re-poll" between sweeps).
const pollInterval = 100 * time.Millisecond

// sweepConcurrency bounds how many hgetall calls a single sweep fans out
// at once.
const sweepConcurrency = 16

// sweepRateLimit caps hgetall calls per second across a sweep, so a
// mass_query batch of thousands of keys doesn't saturate the cache
// store's connection pool even with sweepConcurrency workers.
const sweepRateLimit = 500

// Router answers query/mass_query/mass_cache/meta/asn_meta requests
// against the cache and storage stores.
type Router struct {
	cache    cache.Store
	storage  storage.Store
	sources  []string
	dates    *dateCache
	enricher *enrich.ASNLookup
}

// New constructs a Router over the given stores and configured source list.
func New(c cache.Store, s storage.Store, sources []string) *Router {
	return &Router{
		cache:   c,
		storage: s,
		sources: sources,
		dates:   newDateCache(),
	}
}

// WithEnrichment attaches an ASN organization-name lookup to asn_meta
// responses. Passing nil disables enrichment (the default).
func (r *Router) WithEnrichment(lookup *enrich.ASNLookup) *Router {
	r.enricher = lookup
	return r
}

// Query implements the blocking query() operation:
// enqueue every fanned-out key, poll until each has an answer or ctx is
// cancelled, refresh TTLs, collate, and apply the point-query
// valid-only filter.
func (r *Router) Query(ctx context.Context, req model.QueryRequest) (model.QueryResult, error) {
	items, err := r.keysForQuery(ctx, req)
	if err != nil {
		return model.QueryResult{Error: err.Error()}, nil
	}

	if err := r.enqueue(ctx, items); err != nil {
		return model.QueryResult{Error: err.Error()}, nil
	}

	answers, err := r.poll(ctx, items)
	if err != nil {
		return model.QueryResult{Error: err.Error()}, nil
	}

	collated := collate(answers)
	isPoint := req.First == ""
	if isPoint && anyValid(collated) {
		collated = filterValid(collated)
	}

	return model.QueryResult{Response: collated}, nil
}

// enqueue inserts every work item's key into the cache's query set in a
// single pipelined SADD.
func (r *Router) enqueue(ctx context.Context, items []model.WorkItem) error {
	pipe := r.cache.Pipeline()
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = keyschema.WorkKeyFor(item)
	}
	pipe.SAdd(keyschema.QuerySetKey, keys...)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueuing query keys: %w", err)
	}
	return nil
}

// poll sweeps the given work items until every one has a non-empty
// response hash or ctx is cancelled, refreshing each obtained answer's
// TTL along the way.
func (r *Router) poll(ctx context.Context, items []model.WorkItem) (map[model.WorkItem]model.Response, error) {
	answers := make(map[model.WorkItem]model.Response, len(items))
	pending := append([]model.WorkItem(nil), items...)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var stillPending []model.WorkItem
		if len(pending) > 0 {
			resolved, err := r.sweep(ctx, pending)
			if err != nil {
				return nil, err
			}
			for _, item := range pending {
				if resp, ok := resolved[item]; ok {
					answers[item] = resp
				} else {
					stillPending = append(stillPending, item)
				}
			}
			pending = stillPending
		}
		if len(pending) == 0 {
			return answers, nil
		}

		select {
		case <-ctx.Done():
			return answers, ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep does one hgetall-per-key pass, refreshing the TTL of every
// response it finds. The fan-out runs through a bounded, rate-limited
// worker pool (pkg/util/workers) so a large batch of keys doesn't open
// hundreds of concurrent round trips against the cache store at once,
// or outrun it entirely on a big mass_query batch; the pipelined TTL
// refresh afterwards stays single-threaded since Pipeline isn't safe
// for concurrent queuing.
func (r *Router) sweep(ctx context.Context, items []model.WorkItem) (map[model.WorkItem]model.Response, error) {
	type fetched struct {
		fields map[string]string
		err    error
	}
	results := make([]fetched, len(items))

	pool := workers.NewPool(ctx, workers.Config{
		Workers:   sweepConcurrency,
		RateLimit: sweepRateLimit,
		BurstSize: sweepConcurrency,
	})
	for i, item := range items {
		key := keyschema.WorkKeyFor(item)
		pool.Submit(i, func(ctx context.Context) error {
			fields, err := r.cache.HGetAll(ctx, key)
			results[i] = fetched{fields: fields, err: err}
			return err
		})
	}
	for _, res := range pool.Wait() {
		if res.Error != nil {
			return nil, fmt.Errorf("polling %s: %w", keyschema.WorkKeyFor(items[res.Index]), res.Error)
		}
	}

	found := make(map[model.WorkItem]model.Response)
	pipe := r.cache.Pipeline()
	touched := false

	for i, item := range items {
		fields := results[i].fields
		if len(fields) == 0 {
			continue
		}
		found[item] = responseFromFields(fields)
		pipe.Expire(keyschema.WorkKeyFor(item), cache.ResponseTTL)
		touched = true
	}

	if touched {
		if err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("refreshing response TTLs: %w", err)
		}
	}
	return found, nil
}

func responseFromFields(fields map[string]string) model.Response {
	if errMsg, ok := fields["error"]; ok {
		return model.Response{Err: errMsg}
	}
	return model.Response{ASN: fields["asn"], Prefix: fields["prefix"]}
}

// MassQuery implements mass_query: for each request,
// immediately check whether every fanned-out key already has an answer;
// anything missing is enqueued but not waited for.
func (r *Router) MassQuery(ctx context.Context, reqs []model.QueryRequest) ([]model.QueryResult, error) {
	results := make([]model.QueryResult, len(reqs))
	var toEnqueue []model.WorkItem

	type pending struct {
		index int
		items []model.WorkItem
	}
	var pendings []pending

	for i, req := range reqs {
		items, err := r.keysForQuery(ctx, req)
		if err != nil {
			results[i] = model.QueryResult{Error: err.Error()}
			continue
		}
		pendings = append(pendings, pending{index: i, items: items})
	}

	sweptAll := make(map[model.WorkItem]model.Response)
	var allItems []model.WorkItem
	for _, p := range pendings {
		allItems = append(allItems, p.items...)
	}
	if len(allItems) > 0 {
		found, err := r.sweep(ctx, allItems)
		if err != nil {
			return nil, err
		}
		for item, resp := range found {
			sweptAll[item] = resp
		}
		for _, item := range allItems {
			if _, ok := sweptAll[item]; !ok {
				toEnqueue = append(toEnqueue, item)
			}
		}
	}

	if len(toEnqueue) > 0 {
		if err := r.enqueue(ctx, toEnqueue); err != nil {
			return nil, err
		}
	}

	for _, p := range pendings {
		answers := make(map[model.WorkItem]model.Response, len(p.items))
		for _, item := range p.items {
			if resp, ok := sweptAll[item]; ok {
				answers[item] = resp
			}
		}
		collated := collate(answers)
		results[p.index] = model.QueryResult{Response: collated}
	}
	return results, nil
}

// MassCache implements mass_cache: compute every
// fanned-out key for the batch and SADD them into the query work-set in
// one pipelined call, reporting which queries produced keys and which
// failed.
func (r *Router) MassCache(ctx context.Context, reqs []model.QueryRequest) (cached []string, notCached []model.QueryResult, err error) {
	var allItems []model.WorkItem
	for i, req := range reqs {
		items, ferr := r.keysForQuery(ctx, req)
		if ferr != nil {
			notCached = append(notCached, model.QueryResult{Error: fmt.Sprintf("query %d: %v", i, ferr)})
			continue
		}
		allItems = append(allItems, items...)
	}

	if len(allItems) > 0 {
		if err := r.enqueue(ctx, allItems); err != nil {
			return nil, notCached, err
		}
	}
	for _, item := range allItems {
		cached = append(cached, keyschema.WorkKeyFor(item))
	}
	return cached, notCached, nil
}

// Meta implements meta(): reports the configured
// sources, the manager-published expected interval, per-(source, family)
// cached-date completeness, and the currently-running worker fleet.
func (r *Router) Meta(ctx context.Context) (model.MetaResponse, error) {
	interval, err := r.expectedInterval(ctx)
	if err != nil {
		return model.MetaResponse{}, err
	}

	workers, err := r.runningWorkers(ctx)
	if err != nil {
		return model.MetaResponse{}, err
	}

	cachedDates := make(map[string]map[model.Family]model.CachedDatesSummary, len(r.sources))
	expected, err := expectedCalendarDates(interval)
	if err != nil {
		return model.MetaResponse{}, err
	}

	for _, source := range r.sources {
		perFamily := make(map[model.Family]model.CachedDatesSummary, 2)
		for _, family := range []model.Family{model.V4, model.V6} {
			cached, err := r.cache.SMembers(ctx, keyschema.CachedDatesKey(source, family))
			if err != nil {
				return model.MetaResponse{}, fmt.Errorf("reading cached dates for %s/%s: %w", source, family, err)
			}
			cachedSet := make(map[string]struct{}, len(cached))
			for _, d := range cached {
				cachedSet[d] = struct{}{}
			}
			var missing []string
			for _, d := range expected {
				if _, ok := cachedSet[d]; !ok {
					missing = append(missing, d)
				}
			}
			percent := 100.0
			if len(expected) > 0 {
				percent = 100.0 * float64(len(expected)-len(missing)) / float64(len(expected))
			}
			perFamily[family] = model.CachedDatesSummary{Cached: cached, Missing: missing, Percent: percent}
		}
		cachedDates[source] = perFamily
	}

	return model.MetaResponse{
		Sources:          r.sources,
		ExpectedInterval: interval,
		CachedDates:      cachedDates,
		Workers:          workers,
	}, nil
}

func (r *Router) expectedInterval(ctx context.Context) (model.ExpectedInterval, error) {
	fields, err := r.cache.HGetAll(ctx, keyschema.MetaExpectedIntervalKey)
	if err != nil {
		return model.ExpectedInterval{}, fmt.Errorf("reading expected interval: %w", err)
	}
	return model.ExpectedInterval{First: fields["first"], Last: fields["last"]}, nil
}

// runningWorkers reads the running-hash registry each worker process
// publishes on start and clears on exit, and decodes its keys back into
// the WorkerSpec windows they name.
func (r *Router) runningWorkers(ctx context.Context) ([]model.WorkerSpec, error) {
	ids, err := r.cache.HGetAll(ctx, keyschema.RunningKey)
	if err != nil {
		return nil, fmt.Errorf("reading running workers: %w", err)
	}
	workers := make([]model.WorkerSpec, 0, len(ids))
	for id := range ids {
		spec, err := model.ParseWorkerID(id)
		if err != nil {
			continue // stale or malformed entry; don't fail meta() over it
		}
		workers = append(workers, spec)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID() < workers[j].ID() })
	return workers, nil
}

// expectedCalendarDates enumerates one ISO date per calendar day in
// [first, last], inclusive.
func expectedCalendarDates(interval model.ExpectedInterval) ([]string, error) {
	if interval.First == "" || interval.Last == "" {
		return nil, nil
	}
	first, err := time.Parse("2006-01-02", interval.First)
	if err != nil {
		return nil, fmt.Errorf("parsing expected_interval.first: %w", err)
	}
	last, err := time.Parse("2006-01-02", interval.Last)
	if err != nil {
		return nil, fmt.Errorf("parsing expected_interval.last: %w", err)
	}
	var dates []string
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format("2006-01-02"))
	}
	return dates, nil
}

// AsnMeta implements asn_meta: resolve dates the same
// way as query(), then read the storage store's per-ASN prefix sets and
// IP counts directly (no cache round trip — asn_meta never blocks on the
// lookup fleet).
func (r *Router) AsnMeta(ctx context.Context, req model.QueryRequest) (map[string]map[string]model.AsnPrefixes, error) {
	if req.Source == "" {
		return nil, fmt.Errorf("asn_meta requires a source")
	}
	family := req.Family
	if family == "" {
		return nil, fmt.Errorf("asn_meta requires an address_family")
	}

	dates, err := r.findDates(ctx, req, req.Source, family)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]model.AsnPrefixes, len(dates))
	for _, date := range dates {
		asns := []string{req.ASN}
		if req.ASN == "" {
			all, err := r.storage.Asns(ctx, req.Source, family, date)
			if err != nil {
				return nil, fmt.Errorf("listing asns for %s/%s/%s: %w", req.Source, family, date, err)
			}
			asns = all
		}

		perAsn := make(map[string]model.AsnPrefixes, len(asns))
		for _, asn := range asns {
			prefixes, err := r.storage.AsnPrefixes(ctx, req.Source, family, date, asn)
			if err != nil {
				return nil, fmt.Errorf("reading prefixes for %s: %w", asn, err)
			}
			count, err := r.storage.IPCount(ctx, req.Source, family, date, asn)
			if err != nil {
				return nil, fmt.Errorf("reading ip count for %s: %w", asn, err)
			}
			perAsn[asn] = model.AsnPrefixes{
				Prefixes:     prefixes,
				IPCount:      count,
				Organization: r.organizationFor(prefixes),
			}
		}
		out[date] = perAsn
	}
	return out, nil
}

// ResponseDates returns a result's date keys sorted newest first, for
// callers rendering JSON in a stable order.
func ResponseDates(result model.QueryResult) []string {
	return sortedDatesDescending(result.Response)
}

// organizationFor cross-checks an ASN's first announced prefix against
// the enrichment database, if one is configured, and returns the
// registered organization name. The historical answer still comes from
// the trie; this is a human-readable label only.
func (r *Router) organizationFor(prefixes []string) string {
	if r.enricher == nil || len(prefixes) == 0 {
		return ""
	}
	prefix, err := netip.ParsePrefix(prefixes[0])
	if err != nil {
		return ""
	}
	_, org, err := r.enricher.Organization(prefix.Addr())
	if err != nil {
		return ""
	}
	return org
}
