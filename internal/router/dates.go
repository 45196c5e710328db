package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/pkg/model"
)

// dateCacheTTL is how long a (source, family)'s cached-dates list stays
// memoized in-process before find_dates re-reads the cache store.
const dateCacheTTL = 10 * time.Minute

type dateCacheEntry struct {
	dates     []string // sorted ascending
	expiresAt time.Time
}

type dateCache struct {
	mu      sync.Mutex
	entries map[string]dateCacheEntry
}

func newDateCache() *dateCache {
	return &dateCache{entries: make(map[string]dateCacheEntry)}
}

func (r *Router) cachedDates(ctx context.Context, source string, family model.Family) ([]string, error) {
	cacheKey := source + "|" + string(family)

	r.dates.mu.Lock()
	if e, ok := r.dates.entries[cacheKey]; ok && time.Now().Before(e.expiresAt) {
		r.dates.mu.Unlock()
		return e.dates, nil
	}
	r.dates.mu.Unlock()

	members, err := r.cache.SMembers(ctx, keyschema.CachedDatesKey(source, family))
	if err != nil {
		return nil, fmt.Errorf("reading cached dates for %s/%s: %w", source, family, err)
	}
	sort.Strings(members)

	r.dates.mu.Lock()
	r.dates.entries[cacheKey] = dateCacheEntry{dates: members, expiresAt: time.Now().Add(dateCacheTTL)}
	r.dates.mu.Unlock()

	return members, nil
}

// findDates resolves the set of snapshot dates a (source, family) should
// be queried for: a specific date (nearest match, optionally bounded by
// precision_delta), an inclusive [first, last] range, or — absent both
// — "latest".
func (r *Router) findDates(ctx context.Context, req model.QueryRequest, source string, family model.Family) ([]string, error) {
	cached, err := r.cachedDates(ctx, source, family)
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 {
		return nil, fmt.Errorf("No route views have been loaded for %s / %s yet.", source, family)
	}

	switch {
	case req.First != "":
		first, err := parseUTCDate(req.First)
		if err != nil {
			return nil, fmt.Errorf("malformed first date %q: %w", req.First, err)
		}
		lastStr := req.Last
		if lastStr == "" {
			lastStr = req.First
		}
		last, err := parseUTCDate(lastStr)
		if err != nil {
			return nil, fmt.Errorf("malformed last date %q: %w", lastStr, err)
		}
		if first.After(last) {
			return nil, fmt.Errorf("%w: first %s is after last %s", model.ErrFirstAfterLast, req.First, lastStr)
		}

		var inRange []string
		for _, d := range cached {
			parsed, err := parseUTCDate(d)
			if err != nil {
				continue
			}
			if !parsed.Before(first) && !parsed.After(last) {
				inRange = append(inRange, d)
			}
		}
		if len(inRange) == 0 {
			nf, _ := nearestDate(cached, first)
			nl, _ := nearestDate(cached, last)
			return nil, fmt.Errorf("%w: %s/%s [%s, %s]; nearest to first is %s, nearest to last is %s",
				model.ErrEmptyInterval, source, family, req.First, lastStr, nf, nl)
		}
		return inRange, nil

	case req.Date != "":
		target, err := parseUTCDate(req.Date)
		if err != nil {
			return nil, fmt.Errorf("malformed date %q: %w", req.Date, err)
		}
		nearest, err := nearestDate(cached, target)
		if err != nil {
			return nil, err
		}
		if req.PrecisionDelta != nil && !req.PrecisionDelta.IsZero() {
			delta := req.PrecisionDelta.Duration()
			lo := target.Add(-delta)
			hi := target.Add(delta)
			nearestParsed, _ := parseUTCDate(nearest)
			if nearestParsed.Before(lo) || nearestParsed.After(hi) {
				return nil, fmt.Errorf("%w: unable to find a date in the expected interval [%s, %s] for %s/%s",
					model.ErrOutsidePrecision, lo.Format("2006-01-02"), hi.Format("2006-01-02"), source, family)
			}
		}
		return []string{nearest}, nil

	default:
		nearest, err := nearestDate(cached, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return []string{nearest}, nil
	}
}

// parseUTCDate parses an ISO date, normalizing any timezone-aware input
// to UTC naive before comparison.
func parseUTCDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Truncate(24 * time.Hour), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// nearestDate returns the element of dates (ISO strings) with the
// smallest absolute time distance to target.
func nearestDate(dates []string, target time.Time) (string, error) {
	if len(dates) == 0 {
		return "", model.ErrNotFound
	}
	best := dates[0]
	bestParsed, err := parseUTCDate(best)
	if err != nil {
		return "", fmt.Errorf("parsing cached date %q: %w", best, err)
	}
	bestDiff := absDuration(bestParsed.Sub(target))

	for _, d := range dates[1:] {
		parsed, err := parseUTCDate(d)
		if err != nil {
			continue
		}
		diff := absDuration(parsed.Sub(target))
		if diff < bestDiff {
			best, bestDiff = d, diff
		}
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
