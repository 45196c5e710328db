package router

import (
	"context"
	"testing"
	"time"

	"github.com/wingedpig/iporg-history/internal/cache"
	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/internal/storage"
	"github.com/wingedpig/iporg-history/pkg/model"
)

func seedResponse(t *testing.T, c cache.Store, source string, family model.Family, date, ip, asn, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := keyschema.WorkKey(source, family, date, ip)
	fields := map[string]string{"asn": asn, "prefix": prefix}
	if err := c.HSet(ctx, key, fields); err != nil {
		t.Fatal(err)
	}
}

func seedCachedDate(t *testing.T, c cache.Store, source string, family model.Family, date string) {
	t.Helper()
	if err := c.SAdd(context.Background(), keyschema.CachedDatesKey(source, family), date); err != nil {
		t.Fatal(err)
	}
}

func TestQuerySingleSourcePrecached(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	seedCachedDate(t, c, "caida", model.V4, "2023-06-12")
	seedResponse(t, c, "caida", model.V4, "2023-06-12", "8.8.8.8", "15169", "8.8.8.0/24")

	r := New(c, st, []string{"caida"})
	result, err := r.Query(ctx, model.QueryRequest{IP: "8.8.8.8", Date: "2023-06-12"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	resp, ok := result.Response["2023-06-12"]
	if !ok {
		t.Fatalf("missing 2023-06-12 in response: %+v", result.Response)
	}
	if resp.ASN != "15169" || resp.Prefix != "8.8.8.0/24" {
		t.Fatalf("got %+v", resp)
	}
}

func TestQueryNoRouteViewsLoaded(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	r := New(c, st, []string{"caida"})

	result, err := r.Query(ctx, model.QueryRequest{IP: "8.8.8.8"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Error == "" {
		t.Fatal("expected error for missing cached dates")
	}
}

func TestQueryCollatesMostSpecificAcrossSources(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	seedCachedDate(t, c, "caida", model.V4, "2023-06-12")
	seedCachedDate(t, c, "ripe", model.V4, "2023-06-12")
	seedResponse(t, c, "caida", model.V4, "2023-06-12", "8.8.8.8", "6939", "8.0.0.0/9")
	seedResponse(t, c, "ripe", model.V4, "2023-06-12", "8.8.8.8", "15169", "8.8.8.0/24")

	r := New(c, st, []string{"caida", "ripe"})
	result, err := r.Query(ctx, model.QueryRequest{IP: "8.8.8.8", Date: "2023-06-12"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Response) != 1 {
		t.Fatalf("expected single collated date, got %+v", result.Response)
	}
	resp := result.Response["2023-06-12"]
	if resp.Prefix != "8.8.8.0/24" || resp.ASN != "15169" {
		t.Fatalf("expected most-specific prefix to win, got %+v", resp)
	}
}

func TestQueryPointReturnsOnlyValidWhenAnyValidExists(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	// Each source only has one cached date, so a point query for
	// 2023-06-10 resolves to 2023-06-10 for caida and 2023-06-11 for ripe.
	seedCachedDate(t, c, "caida", model.V4, "2023-06-10")
	seedCachedDate(t, c, "ripe", model.V4, "2023-06-11")
	seedResponse(t, c, "caida", model.V4, "2023-06-10", "192.0.2.1", "0", "0.0.0.0/0")
	seedResponse(t, c, "ripe", model.V4, "2023-06-11", "192.0.2.1", "65000", "192.0.2.0/24")

	r := New(c, st, []string{"caida", "ripe"})
	result, err := r.Query(ctx, model.QueryRequest{IP: "192.0.2.1", Date: "2023-06-10"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result.Response["2023-06-10"]; ok {
		t.Fatalf("null-route date should be dropped when a valid answer exists: %+v", result.Response)
	}
	if _, ok := result.Response["2023-06-11"]; !ok {
		t.Fatalf("valid date missing: %+v", result.Response)
	}
}

func TestQueryReturnsNullRouteWhenNoValidAnswer(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	seedCachedDate(t, c, "caida", model.V4, "2023-06-12")
	seedResponse(t, c, "caida", model.V4, "2023-06-12", "192.0.2.1", "0", "0.0.0.0/0")

	r := New(c, st, []string{"caida"})
	result, err := r.Query(ctx, model.QueryRequest{IP: "192.0.2.1", Date: "2023-06-12"})
	if err != nil {
		t.Fatal(err)
	}
	resp, ok := result.Response["2023-06-12"]
	if !ok {
		t.Fatalf("expected null-route sentinel to be returned, got %+v", result.Response)
	}
	if resp.ASN != "0" {
		t.Fatalf("got %+v", resp)
	}
}

func TestQueryPrecisionDeltaRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	seedCachedDate(t, c, "caida", model.V4, "2023-06-12")

	r := New(c, st, []string{"caida"})
	result, err := r.Query(ctx, model.QueryRequest{
		IP:             "8.8.8.8",
		Date:           "2020-01-01",
		PrecisionDelta: &model.PrecisionDelta{Days: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Error == "" {
		t.Fatal("expected out-of-precision error")
	}
}

func TestQueryEnqueuesAndWaitsForWorkerAnswer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := cache.NewMemStore()
	st := storage.NewMemStore()
	seedCachedDate(t, c, "caida", model.V4, "2023-06-12")

	r := New(c, st, []string{"caida"})

	go func() {
		time.Sleep(50 * time.Millisecond)
		seedResponse(t, c, "caida", model.V4, "2023-06-12", "8.8.8.8", "15169", "8.8.8.0/24")
	}()

	result, err := r.Query(ctx, model.QueryRequest{IP: "8.8.8.8", Date: "2023-06-12"})
	if err != nil {
		t.Fatal(err)
	}
	resp, ok := result.Response["2023-06-12"]
	if !ok || resp.ASN != "15169" {
		t.Fatalf("expected worker-provided answer to arrive, got %+v", result.Response)
	}
}

func TestMassQueryNonBlockingReturnsPrecachedAndEnqueuesMisses(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	seedCachedDate(t, c, "caida", model.V4, "2023-06-12")
	seedResponse(t, c, "caida", model.V4, "2023-06-12", "8.8.8.8", "15169", "8.8.8.0/24")

	r := New(c, st, []string{"caida"})
	results, err := r.MassQuery(ctx, []model.QueryRequest{
		{IP: "8.8.8.8", Date: "2023-06-12"},
		{IP: "1.1.1.1", Date: "2023-06-12"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if resp, ok := results[0].Response["2023-06-12"]; !ok || resp.ASN != "15169" {
		t.Fatalf("expected pre-cached answer for 8.8.8.8, got %+v", results[0])
	}
	if len(results[1].Response) != 0 {
		t.Fatalf("expected no answer yet for 1.1.1.1, got %+v", results[1])
	}

	key := keyschema.WorkKey("caida", model.V4, "2023-06-12", "1.1.1.1")
	members, err := c.SMembers(ctx, keyschema.QuerySetKey)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, m := range members {
		if m == key {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected miss enqueued: %v", members)
	}
}

func TestMassCacheReportsCachedAndNotCached(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	seedCachedDate(t, c, "caida", model.V4, "2023-06-12")

	r := New(c, st, []string{"caida"})
	cached, notCached, err := r.MassCache(ctx, []model.QueryRequest{
		{IP: "8.8.8.8", Date: "2023-06-12"},
		{IP: "2001:db8::1"}, // no v6 dates are cached, so this one can't be keyed
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) == 0 {
		t.Fatalf("expected some cached keys, got %v / notCached=%v", cached, notCached)
	}
	if len(notCached) != 1 {
		t.Fatalf("expected the v6 query reported as not cached, got %v", notCached)
	}
}

func TestMetaReportsCompleteness(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	if err := c.HSet(ctx, keyschema.MetaExpectedIntervalKey, map[string]string{
		"first": "2023-06-10", "last": "2023-06-12",
	}); err != nil {
		t.Fatal(err)
	}
	seedCachedDate(t, c, "caida", model.V4, "2023-06-10")
	seedCachedDate(t, c, "caida", model.V4, "2023-06-12")

	r := New(c, st, []string{"caida"})
	meta, err := r.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	summary := meta.CachedDates["caida"][model.V4]
	if len(summary.Missing) != 1 || summary.Missing[0] != "2023-06-11" {
		t.Fatalf("expected 2023-06-11 missing, got %+v", summary)
	}
	if summary.Percent < 66.0 || summary.Percent > 67.0 {
		t.Fatalf("expected ~66.67%% complete, got %v", summary.Percent)
	}
}

func TestMetaReportsRunningWorkers(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()

	spec := model.WorkerSpec{
		Source: "caida",
		First:  mustParseDate(t, "2023-06-01"),
		Last:   mustParseDate(t, "2023-06-30"),
	}
	if err := c.HSet(ctx, keyschema.RunningKey, map[string]string{spec.ID(): "1"}); err != nil {
		t.Fatal(err)
	}

	r := New(c, st, []string{"caida"})
	meta, err := r.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Workers) != 1 || meta.Workers[0].ID() != spec.ID() {
		t.Fatalf("got %+v, want one worker %s", meta.Workers, spec.ID())
	}
}

func TestMetaDropsMalformedRunningEntries(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	if err := c.HSet(ctx, keyschema.RunningKey, map[string]string{"not-a-worker-id": "1"}); err != nil {
		t.Fatal(err)
	}

	r := New(c, st, []string{"caida"})
	meta, err := r.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Workers) != 0 {
		t.Fatalf("expected malformed entry to be dropped, got %+v", meta.Workers)
	}
}

func mustParseDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestAsnMetaReadsStorageDirectly(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemStore()
	st := storage.NewMemStore()
	seedCachedDate(t, c, "caida", model.V4, "2023-06-12")
	if err := st.AddDate(ctx, "caida", model.V4, "2023-06-12"); err != nil {
		t.Fatal(err)
	}
	if err := st.AddAsnPrefix(ctx, "caida", model.V4, "2023-06-12", "15169", "8.8.8.0/24"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetIPCount(ctx, "caida", model.V4, "2023-06-12", "15169", 256); err != nil {
		t.Fatal(err)
	}

	r := New(c, st, []string{"caida"})
	out, err := r.AsnMeta(ctx, model.QueryRequest{Source: "caida", Family: model.V4, ASN: "15169", Date: "2023-06-12"})
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := out["2023-06-12"]["15169"]
	if !ok {
		t.Fatalf("missing asn entry: %+v", out)
	}
	if entry.IPCount != 256 || len(entry.Prefixes) != 1 || entry.Prefixes[0] != "8.8.8.0/24" {
		t.Fatalf("got %+v", entry)
	}
}
