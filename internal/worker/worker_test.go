package worker

import (
	"context"
	"testing"
	"time"

	"github.com/wingedpig/iporg-history/internal/cache"
	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/internal/storage"
	"github.com/wingedpig/iporg-history/pkg/model"
)

func seedSnapshot(t *testing.T, s storage.Store, source string, family model.Family, date, asn, prefix string) {
	t.Helper()
	ctx := context.Background()
	if err := s.AddDate(ctx, source, family, date); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAsnPrefix(ctx, source, family, date, asn, prefix); err != nil {
		t.Fatal(err)
	}
}

func TestWorkerStartAndResolve(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemStore()
	seedSnapshot(t, st, "caida", model.V4, "2023-06-12", "15169", "8.8.8.0/24")

	c := cache.NewMemStore()
	first, _ := time.Parse("2006-01-02", "2023-06-01")
	last, _ := time.Parse("2006-01-02", "2023-06-30")
	w := New(model.WorkerSpec{Source: "caida", First: first, Last: last}, c, st)

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	dates := w.LoadedDates(model.V4)
	if len(dates) != 1 || dates[0] != "2023-06-12" {
		t.Fatalf("LoadedDates = %v", dates)
	}

	cached, err := c.SMembers(ctx, keyschema.CachedDatesKey("caida", model.V4))
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 1 || cached[0] != "2023-06-12" {
		t.Fatalf("cached_dates = %v", cached)
	}

	item := model.WorkItem{Source: "caida", Family: model.V4, Date: "2023-06-12", IP: "8.8.8.8"}
	resp := w.resolve(item)
	if resp.ASN != "15169" || resp.Prefix != "8.8.8.0/24" {
		t.Fatalf("resolve = %+v", resp)
	}
}

func TestWorkerResolveNullRoute(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemStore()
	seedSnapshot(t, st, "caida", model.V4, "2023-06-12", "15169", "8.8.8.0/24")

	c := cache.NewMemStore()
	first, _ := time.Parse("2006-01-02", "2023-06-01")
	last, _ := time.Parse("2006-01-02", "2023-06-30")
	w := New(model.WorkerSpec{Source: "caida", First: first, Last: last}, c, st)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	item := model.WorkItem{Source: "caida", Family: model.V4, Date: "2023-06-12", IP: "192.0.2.1"}
	resp := w.resolve(item)
	if resp.ASN != "0" || resp.Prefix != "0.0.0.0/0" {
		t.Fatalf("resolve = %+v, want null-route sentinel", resp)
	}
}

func TestWorkerTickProcessesWorkItem(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemStore()
	seedSnapshot(t, st, "caida", model.V4, "2023-06-12", "15169", "8.8.8.0/24")

	c := cache.NewMemStore()
	first, _ := time.Parse("2006-01-02", "2023-06-01")
	last, _ := time.Parse("2006-01-02", "2023-06-30")
	w := New(model.WorkerSpec{Source: "caida", First: first, Last: last}, c, st)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	key := keyschema.WorkKey("caida", model.V4, "2023-06-12", "8.8.8.8")
	if err := c.SAdd(ctx, keyschema.QuerySetKey, key); err != nil {
		t.Fatal(err)
	}

	if err := w.tick(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := c.HGetAll(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got["asn"] != "15169" || got["prefix"] != "8.8.8.0/24" {
		t.Fatalf("response hash = %+v", got)
	}

	members, err := c.SMembers(ctx, keyschema.QuerySetKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Fatalf("expected work item removed from query set, got %v", members)
	}
}

func TestWorkerTickIgnoresOtherSourceAndUnloadedDate(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemStore()
	seedSnapshot(t, st, "caida", model.V4, "2023-06-12", "15169", "8.8.8.0/24")

	c := cache.NewMemStore()
	first, _ := time.Parse("2006-01-02", "2023-06-01")
	last, _ := time.Parse("2006-01-02", "2023-06-30")
	w := New(model.WorkerSpec{Source: "caida", First: first, Last: last}, c, st)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	otherSource := keyschema.WorkKey("ripe_rrc00", model.V4, "2023-06-12", "8.8.8.8")
	unloadedDate := keyschema.WorkKey("caida", model.V4, "2099-01-01", "8.8.8.8")
	if err := c.SAdd(ctx, keyschema.QuerySetKey, otherSource, unloadedDate); err != nil {
		t.Fatal(err)
	}

	if err := w.tick(ctx); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{otherSource, unloadedDate} {
		got, err := c.HGetAll(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("worker should not have answered %q: %+v", key, got)
		}
	}
	members, err := c.SMembers(ctx, keyschema.QuerySetKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected both unresolved items to remain, got %v", members)
	}
}
