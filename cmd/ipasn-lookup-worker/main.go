// Command ipasn-lookup-worker runs a single lookup worker: it loads the
// tries for one (source, [first, last]) window from the storage store
// and then serves lookups out of the cache store's work-set until shut
// down.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wingedpig/iporg-history/internal/cache"
	"github.com/wingedpig/iporg-history/internal/config"
	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/internal/storage"
	"github.com/wingedpig/iporg-history/internal/worker"
	"github.com/wingedpig/iporg-history/pkg/model"
)

func main() {
	cfg, err := config.LoadWorkerConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}

	first, err := time.Parse("2006-01-02", cfg.First)
	if err != nil {
		log.Fatalf("CRITICAL: malformed --first: %v", err)
	}
	last, err := time.Parse("2006-01-02", cfg.Last)
	if err != nil {
		log.Fatalf("CRITICAL: malformed --last: %v", err)
	}

	cacheStore := cache.NewRedisStore(cfg.CacheAddr, cfg.CachePassword, cfg.CacheDB)
	storageStore, err := storage.OpenLeveldbStore(cfg.StoragePath)
	if err != nil {
		log.Fatalf("CRITICAL: opening storage store: %v", err)
	}
	defer storageStore.Close()

	w := worker.New(model.WorkerSpec{Source: cfg.Source, First: first, Last: last}, cacheStore, storageStore)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := w.Start(ctx); err != nil {
		log.Fatalf("CRITICAL: initial load failed: %v", err)
	}

	if err := cacheStore.HSet(ctx, keyschema.RunningKey, map[string]string{w.ID(): "1"}); err != nil {
		log.Printf("WARN: worker %s: failed to publish running flag: %v", w.ID(), err)
	}
	defer clearRunning(cacheStore, w.ID())

	if err := w.Serve(ctx); err != nil && err != context.Canceled && err != model.ErrShutdown {
		log.Fatalf("CRITICAL: worker exited: %v", err)
	}
	log.Printf("INFO: worker %s exiting", w.ID())
}

// clearRunning removes this worker's entry from the running hash on a
// graceful exit. It uses a fresh context since the worker's own context is
// already cancelled by the time this runs.
func clearRunning(c cache.Store, workerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.HDel(ctx, keyschema.RunningKey, workerID); err != nil {
		log.Printf("WARN: worker %s: failed to clear running flag: %v", workerID, err)
	}
}
