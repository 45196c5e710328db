// Command ipasn-lookup-manager runs the lookup manager: it spawns and
// kills ipasn-lookup-worker processes to keep the sliding window
// covered, publishes META:expected_interval, and prunes aged-out
// cached-dates entries on a steady-state tick.
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
	"github.com/wingedpig/iporg-history/internal/manager"
	"github.com/wingedpig/iporg-history/internal/storage"
)

func main() {
	cfg, err := config.LoadManagerConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}

	cacheStore := cache.NewRedisStore(cfg.CacheAddr, cfg.CachePassword, cfg.CacheDB)
	storageStore, err := storage.OpenLeveldbStore(cfg.StoragePath)
	if err != nil {
		log.Fatalf("CRITICAL: opening storage store: %v", err)
	}
	defer storageStore.Close()

	spawner := manager.ExecSpawner{BinaryPath: cfg.WorkerBinaryPath}
	mgr := manager.New(manager.Config{
		DaysInMemory:       cfg.DaysInMemory,
		FloatingWindowDays: cfg.FloatingWindowDays,
		Sources:            cfg.Sources,
	}, cacheStore, spawner)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := mgr.Start(ctx, time.Now()); err != nil {
		log.Fatalf("CRITICAL: starting fleet: %v", err)
	}
	log.Printf("INFO: lookup manager started for sources %v", cfg.Sources)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("INFO: shutdown requested, stopping fleet")
			if err := mgr.Shutdown(context.Background()); err != nil {
				log.Printf("WARN: shutdown: %v", err)
			}
			return
		case <-ticker.C:
			if err := mgr.Tick(ctx, time.Now()); err != nil {
				log.Printf("WARN: tick failed: %v", err)
			}
		}
	}
}
