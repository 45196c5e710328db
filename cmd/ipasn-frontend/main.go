// Command ipasn-frontend runs the HTTP frontend: it binds the query
// router's operations onto net/http and never touches trie memory or
// spawns workers directly.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wingedpig/iporg-history/internal/cache"
	"github.com/wingedpig/iporg-history/internal/config"
	"github.com/wingedpig/iporg-history/internal/enrich"
	"github.com/wingedpig/iporg-history/internal/httpapi"
	"github.com/wingedpig/iporg-history/internal/router"
	"github.com/wingedpig/iporg-history/internal/storage"
)

func main() {
	cfg, err := config.LoadFrontendConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}

	cacheStore := cache.NewRedisStore(cfg.CacheAddr, cfg.CachePassword, cfg.CacheDB)
	storageStore, err := storage.OpenLeveldbStore(cfg.StoragePath)
	if err != nil {
		log.Fatalf("CRITICAL: opening storage store: %v", err)
	}
	defer storageStore.Close()

	r := router.New(cacheStore, storageStore, cfg.Sources)
	if cfg.ASNDBPath != "" {
		lookup, err := enrich.Open(cfg.ASNDBPath)
		if err != nil {
			log.Fatalf("CRITICAL: opening ASN enrichment database: %v", err)
		}
		defer lookup.Close()
		r = r.WithEnrichment(lookup)
	}
	server := httpapi.NewServer(r)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		log.Printf("INFO: shutdown requested, draining connections")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARN: shutdown: %v", err)
		}
	}()

	log.Printf("INFO: ipasn-frontend listening on %s for sources %v", cfg.ListenAddr, cfg.Sources)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("CRITICAL: %v", err)
	}
}
