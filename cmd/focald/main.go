// cmd/focald is the entry point for the Focal salience engine daemon.
//
// Startup sequence:
//  1. Load configuration from environment variables.
//  2. Open the SQLite store and apply the schema.
//  3. Optionally open the pgvector semantic index, wrapped in a circuit
//     breaker.
//  4. Wire the engine facade over the stores.
//  5. Optionally watch the device TTL file for hot reloads.
//  6. Run the maintenance sweeper until SIGINT / SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/focalhq/focal/internal/config"
	"github.com/focalhq/focal/internal/engine"
	"github.com/focalhq/focal/internal/notify"
	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/internal/storage/postgres"
	"github.com/focalhq/focal/internal/storage/sqlite"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("focald: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
		log.Fatalf("failed to create data directory %q: %v", cfg.Storage.DataPath, err)
	}

	dbPath := fmt.Sprintf("%s/focal.db", cfg.Storage.DataPath)
	store, err := sqlite.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database at %q: %v", dbPath, err)
	}
	defer store.Close()

	sets := sqlite.NewOrderedSetStore(store)
	contexts := sqlite.NewContextStore(store)
	relationships := sqlite.NewRelationshipStore(store)

	stores := engine.Stores{
		Sets:          sets,
		Contexts:      contexts,
		Patterns:      sqlite.NewPatternStore(store),
		Salience:      sqlite.NewSalienceStore(store),
		Weights:       sqlite.NewWeightsStore(store),
		Relationships: relationships,
		Timeline:      sqlite.NewTimelineStore(store),
	}

	// The semantic index is optional: without it retrieval ranking is
	// unavailable but capture, attention, and patterns still run.
	if cfg.Storage.PostgresDSN != "" {
		index, err := postgres.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to open semantic index: %v", err)
		}
		defer index.Close()
		stores.Search = storage.NewBreakerSearchProvider(index)
	}

	eng := engine.New(stores, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	// Hot-reload the device TTL table when the file changes.
	if path := os.Getenv("FOCAL_DEVICE_TTL_FILE"); path != "" {
		watcher := notify.NewFileWatcher(path, func(path string) {
			if err := cfg.LoadDeviceTTLFile(path); err != nil {
				log.Printf("device TTL reload failed: %v", err)
				return
			}
			log.Printf("device TTL table reloaded from %s", path)
		})
		if err := watcher.Start(); err != nil {
			log.Printf("device TTL watcher unavailable: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	// Drain background integration errors for visibility.
	go func() {
		for err := range eng.Integrator().Errors() {
			log.Printf("context integration error: %v", err)
		}
	}()

	sweeper := engine.NewSweeper(sets, contexts, relationships, eng.Attention(), 50)
	log.Println("focal engine started")
	sweeper.Run(ctx, time.Hour)
	log.Println("focal engine stopped")
}
