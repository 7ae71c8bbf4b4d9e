// Command queryapi serves the read-only operational-visibility HTTP
// surface (pkg/api) over the Key-Value Repository and Execution Selector.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/elephant-xyz/workflow-core/pkg/api"
	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
	"github.com/elephant-xyz/workflow-core/pkg/selector"
	"github.com/elephant-xyz/workflow-core/pkg/stateaggregate"
	"github.com/elephant-xyz/workflow-core/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	addr := flag.String("addr", getEnv("QUERYAPI_ADDR", ":8080"), "Address to listen on")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ginMode := getEnv("GIN_MODE", "release")
	log.Printf("Starting %s", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg, err := kvstore.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load KV store config: %v", err)
	}

	store, err := kvstore.NewStore(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to KV store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing KV store: %v", err)
		}
	}()
	log.Println("Connected to KV store")

	sel := selector.New(store)
	agg := stateaggregate.New(store)

	server := api.New(sel, agg, store, ginMode)

	log.Printf("Query API listening on %s", *addr)
	if err := server.Start(ctx, *addr); err != nil {
		log.Fatalf("Query API server stopped with error: %v", err)
	}
	log.Println("Query API shut down cleanly")
}
