// Command ingestor consumes WorkflowEvents and drives the Error Ingestion
// Engine (C3), the State & Aggregate Engine (C4), and the Phase Metrics
// Publisher (C8) for each one. It reads newline-delimited JSON events from
// stdin; the event-bus subscription itself lives outside this repo — a
// deployment wires it in by replacing readEvents with an adapter over the
// real bus. Stdin is the one input that needs no extra infrastructure to
// exercise the rest of the pipeline.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/elephant-xyz/workflow-core/pkg/ingestion"
	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
	"github.com/elephant-xyz/workflow-core/pkg/metrics"
	"github.com/elephant-xyz/workflow-core/pkg/stateaggregate"
	"github.com/elephant-xyz/workflow-core/pkg/version"
	"github.com/elephant-xyz/workflow-core/pkg/workflowevent"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// readEvents decodes one WorkflowEvent per non-blank line of r.
func readEvents(r io.Reader) ([]workflowevent.Event, error) {
	var events []workflowevent.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event workflowevent.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, err
		}
		if event.ID == "" {
			// An event with no bus-assigned ID still needs an idempotency
			// token; a fresh UUID makes each delivery unique rather than
			// silently collapsing all anonymous events into one token.
			event.ID = uuid.NewString()
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	once := flag.Bool("once", false, "Process events on stdin, then exit quietly; without it the ingestor also exits after stdin, logging that no live subscription is wired")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Printf("Starting %s", version.Full())

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

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	sink := metrics.NewCloudWatchSink(cloudwatch.NewFromConfig(awsCfg))
	publisher := metrics.NewPublisher(sink)

	ingestEngine := ingestion.New(store, publisher)
	aggregateEngine := stateaggregate.New(store)

	events, err := readEvents(os.Stdin)
	if err != nil {
		log.Fatalf("Failed to decode events from stdin: %v", err)
	}
	log.Printf("Read %d event(s) from stdin", len(events))

	processed := 0
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := ingestEngine.Ingest(ctx, event); err != nil {
			slog.Error("ingest failed", "execution_id", event.ExecutionID, "event_id", event.ID, "error", err)
			continue
		}
		if err := aggregateEngine.Apply(ctx, event); err != nil {
			slog.Error("aggregate apply failed", "execution_id", event.ExecutionID, "event_id", event.ID, "error", err)
			continue
		}
		processed++
	}
	log.Printf("Processed %d/%d event(s)", processed, len(events))

	if *once {
		return
	}
	log.Println("--once not set and stdin is exhausted; exiting (no live event-bus subscription wired in this build)")
}
