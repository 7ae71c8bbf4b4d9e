// Command repair-controller runs the Auto-Repair Controller (C7) on a
// polling interval, picking the worst (or best, via --sort-order)
// candidate execution via the Execution Selector (C6) and driving it
// through PICK_EXECUTION..COMMIT/EXHAUSTED.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"github.com/elephant-xyz/workflow-core/pkg/blobstore"
	"github.com/elephant-xyz/workflow-core/pkg/config"
	"github.com/elephant-xyz/workflow-core/pkg/errormutator"
	"github.com/elephant-xyz/workflow-core/pkg/fingerprint"
	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
	"github.com/elephant-xyz/workflow-core/pkg/metrics"
	"github.com/elephant-xyz/workflow-core/pkg/repair"
	"github.com/elephant-xyz/workflow-core/pkg/repairagent"
	"github.com/elephant-xyz/workflow-core/pkg/selector"
	"github.com/elephant-xyz/workflow-core/pkg/validator"
	"github.com/elephant-xyz/workflow-core/pkg/version"
	"github.com/elephant-xyz/workflow-core/pkg/workflowengine"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// logOutputQueue logs SVL commit transaction items instead of forwarding
// them to a real message queue; the output queue lives outside this repo
// and this build has no broker credentials for it.
type logOutputQueue struct{}

func (logOutputQueue) Send(_ context.Context, items []validator.TransactionItem) error {
	slog.Info("would forward transaction items to output queue", "count", len(items))
	return nil
}

// logDLQ logs exhausted SVL executions instead of forwarding them to a
// real dead-letter queue, for the same reason as logOutputQueue.
type logDLQ struct{}

func (logDLQ) Send(_ context.Context, msg repair.DLQMessage) error {
	slog.Warn("would send to DLQ", "execution_id", msg.ExecutionID, "source_bucket", msg.SourceBucket, "source_key", msg.SourceKey, "cause", msg.Cause)
	return nil
}

func loadPromptRegistry(ctx context.Context, chain *config.Chain) *config.Registry {
	raw, err := chain.Lookup(ctx, "prompts.yaml")
	if err != nil {
		log.Printf("No prompt-template override found (%v); using the built-in default prompt", err)
		return config.NewRegistry(map[string]config.PromptTemplate{
			config.DefaultRepairPromptName: config.DefaultRepairPrompt,
		})
	}
	templates, err := config.ParsePromptTemplates(raw)
	if err != nil {
		log.Printf("Failed to parse prompts.yaml override (%v); falling back to the built-in default prompt", err)
		return config.NewRegistry(map[string]config.PromptTemplate{
			config.DefaultRepairPromptName: config.DefaultRepairPrompt,
		})
	}
	if _, ok := templates[config.DefaultRepairPromptName]; !ok {
		templates[config.DefaultRepairPromptName] = config.DefaultRepairPrompt
	}
	return config.NewRegistry(templates)
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	sortOrder := flag.String("sort-order", getEnv("REPAIR_SORT_ORDER", string(selector.SortMost)), "Which execution to pick each tick: most or least open errors")
	errorType := flag.String("error-type", getEnv("REPAIR_ERROR_TYPE", ""), "Restrict candidate selection to this errorType prefix")
	pollInterval := flag.Duration("poll-interval", 1*time.Minute, "How often to run one repair attempt")
	once := flag.Bool("once", false, "Run a single repair attempt, then exit")
	transformBucket := flag.String("transform-bucket", getEnv("TRANSFORM_BUCKET", ""), "Bucket holding per-county transform script archives")
	transformPrefix := flag.String("transform-prefix", getEnv("TRANSFORM_PREFIX", "transform"), "Key prefix under transform-bucket for per-county script archives")
	maxAttempts := flag.Int("max-attempts", 3, "Maximum repair attempts per execution before marking unrecoverable")
	validatorEndpoint := flag.String("validator-endpoint", getEnv("VALIDATOR_ENDPOINT", ""), "Validator service endpoint")
	agentEndpoint := flag.String("agent-endpoint", getEnv("REPAIR_AGENT_ENDPOINT", ""), "AI repair-agent service endpoint")
	workflowSuccessEndpoint := flag.String("workflow-success-endpoint", getEnv("WORKFLOW_SUCCESS_ENDPOINT", ""), "Workflow engine success-callback endpoint")
	workflowFailureEndpoint := flag.String("workflow-failure-endpoint", getEnv("WORKFLOW_FAILURE_ENDPOINT", ""), "Workflow engine failure-callback endpoint")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	order := selector.SortOrder(*sortOrder)
	if order != selector.SortMost && order != selector.SortLeast {
		log.Fatalf("Invalid -sort-order %q: must be %q or %q", *sortOrder, selector.SortMost, selector.SortLeast)
	}
	if *transformBucket == "" {
		log.Fatalf("TRANSFORM_BUCKET / -transform-bucket is required")
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
	blobClient := blobstore.New(s3.NewFromConfig(awsCfg))
	config.IsNotFoundErr = blobstore.IsNotFound

	sink := metrics.NewCloudWatchSink(cloudwatch.NewFromConfig(awsCfg))

	chain := config.NewChain(
		config.S3Source{Getter: blobClient, Bucket: *transformBucket, Prefix: "config/", County: ""},
		config.EnvSource{Prefix: "ELEPHANT_CONFIG"},
	)
	prompts := loadPromptRegistry(ctx, chain)

	rules, defaultCode, err := config.LoadClassificationTable(ctx, chain, config.BaseFromTable(fingerprint.Table), fingerprint.DefaultCode)
	if err != nil {
		log.Fatalf("Failed to load classification table: %v", err)
	}
	fingerprint.Table = rules
	fingerprint.DefaultCode = defaultCode

	httpClient := &http.Client{Timeout: 15 * time.Minute}
	agentClient := repairagent.New(httpClient, *agentEndpoint, repairagent.NoopCostObserver{})
	validatorClient := validator.New(httpClient, *validatorEndpoint)

	sel := selector.New(store)
	mutator := errormutator.New(store)

	controller := repair.New(
		sel, blobClient, agentClient, validatorClient, mutator,
		logOutputQueue{}, logDLQ{}, sink, prompts,
		repair.Config{
			TransformBucket: *transformBucket,
			TransformPrefix: *transformPrefix,
			MaxAttempts:     *maxAttempts,
		},
	)
	if *workflowSuccessEndpoint != "" && *workflowFailureEndpoint != "" {
		controller = controller.WithWorkflowEngine(workflowengine.New(httpClient, *workflowSuccessEndpoint, *workflowFailureEndpoint))
	}

	runOnce := func() {
		result, err := controller.Run(ctx, order, *errorType)
		if err != nil {
			slog.Error("repair attempt failed", "error", err)
			return
		}
		slog.Info("repair attempt finished", "execution_id", result.ExecutionID, "outcome", result.Outcome, "attempts", result.Attempts, "fixed_count", result.FixedCount)
	}

	runOnce()
	if *once {
		return
	}

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Repair controller shut down cleanly")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
