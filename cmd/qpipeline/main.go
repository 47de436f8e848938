// Command qpipeline is the composition root: it wires every concrete
// adapter (LLM providers, embeddings, Postgres storage, observability,
// reporter) into one Pipeline and runs it once, grounded on the teacher's
// core/cmd/example/main.go minimal style — plain main(), log.Fatal on a
// hard dependency failure, a logged-and-skipped degradation for an
// optional one. CLI argument parsing and config-file loading are both
// intentionally out of scope (§1); every knob here is a scalar environment
// variable.
package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/dedup"
	"github.com/cogniforge/qpipeline/embedding"
	"github.com/cogniforge/qpipeline/generator"
	"github.com/cogniforge/qpipeline/judge"
	"github.com/cogniforge/qpipeline/llm"
	"github.com/cogniforge/qpipeline/llm/anthropic"
	"github.com/cogniforge/qpipeline/llm/bedrock"
	"github.com/cogniforge/qpipeline/llm/gemini"
	"github.com/cogniforge/qpipeline/llm/openai"
	"github.com/cogniforge/qpipeline/llm/xai"
	"github.com/cogniforge/qpipeline/metrics"
	"github.com/cogniforge/qpipeline/observability"
	"github.com/cogniforge/qpipeline/pipeline"
	"github.com/cogniforge/qpipeline/reporter"
	"github.com/cogniforge/qpipeline/resilience"
	"github.com/cogniforge/qpipeline/storage"
)

func main() {
	logger := core.NewJSONLogger("qpipeline", getenv("QPIPELINE_LOG_LEVEL", "info"), getenv("QPIPELINE_LOG_FORMAT", "text"))
	ctx := context.Background()

	breakers := resilience.NewRegistry()
	providers := buildProviders(logger, breakers)
	if len(providers) == 0 {
		log.Fatal("qpipeline: no LLM provider credentials configured; set at least one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, XAI_API_KEY, or AWS credentials for bedrock")
	}

	db := mustOpenDatabase(mustGetenv("DATABASE_URL"))
	embeddingService := buildEmbeddingService(logger, breakers)

	gen := generator.New(providers, providerOrder(providers), breakers)
	j := judge.New(providers, nil, providerOrder(providers), breakers)
	applyJudgeOverrides(j)
	dedupChecker := dedup.New(embeddingService)
	writer := storage.New(db, embeddingService, getenv("QPIPELINE_PROMPT_VERSION", "v1"), logger)
	tracker := metrics.New()
	obs := buildObservability(ctx, logger)
	rep := buildReporter(logger)

	p := pipeline.New(gen, j, dedupChecker, writer, tracker, obs, rep, logger)

	existing, err := writer.ExistingQuestionTexts(ctx)
	if err != nil {
		logger.Warn("qpipeline: failed to load existing corpus for dedup, continuing with an empty corpus", map[string]interface{}{"error": err.Error()})
	}

	req := buildRequest(existing)
	summary, exitCode := p.Run(ctx, req)

	logger.Info("qpipeline: run complete", map[string]interface{}{
		"exit_code":          int(exitCode),
		"questions_inserted": summary.QuestionsInserted,
		"questions_requested": summary.QuestionsRequested,
	})
	os.Exit(int(exitCode))
}

func buildProviders(logger core.Logger, breakers *resilience.Registry) map[string]llm.Provider {
	providers := map[string]llm.Provider{}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		providers["openai"] = openai.NewClient(key, os.Getenv("OPENAI_BASE_URL"), logger, breakers.Get("openai"))
	} else {
		logger.Info("qpipeline: OPENAI_API_KEY not set, skipping openai provider", nil)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		providers["anthropic"] = anthropic.NewClient(key, os.Getenv("ANTHROPIC_BASE_URL"), logger, breakers.Get("anthropic"))
	} else {
		logger.Info("qpipeline: ANTHROPIC_API_KEY not set, skipping anthropic provider", nil)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		providers["gemini"] = gemini.NewClient(key, os.Getenv("GEMINI_BASE_URL"), logger, breakers.Get("gemini"))
	} else {
		logger.Info("qpipeline: GEMINI_API_KEY not set, skipping gemini provider", nil)
	}
	if key := os.Getenv("XAI_API_KEY"); key != "" {
		providers["xai"] = xai.NewClient(key, os.Getenv("XAI_BASE_URL"), logger, breakers.Get("xai"))
	} else {
		logger.Info("qpipeline: XAI_API_KEY not set, skipping xai provider", nil)
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		awsCfg, err := bedrock.NewAWSConfig(context.Background(), region)
		if err != nil {
			logger.Warn("qpipeline: bedrock AWS config failed, skipping bedrock provider", map[string]interface{}{"error": err.Error()})
		} else {
			providers["bedrock"] = bedrock.NewClient(awsCfg, logger, breakers.Get("bedrock"))
		}
	} else {
		logger.Info("qpipeline: AWS_REGION not set, skipping bedrock provider", nil)
	}

	return providers
}

// providerOrder gives the generator a stable preference order: the fixed
// list openai, anthropic, gemini, xai, bedrock, keeping only the providers
// that were configured. The order is not read from the environment.
func providerOrder(providers map[string]llm.Provider) []string {
	preferred := []string{"openai", "anthropic", "gemini", "xai", "bedrock"}
	order := make([]string, 0, len(providers))
	for _, name := range preferred {
		if _, ok := providers[name]; ok {
			order = append(order, name)
		}
	}
	return order
}

func buildEmbeddingService(logger core.Logger, breakers *resilience.Registry) *embedding.Service {
	var provider embedding.Provider
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		provider = embedding.NewOpenAIProvider(key, os.Getenv("OPENAI_BASE_URL"), os.Getenv("QPIPELINE_EMBEDDING_MODEL"), logger, breakers.Get("openai-embeddings"))
	} else {
		logger.Warn("qpipeline: no embedding provider configured, semantic dedup disabled", nil)
	}

	cacheSize, _ := strconv.Atoi(os.Getenv("QPIPELINE_EMBEDDING_CACHE_SIZE"))
	svc := embedding.New(provider, cacheSize, logger)

	if redisURL := os.Getenv("QPIPELINE_REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn("qpipeline: invalid QPIPELINE_REDIS_URL, skipping redis embedding cache tier", map[string]interface{}{"error": err.Error()})
			return svc
		}
		svc = svc.WithRedis(redis.NewClient(opt))
	}
	return svc
}

func mustOpenDatabase(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("qpipeline: failed to connect to database: %v", err)
	}
	return db
}

// buildObservability wires the façade straight from environment variables.
// Nothing here reads or parses a config file: every knob is a scalar env
// var, consistent with the rest of this composition root.
func buildObservability(ctx context.Context, logger core.Logger) *observability.Facade {
	endpoint := os.Getenv("QPIPELINE_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Info("qpipeline: QPIPELINE_OTLP_ENDPOINT not set, observability running with logging only", nil)
	}
	cardinality := map[string]int{}
	if raw := os.Getenv("QPIPELINE_QUESTION_TYPE_CARDINALITY_LIMIT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cardinality["question_type"] = n
		}
	}
	cfg := observability.Config{
		ServiceName:       getenv("QPIPELINE_SERVICE_NAME", "qpipeline"),
		OTLPEndpoint:      endpoint,
		OTLPInsecure:      getenv("QPIPELINE_OTLP_INSECURE", "false") == "true",
		PrometheusEnabled: getenv("QPIPELINE_PROMETHEUS_ENABLED", "false") == "true",
		CardinalityLimits: cardinality,
	}
	return observability.New(ctx, cfg, logger)
}

// applyJudgeOverrides layers individual scalar env-var overrides onto
// judge.DefaultConfig (already set by judge.New); this is not config-file
// loading, just the same per-knob env-var pattern every other composition
// root dependency uses.
func applyJudgeOverrides(j *judge.Judge) {
	if raw := os.Getenv("QPIPELINE_MIN_JUDGE_SCORE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			j.Config.MinScore = v
		}
	}
}

func buildReporter(logger core.Logger) *reporter.Reporter {
	endpoint := os.Getenv("QPIPELINE_REPORTER_ENDPOINT")
	timeout := 5 * time.Second
	if raw := os.Getenv("QPIPELINE_REPORTER_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}
	return reporter.New(endpoint, os.Getenv("QPIPELINE_REPORTER_SERVICE_KEY"), timeout, logger)
}

func buildRequest(existing []string) pipeline.Request {
	qType, _ := core.CanonicalQuestionType(getenv("QPIPELINE_QUESTION_TYPE", "pattern"))
	difficulty, _ := core.CanonicalDifficulty(getenv("QPIPELINE_DIFFICULTY", "easy"))
	count, _ := strconv.Atoi(getenv("QPIPELINE_COUNT", "10"))
	distribute := getenv("QPIPELINE_DISTRIBUTE", "false") == "true"

	return pipeline.Request{
		Cells: []pipeline.Cell{
			{QuestionType: qType, Difficulty: difficulty, Count: count, Distribute: distribute},
		},
		Temperature:              0.7,
		MaxTokens:                1000,
		JudgeTemperature:         0.3,
		JudgeMaxTokens:           500,
		ExistingQuestionTexts:    existing,
		Environment:              getenv("QPIPELINE_ENVIRONMENT", "production"),
		TriggeredBy:              getenv("QPIPELINE_TRIGGERED_BY", "manual"),
		PromptVersion:            getenv("QPIPELINE_PROMPT_VERSION", "v1"),
		MinArbiterScoreThreshold: 0,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustGetenv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("qpipeline: required environment variable %s is not set", key)
	}
	return v
}
