package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/activities"
	"github.com/kediaman/orchestrator/internal/classifier"
	"github.com/kediaman/orchestrator/internal/config"
	"github.com/kediaman/orchestrator/internal/conversation"
	"github.com/kediaman/orchestrator/internal/db"
	"github.com/kediaman/orchestrator/internal/embeddings"
	"github.com/kediaman/orchestrator/internal/httpapi"
	"github.com/kediaman/orchestrator/internal/llm"
	"github.com/kediaman/orchestrator/internal/research"
	"github.com/kediaman/orchestrator/internal/retrieval"
	"github.com/kediaman/orchestrator/internal/synthesis"
	"github.com/kediaman/orchestrator/internal/tracing"
	"github.com/kediaman/orchestrator/internal/vectordb"
	"github.com/kediaman/orchestrator/internal/workflows"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Local development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	// Metrics endpoint comes up first so the process is observable during
	// the rest of the bootstrap.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	threads, err := conversation.NewStore(redisClient, conversation.Config{
		IdleTTL:    cfg.Conversation.IdleTTL,
		MaxThreads: cfg.Conversation.MaxThreads,
		MaxTurns:   cfg.Conversation.MaxTurns,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect conversation store", zap.Error(err))
	}
	defer threads.Close()

	var archive *db.Archive
	if cfg.Postgres.Enabled {
		archive, err = db.NewArchive(db.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect turn archive", zap.Error(err))
		}
		defer archive.Close()
	} else {
		logger.Info("Turn archive disabled; conversation state lives in Redis only")
	}

	llmClient := llm.NewHTTPClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})

	embeddingBase := cfg.Vector.EmbeddingBaseURL
	if embeddingBase == "" {
		embeddingBase = cfg.LLM.BaseURL
	}
	embedCache, err := embeddings.NewRedisCache(cfg.Redis.Addr)
	if err != nil {
		logger.Warn("Embedding cache unavailable, continuing without it", zap.Error(err))
		embedCache = nil
	}
	var cache embeddings.Cache
	if embedCache != nil {
		cache = embedCache
	}
	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:      embeddingBase,
		DefaultModel: cfg.Vector.EmbeddingModel,
	}, cache)

	corpus := vectordb.NewClient(vectordb.Config{
		Host:       cfg.Vector.Host,
		Port:       cfg.Vector.Port,
		Collection: cfg.Vector.Collection,
		Timeout:    cfg.Vector.Timeout,
	}, logger)

	retriever := retrieval.NewRetriever(embedder, corpus, retrieval.Config{
		TopK:               cfg.Retrieval.TopK,
		RecommendationTopK: cfg.Retrieval.RecommendationTopK,
		Threshold:          cfg.Retrieval.Threshold,
	}, logger)

	cls := classifier.New(llmClient, classifier.Config{
		MaxAttempts: cfg.LLM.MaxAttempts,
	}, logger)

	credibility, err := research.LoadCredibilityConfig(cfg.Research.CredibilityFile)
	if err != nil {
		logger.Warn("Using default credibility rules", zap.Error(err))
	}
	researcher := research.NewAgent(
		research.NewHTTPProvider(cfg.Research.SearchURL, cfg.Research.Timeout),
		credibility,
		research.Config{
			MaxQueries:    cfg.Research.MaxQueries,
			Timeout:       cfg.Research.Timeout,
			QueriesPerSec: cfg.Research.QueriesPerSec,
		},
		logger,
	)

	synthesizer := synthesis.New(llmClient, synthesis.Config{
		MaxAttempts: cfg.LLM.MaxAttempts,
	}, logger)

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	acts := activities.NewActivities(cls, retriever, researcher, synthesizer, threads, archive, logger)

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.TurnWorkflow)
	w.RegisterActivity(acts)
	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start Temporal worker", zap.Error(err))
	}
	defer w.Stop()

	runner := httpapi.NewTemporalRunner(temporalClient, cfg.Temporal.TaskQueue)
	api := httpapi.NewServer(runner, logger)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.Routes(),
	}
	go func() {
		logger.Info("Inquiry API listening", zap.Int("port", cfg.Server.Port))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown incomplete", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics shutdown incomplete", zap.Error(err))
	}
}
