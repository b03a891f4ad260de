package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/activities"
	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
	"github.com/propadvisor/orchestrator/internal/config"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/db"
	"github.com/propadvisor/orchestrator/internal/embeddings"
	"github.com/propadvisor/orchestrator/internal/graphstore"
	"github.com/propadvisor/orchestrator/internal/health"
	"github.com/propadvisor/orchestrator/internal/llm"
	"github.com/propadvisor/orchestrator/internal/preferences"
	"github.com/propadvisor/orchestrator/internal/propertystore"
	"github.com/propadvisor/orchestrator/internal/registry"
	"github.com/propadvisor/orchestrator/internal/temporal"
	"github.com/propadvisor/orchestrator/internal/tracing"
)

func main() {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Observability.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Initialize(cfg.Observability.Tracing, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	circuitbreaker.StartMetricsCollection(ctx, logger)

	// Health and metrics come up first so probes answer while the
	// backends are still connecting
	hm := health.NewManager(cfg.Observability.Health.CheckInterval, logger)
	healthServer := health.StartHealthServer(hm, cfg.Observability.Health.Port, cfg.Observability.Metrics.Enabled, logger)
	_ = hm.Start(ctx)

	dbClient, err := db.NewClient(&db.Config{
		DSN:            cfg.Postgres.DSN,
		Host:           cfg.Postgres.Host,
		Port:           cfg.Postgres.Port,
		User:           cfg.Postgres.User,
		Password:       cfg.Postgres.Password,
		Database:       cfg.Postgres.Database,
		SSLMode:        cfg.Postgres.SSLMode,
		MaxConnections: cfg.Postgres.MaxConnections,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database client", zap.Error(err))
	}
	defer dbClient.Close()
	_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.Wrapper()))

	redisCfg := db.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	convRedis, err := db.NewRedis(redisCfg, "conversation-store", logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	conversations := conversation.NewStore(convRedis, cfg.Redis.ConversationTTL, logger)
	defer conversations.Close()
	_ = hm.RegisterChecker(health.NewRedisHealthChecker(convRedis))

	// Preferences and the embedding cache share a second breaker so a
	// cache outage cannot trip the conversation store
	auxRedis, err := db.NewRedis(redisCfg, "preferences", logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer auxRedis.Close()

	graphRunner, err := graphstore.NewNeo4jRunner(ctx, graphstore.Config{
		URI:          cfg.Neo4j.URI,
		Username:     cfg.Neo4j.Username,
		Password:     cfg.Neo4j.Password,
		Database:     cfg.Neo4j.Database,
		QueryTimeout: cfg.Neo4j.QueryTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	defer graphRunner.Close(context.Background())
	_ = hm.RegisterChecker(health.NewGraphHealthChecker(graphRunner))

	llmCfg := llm.Config{
		Provider:          cfg.LLM.Provider,
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		APIVersion:        cfg.LLM.APIVersion,
		ChatModel:         cfg.LLM.ChatModel,
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	}
	chat := llm.NewOpenAIClient(llmCfg, logger)
	_ = hm.RegisterChecker(health.NewLLMHealthChecker(chat))

	embedder := embeddings.NewService(embeddings.Config{
		Model:      cfg.LLM.EmbedModel,
		Dimensions: cfg.LLM.EmbedDim,
	}, llm.NewAPIClient(llmCfg), embeddings.NewRedisCache(auxRedis), logger)

	acts := activities.NewActivities(activities.Deps{
		Conversations: conversations,
		LLM:           chat,
		Graph:         graphstore.NewStore(graphRunner, cfg.Worker.RetrievalLimit, logger),
		Vector:        propertystore.NewStore(dbClient.Wrapper(), embedder, cfg.Worker.RetrievalLimit, logger),
		Preferences:   preferences.NewStore(auxRedis, logger),
		Logger:        logger,
	})

	if cfg.Path != "" {
		watcher, err := config.NewWatcher(cfg.Path, cfg, logger)
		if err != nil {
			logger.Warn("Config watcher disabled", zap.Error(err))
		} else {
			watcher.OnChange(func(next *config.Config) error {
				chat.SetRequestsPerSecond(next.LLM.RequestsPerSecond)
				return nil
			})
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("Config watcher failed to start", zap.Error(err))
			}
			defer watcher.Stop()
		}
	}

	tClient := dialTemporal(cfg.Temporal, logger)
	defer tClient.Close()

	w := worker.New(tClient, cfg.Worker.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Worker.ActivityConcurrency,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Worker.WorkflowConcurrency,
	})
	reg := registry.NewTurnRegistry(acts, logger)
	if err := reg.RegisterWorkflows(w); err != nil {
		logger.Fatal("Failed to register workflows", zap.Error(err))
	}
	if err := reg.RegisterActivities(w); err != nil {
		logger.Fatal("Failed to register activities", zap.Error(err))
	}
	if err := w.Start(); err != nil {
		logger.Fatal("Temporal worker failed to start", zap.Error(err))
	}
	logger.Info("Temporal worker started",
		zap.String("queue", cfg.Worker.TaskQueue),
		zap.Int("activities", cfg.Worker.ActivityConcurrency),
		zap.Int("workflows", cfg.Worker.WorkflowConcurrency),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down advisor worker")

	w.Stop()
	_ = hm.Stop()
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown", zap.Error(err))
	}
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
	logger.Info("Advisor worker stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

// dialTemporal waits for the frontend to accept TCP and then dials with backoff
func dialTemporal(cfg config.TemporalConfig, logger *zap.Logger) client.Client {
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", cfg.Host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", cfg.Host), zap.Int("attempt", i))
		time.Sleep(1 * time.Second)
	}

	for attempt := 1; ; attempt++ {
		tClient, err := client.Dial(client.Options{
			HostPort:  cfg.Host,
			Namespace: cfg.Namespace,
			Logger:    temporal.NewLogger(logger),
		})
		if err == nil {
			return tClient
		}
		delay := time.Duration(attempt)
		if delay > 15 {
			delay = 15
		}
		logger.Warn("Temporal not ready, retrying", zap.Int("attempt", attempt), zap.String("host", cfg.Host), zap.Duration("sleep", delay*time.Second), zap.Error(err))
		time.Sleep(delay * time.Second)
	}
}
