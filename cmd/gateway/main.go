package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/cmd/gateway/internal/handlers"
	"github.com/propadvisor/orchestrator/cmd/gateway/internal/lock"
	"github.com/propadvisor/orchestrator/cmd/gateway/internal/middleware"
	"github.com/propadvisor/orchestrator/internal/config"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/db"
	"github.com/propadvisor/orchestrator/internal/preferences"
	"github.com/propadvisor/orchestrator/internal/temporal"
	"github.com/propadvisor/orchestrator/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	tracingCfg := cfg.Observability.Tracing
	tracingCfg.ServiceName = "advisor-gateway"
	shutdownTracing, err := tracing.Initialize(tracingCfg, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Rate limiting and the turn lock use go-redis v9 directly; the shared
	// stores go through the circuit-breaker wrapper
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	redisCfg := db.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	convRedis, err := db.NewRedis(redisCfg, "gateway-conversations", logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	conversations := conversation.NewStore(convRedis, cfg.Redis.ConversationTTL, logger)
	defer conversations.Close()

	prefRedis, err := db.NewRedis(redisCfg, "gateway-preferences", logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer prefRedis.Close()

	tClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporal.NewLogger(logger),
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer tClient.Close()

	// Handlers
	conversationHandler := handlers.NewConversationHandler(
		tClient,
		lock.New(redisClient, cfg.Gateway.LockTTL, logger),
		conversations,
		handlers.TurnOptions{
			TaskQueue:   cfg.Worker.TaskQueue,
			TurnTimeout: cfg.Gateway.TurnTimeout,
			LockWait:    cfg.Gateway.LockWait,
		},
		logger,
	)
	userHandler := handlers.NewUserHandler(preferences.NewStore(prefRedis, logger), conversationHandler, logger)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"temporal": handlers.TemporalPinger(tClient),
	}, logger)
	openapiHandler := handlers.NewOpenAPIHandler()

	// Middlewares
	rateLimiter := middleware.NewRateLimiter(redisClient, cfg.Gateway.RequestsPerMinute, logger).Middleware
	idempotencyMiddleware := middleware.NewIdempotencyMiddleware(redisClient, logger).Middleware
	tracingMiddleware := middleware.NewTracingMiddleware(logger).Middleware
	validationMiddleware := middleware.NewValidationMiddleware(logger).Middleware

	api := func(h http.HandlerFunc) http.Handler {
		return tracingMiddleware(validationMiddleware(rateLimiter(h)))
	}
	apiIdempotent := func(h http.HandlerFunc) http.Handler {
		return tracingMiddleware(validationMiddleware(rateLimiter(idempotencyMiddleware(h))))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /readiness", healthHandler.Readiness)
	mux.HandleFunc("GET /openapi.json", openapiHandler.ServeSpec)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/v1/conversations/turn", apiIdempotent(conversationHandler.Turn))
	mux.Handle("GET /api/v1/conversations/{id}/history", api(conversationHandler.History))
	mux.Handle("POST /api/v1/users/{userId}/seed", apiIdempotent(userHandler.Seed))
	mux.Handle("GET /api/v1/users/{userId}/preferences", api(userHandler.GetPreferences))
	mux.Handle("PUT /api/v1/users/{userId}/preferences", api(userHandler.PutPreferences))
	mux.Handle("GET /api/v1/users/{userId}/conversations", api(conversationHandler.UserConversations))

	port := cfg.Gateway.Port
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           corsMiddleware(middleware.Metrics(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a turn may wait for the lock and then run to its timeout
		WriteTimeout: cfg.Gateway.LockWait + cfg.Gateway.TurnTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Gateway starting", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start gateway", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Gateway shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway forced to shutdown", zap.Error(err))
	}
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}

	logger.Info("Gateway stopped")
}

// corsMiddleware adds CORS headers for development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id, Idempotency-Key, traceparent, tracestate")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
