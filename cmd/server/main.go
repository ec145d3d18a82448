package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kotaroy/painlog/internal/auth"
	"github.com/kotaroy/painlog/internal/channel"
	"github.com/kotaroy/painlog/internal/hub"
	"github.com/kotaroy/painlog/internal/llm"
	"github.com/kotaroy/painlog/internal/ratelimit"
	"github.com/kotaroy/painlog/internal/server"
	"github.com/kotaroy/painlog/internal/storage"
	"github.com/kotaroy/painlog/internal/usage"
	"github.com/kotaroy/painlog/internal/worker"
	"github.com/kotaroy/painlog/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize the rate limiter's counter store
	var counters ratelimit.CounterStore
	if cfg.Database.UseInMemory {
		counters = ratelimit.NewMemoryStore()
	} else {
		counters = ratelimit.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	}
	limiter := ratelimit.NewLimiter(counters, map[string]ratelimit.Limit{
		ratelimit.ActionConversation: {Requests: cfg.Limits.Conversation.Requests, Window: cfg.Limits.Conversation.Window},
		ratelimit.ActionDeepening:    {Requests: cfg.Limits.Deepening.Requests, Window: cfg.Limits.Deepening.Window},
		ratelimit.ActionGlobal:       {Requests: cfg.Limits.Global.Requests, Window: cfg.Limits.Global.Window},
	})

	// Usage ledger and cost gate
	ledger := usage.NewLedger(store, cfg.Limits.MonthlyCostCap, cfg.Limits.WarnFraction)

	// LLM client
	client := llm.NewOpenAIClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		logger,
	)

	// Conversation channel, generation queue and workers
	topics := hub.New(logger)
	queue := worker.NewQueue(cfg.Limits.QueueSize)
	pool := worker.NewPool(queue, store, ledger, client, topics, cfg.Limits.Workers, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	ch := channel.New(store, limiter, ledger, topics, queue, logger)
	validator := auth.NewValidator(cfg.Server.JWTSecret, store)

	go cleanupRevocations(ctx, store, logger)

	srv := server.New(fmt.Sprintf(":%d", cfg.Server.Port), validator, ch, logger)
	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	waitForSignal(logger)
	cancel()
	pool.Wait()
}

// cleanupRevocations drops revocation entries for tokens that have expired
// on their own.
func cleanupRevocations(ctx context.Context, store storage.Storage, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpiredRevocations(ctx, time.Now())
			if err != nil {
				logger.Error("Failed to clean up revocations", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("Cleaned up expired revocations", zap.Int64("removed", removed))
			}
		}
	}
}

func waitForSignal(logger *zap.Logger) {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sc
	logger.Info("Received exit signal", zap.String("signal", sig.String()))
}
