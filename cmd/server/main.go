package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"production-ledger/config"
	"production-ledger/internal/api"
	"production-ledger/internal/auth"
	"production-ledger/internal/broker"
	"production-ledger/internal/redisclient"
	"production-ledger/internal/service"
	"production-ledger/internal/store"
	"production-ledger/internal/util"
	"production-ledger/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "production-ledger"

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting production ledger")

	tp, err := util.InitTracer(serviceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	policy, err := editPolicy(cfg.Server.Env, cfg.Ledger.EditSecretHash, logger)
	if err != nil {
		logger.Fatal("Failed to configure edit confirmation", zap.Error(err))
	}

	ledgerService := service.NewLedgerService(
		db,
		policy,
		redisClient,
		redisClient,
		broker.NewEventPublisher(producer),
		service.Options{
			DedupWindow:    cfg.Ledger.DedupWindow,
			MaxRetries:     cfg.Ledger.MaxRetries,
			FlowCacheTTL:   cfg.Ledger.FlowCacheTTL,
			IdempotencyTTL: cfg.Ledger.IdempotencyTTL,
		},
	)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(ledgerService, map[string]api.Pinger{
		"database": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.EnableConsumer {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRequests, cfg.Kafka.ConsumerGroup)
		requestWorker := worker.NewProductionRequestWorker(consumer, ledgerService)

		g.Go(func() error {
			err := requestWorker.Start(gCtx)
			if stopErr := requestWorker.Stop(); stopErr != nil {
				logger.Error("Error stopping worker", zap.Error(stopErr))
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		return
	}
	logger.Info("Server exited")
}

// editPolicy gates edits of rows past the initial stage behind the configured secret.
// Only non-production environments may run without one.
func editPolicy(env, hash string, logger *zap.Logger) (auth.Policy, error) {
	if hash == "" {
		if env == "production" {
			return nil, errors.New("LEDGER_EDIT_SECRET_HASH is required in production")
		}
		logger.Warn("LEDGER_EDIT_SECRET_HASH is not set, edits past the initial stage are not confirmed")
		return auth.AllowAll{}, nil
	}
	policy, err := auth.NewSharedSecret(hash)
	if err != nil {
		return nil, err
	}
	return policy, nil
}
