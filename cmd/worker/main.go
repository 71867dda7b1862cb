package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vitalloop/vitalloop-backend/internal/clients/redis"
	"github.com/vitalloop/vitalloop-backend/internal/db"
	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/platform/openai"
	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/services"
	"github.com/vitalloop/vitalloop-backend/internal/temporalx"
	"github.com/vitalloop/vitalloop-backend/internal/temporalx/temporalworker"
)

func main() {
	_ = godotenv.Load()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	userRepo := repos.NewUserRepo(thePG, log)
	sessionRepo := repos.NewSessionRepo(thePG, log)
	artifactRepo := repos.NewArtifactRepo(thePG, log)
	batchJobRunRepo := repos.NewBatchJobRunRepo(thePG, log)
	aiCallLogRepo := repos.NewAICallLogRepo(thePG, log)

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	chain := services.NewFallbackChain(log, openaiClient, services.LoadFallbackConfig(log), thePG, aiCallLogRepo)

	var publisher services.JobEventPublisher
	if os.Getenv("REDIS_ADDR") != "" {
		eventBus, err := redis.NewJobEventBus(log)
		if err != nil {
			log.Warn("Could not init redis job event bus", "error", err)
		} else {
			defer eventBus.Close()
			publisher = eventBus
		}
	}

	artifactService := services.NewArtifactService(thePG, log, artifactRepo, sessionRepo, chain)
	batchRunner := services.NewBatchRunner(log, batchJobRunRepo, publisher, services.LoadBatchConfig(log))
	jobService := services.NewJobService(thePG, log, userRepo, batchRunner, artifactService)

	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Temporal init failed", "error", err)
		os.Exit(1)
	}
	if tc == nil {
		log.Error("TEMPORAL_ADDRESS is required for the worker")
		os.Exit(1)
	}
	defer tc.Close()

	runner, err := temporalworker.NewRunner(log, tc, jobService)
	if err != nil {
		log.Error("Temporal worker init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Start(ctx); err != nil {
		log.Error("Temporal worker failed to start", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("Worker shutting down")
}
