package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/vitalloop/vitalloop-backend/internal/clients/redis"
	"github.com/vitalloop/vitalloop-backend/internal/db"
	"github.com/vitalloop/vitalloop-backend/internal/handlers"
	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/middleware"
	"github.com/vitalloop/vitalloop-backend/internal/platform/openai"
	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/scheduler"
	"github.com/vitalloop/vitalloop-backend/internal/server"
	"github.com/vitalloop/vitalloop-backend/internal/services"
	"github.com/vitalloop/vitalloop-backend/internal/temporalx"
	"github.com/vitalloop/vitalloop-backend/internal/types"
	"github.com/vitalloop/vitalloop-backend/internal/utils"
)

func main() {
	_ = godotenv.Load()

	// Logger
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

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	schedulePath := utils.GetEnv("SCHEDULE_CONFIG_PATH", "configs/schedule.yaml", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	sessionRepo := repos.NewSessionRepo(thePG, log)
	artifactRepo := repos.NewArtifactRepo(thePG, log)
	batchJobRunRepo := repos.NewBatchJobRunRepo(thePG, log)
	refreshQuotaRepo := repos.NewRefreshQuotaRepo(thePG, log)
	aiCallLogRepo := repos.NewAICallLogRepo(thePG, log)

	// Provider chain
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	chain := services.NewFallbackChain(log, openaiClient, services.LoadFallbackConfig(log), thePG, aiCallLogRepo)

	// Job event bus (optional)
	var eventBus redis.JobEventBus
	if os.Getenv("REDIS_ADDR") != "" {
		eventBus, err = redis.NewJobEventBus(log)
		if err != nil {
			log.Warn("Could not init redis job event bus", "error", err)
			eventBus = nil
		} else {
			defer eventBus.Close()
		}
	}
	var publisher services.JobEventPublisher
	if eventBus != nil {
		publisher = eventBus
		// Follow runs published by the worker process too.
		if err := eventBus.StartForwarder(context.Background(), func(e services.JobEvent) {
			log.Info("Batch job progress",
				"job_id", e.JobID,
				"job_type", e.JobType,
				"phase", e.Phase,
				"processed", e.Processed,
				"succeeded", e.Succeeded,
				"failed", e.Failed,
			)
		}); err != nil {
			log.Warn("Could not start job event forwarder", "error", err)
		}
	}

	// Services
	log.Info("Setting up Services from main...")
	authService := services.NewAuthService(thePG, log, userRepo, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second)
	diagnosticService := services.NewDiagnosticService(thePG, log, sessionRepo, chain, services.LoadSessionConfig(log))
	artifactService := services.NewArtifactService(thePG, log, artifactRepo, sessionRepo, chain)
	quotaService := services.NewRefreshQuotaService(thePG, log, refreshQuotaRepo)
	batchRunner := services.NewBatchRunner(log, batchJobRunRepo, publisher, services.LoadBatchConfig(log))
	jobService := services.NewJobService(thePG, log, userRepo, batchRunner, artifactService)

	// Job dispatch: Temporal when configured, in-process otherwise.
	var dispatcher scheduler.Dispatcher
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Temporal init failed", "error", err)
		os.Exit(1)
	}
	if tc != nil {
		defer tc.Close()
		dispatcher, err = temporalx.NewDispatcher(log, tc)
		if err != nil {
			log.Error("Temporal dispatcher init failed", "error", err)
			os.Exit(1)
		}
	} else {
		dispatcher = scheduler.DispatchFunc(func(_ context.Context, jobType types.ArtifactType) error {
			go func() {
				if _, err := jobService.RunArtifactJob(context.Background(), jobType); err != nil {
					log.Error("Artifact job failed", "job_type", jobType, "error", err)
				}
			}()
			return nil
		})
	}

	// Scheduler
	scheduleCfg, err := scheduler.LoadConfig(schedulePath)
	if err != nil {
		log.Error("Failed to load schedule config", "error", err)
		os.Exit(1)
	}
	sched := scheduler.New(log, dispatcher, scheduleCfg)
	if err := sched.Start(); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	authHandler := handlers.NewAuthHandler(authService)
	sessionHandler := handlers.NewSessionHandler(diagnosticService)
	artifactHandler := handlers.NewArtifactHandler(artifactService, quotaService)
	jobHandler := handlers.NewJobHandler(dispatcher, batchJobRunRepo)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:     authHandler,
		AuthMiddleware:  authMiddleware,
		SessionHandler:  sessionHandler,
		ArtifactHandler: artifactHandler,
		JobHandler:      jobHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
