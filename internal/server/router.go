package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/vitalloop/vitalloop-backend/internal/handlers"
	"github.com/vitalloop/vitalloop-backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler     *handlers.AuthHandler
	AuthMiddleware  *middleware.AuthMiddleware
	SessionHandler  *handlers.SessionHandler
	ArtifactHandler *handlers.ArtifactHandler
	JobHandler      *handlers.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/register", cfg.AuthHandler.Register)
	router.POST("/login", cfg.AuthHandler.Login)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// Diagnostic sessions
	protected.POST("/session", cfg.SessionHandler.Start)
	protected.GET("/session/:id", cfg.SessionHandler.Get)
	protected.POST("/session/:id/answer", cfg.SessionHandler.Answer)
	protected.POST("/session/:id/ask-more", cfg.SessionHandler.AskMore)
	protected.POST("/session/:id/complete", cfg.SessionHandler.Complete)
	protected.POST("/session/:id/abandon", cfg.SessionHandler.Abandon)
	// Artifacts
	protected.GET("/artifacts", cfg.ArtifactHandler.ListWeek)
	protected.POST("/artifacts/:type/refresh", cfg.ArtifactHandler.Refresh)
	// Batch jobs
	protected.POST("/jobs/:type/run", cfg.JobHandler.Trigger)
	protected.GET("/jobs/recent", cfg.JobHandler.Recent)

	return router
}
