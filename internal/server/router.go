package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/stridelab/coach-backend/internal/handlers"
	"github.com/stridelab/coach-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName       string
	AllowOrigins      []string
	OnboardingHandler *handlers.OnboardingHandler
	AuthMiddleware    *middleware.AuthMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware(cfg.ServiceName))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireServiceToken())
	{
		api.POST("/onboarding/trigger", cfg.OnboardingHandler.Trigger)
		api.GET("/onboarding/:userId", cfg.OnboardingHandler.Status)
	}

	return router
}
