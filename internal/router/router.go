package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/fundus-service/internal/handler"
	"github.com/SyedDaiam9101/fundus-service/internal/middleware"
)

// Setup creates and configures the Gin router
func Setup(h *handler.Handler, health *handler.HealthHandler, allowedOrigin string, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(allowedOrigin))
	router.Use(middleware.Metrics())

	// Status and prediction
	router.GET("/", h.Index)
	router.POST("/predict", h.Predict)
	router.OPTIONS("/predict", h.Preflight)

	// Health endpoints
	router.GET("/healthz", health.Healthz)
	router.GET("/readyz", health.Readyz)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
