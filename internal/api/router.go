package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/meterline/meterline/internal/api/v1"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/rest/middleware"
	"github.com/meterline/meterline/internal/types"
)

// NewRouter assembles the gin engine with the standard middleware chain and
// all v1 routes.
func NewRouter(cfg *config.Configuration, log *logger.Logger, usage *v1.UsageHandler) *gin.Engine {
	if cfg.Deployment.Mode == types.ModeServer {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = log.GetGinLogger()

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.LoggingMiddleware(log),
		middleware.SentryMiddleware(cfg),
		middleware.SentryOrganizationContextMiddleware,
		middleware.ErrorHandler,
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group := router.Group("/v1")
	{
		group.POST("/usage/events", usage.SubmitUsage)
		group.POST("/usage/errors/replay", usage.ReplayErrors)

		orgs := group.Group("/organizations/:organization_id")
		{
			orgs.GET("/usage", usage.GetOrganizationUsage)
			orgs.GET("/spaces/:space_id/usage", usage.GetSpaceUsage)
			orgs.GET("/spaces/:space_id/consumers/:consumer_id/usage", usage.GetConsumerUsage)
			orgs.GET("/instances/:resource_instance_id/usage", usage.GetAccumulatedUsage)
		}
	}

	return router
}
