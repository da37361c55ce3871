package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/boardflow/orchestrator/internal/http/handlers"
)

func wireRouter(h Handlers, mw Middleware) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/healthz", handlers.HealthCheck)

	router.GET("/webhook/board", h.Webhook.HandleChallenge)
	router.POST("/webhook/board", h.Webhook.HandleWebhook)

	api := router.Group("/api")
	api.Use(mw.AdminAuth)
	{
		api.GET("/runs/:id", h.Admin.GetRun)
		api.POST("/runs/:id/cancel", h.Admin.CancelRun)
		api.GET("/queue/:external_item_id", h.Admin.GetQueueForItem)
	}

	return router
}
