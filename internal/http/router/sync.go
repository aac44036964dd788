package router

import (
	"github.com/gin-gonic/gin"

	"tracksync.app/sync-server/internal/http/handler"
)

func SetupRoutes(router *gin.Engine, syncHandler *handler.SyncHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	SyncRouter(router, syncHandler)
}

func SyncRouter(router *gin.Engine, handler *handler.SyncHandler) {
	router.POST("/events/:profile", handler.HandleChange)
	router.POST("/webhooks/:profile", handler.HandleWebhook)
}
