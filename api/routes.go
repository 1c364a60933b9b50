package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/mailbridge/mailbridge/api/handlers"
	"github.com/mailbridge/mailbridge/api/middleware"
	"github.com/mailbridge/mailbridge/internal/tracing"
	"github.com/mailbridge/mailbridge/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, s *services.Services, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILBRIDGE-API-KEY",
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	{
		messages := api.Group("/messages")
		{
			messages.GET("", handlers.ListMessages(s.MailClient))
			messages.GET("/:id", handlers.GetMessage(s.MailClient))
			messages.POST("/:id/read", handlers.MarkRead(s.MailClient))
			messages.POST("/:id/unread", handlers.MarkUnread(s.MailClient))
			messages.POST("/:id/move", handlers.MoveMessage(s.MailClient))
			messages.DELETE("/:id", handlers.DeleteMessage(s.MailClient))
			messages.DELETE("/:id/cache", handlers.PurgeMessage(s.MailClient))
			messages.GET("/:id/attachments/:attachmentId", handlers.GetAttachment(s.MailClient))
		}

		api.GET("/search", handlers.SearchMessages(s.MailClient))

		folders := api.Group("/folders")
		{
			folders.GET("", handlers.ListFolders(s.MailClient))
			folders.POST("/:name/refresh", handlers.RefreshFolder(s.MailClient))
			folders.POST("/:name/invalidate", handlers.InvalidateFolder(s.MailClient))
		}

		api.POST("/send", handlers.SendEmail(s.SMTPService))

		sync := api.Group("/sync")
		{
			sync.GET("/status", handlers.SyncStatus(s.SyncEngine))
		}
	}
}
