package handlers

import (
	"net/http"

	"github.com/franzego/notifyhub/internal/metrics"
	"github.com/franzego/notifyhub/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

type RouterDeps struct {
	Notifications *NotificationHandler
	Admin         *AdminHandler
	Preferences   *PreferenceHandler
	Templates     *TemplateHandler
	Health        *HealthHandler
	Metrics       *metrics.Metrics
	JWTSecret     string
	Logger        *zap.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.CorrelationID(), middleware.RequestLogger(d.Logger, d.Metrics))

	r.GET("/health", d.Health.HealthCheck)
	r.GET("/alive", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "Alive", "service": "notifyhub"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(d.JWTSecret))
	{
		n := api.Group("/notifications")
		n.GET("", d.Notifications.List)
		n.GET("/unread-count", d.Notifications.UnreadCount)
		n.PATCH("/read-all", d.Notifications.MarkAllAsRead)
		n.GET("/:id", d.Notifications.Get)
		n.GET("/:id/status", d.Notifications.GetStatus)
		n.PATCH("/:id/read", d.Notifications.MarkAsRead)

		send := n.Group("", middleware.RequireRole(RoleService, RoleAdmin))
		send.POST("", d.Notifications.Send)
		send.POST("/template", d.Notifications.SendFromTemplate)
		send.POST("/batch", d.Notifications.SendBatch)
		send.POST("/broadcast", d.Notifications.Broadcast)

		p := api.Group("/preferences")
		p.GET("", d.Preferences.Get)
		p.PUT("", d.Preferences.Update)
		p.GET("/channels", d.Preferences.Channels)
		p.POST("/reset", d.Preferences.Reset)
		p.PUT("/categories/:category/channels/:channel", d.Preferences.ToggleCategoryChannel)

		t := api.Group("/templates", middleware.RequireRole(RoleAdmin))
		t.GET("", d.Templates.List)
		t.POST("", d.Templates.Create)
		t.GET("/:code", d.Templates.Get)
		t.PUT("/:code", d.Templates.Update)
		t.DELETE("/:code", d.Templates.Delete)
		t.POST("/:code/clone", d.Templates.Clone)
		t.POST("/:code/preview", d.Templates.Preview)

		a := api.Group("/admin", middleware.RequireRole(RoleAdmin))
		a.GET("/stats", d.Admin.Stats)
		a.GET("/channels", d.Admin.Channels)
		a.GET("/queue/stats", d.Admin.QueueStats)
		a.POST("/queue/clean", d.Admin.CleanJobs)
		a.GET("/notifications", d.Admin.List)
		a.GET("/notifications/:id", d.Admin.Get)
		a.POST("/notifications/:id/retry", d.Admin.Retry)
		a.POST("/notifications/:id/cancel", d.Admin.Cancel)

		// delivery reports forwarded by the provider gateways
		api.POST("/receipts/:id", middleware.RequireRole(RoleService, RoleAdmin), d.Admin.Receipt)
	}
	return r
}
