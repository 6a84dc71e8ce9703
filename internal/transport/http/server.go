package http

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"document-portal/internal/bootstrap"
	"document-portal/internal/transport/http/handler"
	"document-portal/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		middleware.RequestLog(app.Logger),
		middleware.Recovery(app.Logger),
	)
	router.MaxMultipartMemory = int64(app.Config.App.MaxUploadMB) << 20

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt,
		handler.DependencyCheck{Name: "mysql", Check: func(ctx context.Context) error {
			sqlDB, err := app.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		handler.DependencyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}},
		handler.DependencyCheck{Name: "rabbitmq", Check: func(context.Context) error {
			if app.MQConn == nil || app.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}},
	)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	documentHandler := handler.NewDocumentHandler(app.Documents, app.Chats, app.Config.App.MaxUploadMB)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Timeout(time.Duration(app.Config.App.RequestTimeout) * time.Second))
	if app.Config.Auth.Enabled {
		v1.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret, app.Logger.Named("auth")))
	}
	RegisterRoutes(v1, documentHandler)
	return router
}

// RegisterRoutes mounts the document API on group.
func RegisterRoutes(group *gin.RouterGroup, h *handler.DocumentHandler) {
	chatGroup := group.Group("/chat")
	chatGroup.POST("/index", h.BuildIndex)
	chatGroup.POST("/query", h.Query)
	chatGroup.GET("/history", h.History)
	chatGroup.DELETE("/history", h.ClearHistory)
	chatGroup.DELETE("/sessions/:id", h.DeleteSession)

	group.POST("/compare", h.Compare)
	group.POST("/analyze", h.Analyze)
	group.GET("/sessions", h.ListSessions)
}
