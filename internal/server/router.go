package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/verdant-edge/internal/http/handlers"
	"github.com/yungbote/verdant-edge/internal/http/middleware"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

type RouterConfig struct {
	Logger         *logger.Logger
	ServiceName    string
	AllowOrigins   []string
	AuthMiddleware *middleware.AuthMiddleware

	HealthHandler   *handlers.HealthHandler
	BookmarkHandler *handlers.BookmarkHandler
	LessonHandler   *handlers.LessonHandler
	MediaHandler    *handlers.MediaHandler
	EmailHandler    *handlers.EmailHandler
	WorkerHandler   *handlers.WorkerHandler

	// Worker receives every request no route claims (the front-end origin).
	Worker http.Handler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "verdant-edge"
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recover(log),
		middleware.AccessLog(log),
		middleware.CORS(cfg.AllowOrigins),
		otelgin.Middleware(serviceName),
		middleware.TraceID(),
	)

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthz", cfg.HealthHandler.HealthCheck)
	router.GET("/readyz", cfg.HealthHandler.Ready)

	edge := router.Group("/_edge")
	{
		edge.GET("/media/:id", cfg.MediaHandler.Serve)
		edge.POST("/contact", cfg.EmailHandler.Contact)
		edge.POST("/early-access", cfg.EmailHandler.EarlyAccess)
		edge.POST("/push", cfg.WorkerHandler.Push)
		edge.POST("/notifications/click", cfg.WorkerHandler.NotificationClick)
		edge.POST("/clients", cfg.WorkerHandler.RegisterClient)
		edge.POST("/sync/:tag", cfg.WorkerHandler.Sync)
		edge.GET("/worker", cfg.WorkerHandler.Status)
	}

	// ===============
	// || Protected ||
	// ===============
	protected := edge.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// Bookmarks
	protected.GET("/bookmarks", cfg.BookmarkHandler.List)
	protected.POST("/bookmarks", cfg.BookmarkHandler.Add)
	protected.DELETE("/bookmarks", cfg.BookmarkHandler.Remove)
	// Lessons
	protected.GET("/lessons/:id", cfg.LessonHandler.Get)
	// Media
	protected.POST("/media", cfg.MediaHandler.Upload)
	protected.GET("/media", cfg.MediaHandler.List)
	protected.DELETE("/media/:id", cfg.MediaHandler.Delete)

	if cfg.Worker != nil {
		router.NoRoute(gin.WrapH(cfg.Worker))
	}
	return router
}
