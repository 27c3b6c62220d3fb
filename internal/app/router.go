package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
	"github.com/yungbote/verdant-edge/internal/server"
)

func wireRouter(log *logger.Logger, cfg *config.Config, handlers Handlers, middleware Middleware, services Services) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		Logger:          log,
		ServiceName:     serviceName,
		AllowOrigins:    cfg.HTTP.AllowOrigins,
		AuthMiddleware:  middleware.Auth,
		HealthHandler:   handlers.Health,
		BookmarkHandler: handlers.Bookmark,
		LessonHandler:   handlers.Lesson,
		MediaHandler:    handlers.Media,
		EmailHandler:    handlers.Email,
		WorkerHandler:   handlers.Worker,
		Worker:          services.Worker,
	})
}
