package app

import (
	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/http/handlers"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

type Handlers struct {
	Health   *handlers.HealthHandler
	Bookmark *handlers.BookmarkHandler
	Lesson   *handlers.LessonHandler
	Media    *handlers.MediaHandler
	Email    *handlers.EmailHandler
	Worker   *handlers.WorkerHandler
}

func wireHandlers(log *logger.Logger, cfg *config.Config, services Services, st *Storage) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   handlers.NewHealthHandler(readinessChecks(st)),
		Bookmark: handlers.NewBookmarkHandler(log, services.Bookmarks),
		Lesson:   handlers.NewLessonHandler(log, services.Lessons),
		Media:    handlers.NewMediaHandler(log, services.Media, cfg.Media.MaxBytes),
		Email:    handlers.NewEmailHandler(log, services.Email),
		Worker:   handlers.NewWorkerHandler(log, services.Worker, services.Registry),
	}
}
