package app

import (
	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/http/middleware"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

type Middleware struct {
	Auth *middleware.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, cfg *config.Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: middleware.NewAuthMiddleware(log, cfg.Auth.JWTSecret),
	}
}
