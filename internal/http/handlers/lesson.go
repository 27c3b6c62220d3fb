package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/http/middleware"
	"github.com/yungbote/verdant-edge/internal/http/response"
	"github.com/yungbote/verdant-edge/internal/platform/apierr"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
	"github.com/yungbote/verdant-edge/internal/services"
)

type LessonHandler struct {
	log *logger.Logger
	svc services.LessonService
}

func NewLessonHandler(log *logger.Logger, svc services.LessonService) *LessonHandler {
	return &LessonHandler{log: log.With("handler", "LessonHandler"), svc: svc}
}

// GET /_edge/api/lessons/:id
func (h *LessonHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	view, err := h.svc.Get(ctx, middleware.UserID(ctx), middleware.BearerToken(c), c.Param("id"))
	if err != nil {
		apierr.Log(h.log, err, "lesson.get")
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, view)
}
