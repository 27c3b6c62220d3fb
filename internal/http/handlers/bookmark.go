package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/http/middleware"
	"github.com/yungbote/verdant-edge/internal/http/response"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
	"github.com/yungbote/verdant-edge/internal/services"
)

type BookmarkHandler struct {
	log *logger.Logger
	svc services.BookmarkService
}

func NewBookmarkHandler(log *logger.Logger, svc services.BookmarkService) *BookmarkHandler {
	return &BookmarkHandler{log: log.With("handler", "BookmarkHandler"), svc: svc}
}

// GET /_edge/api/bookmarks?lessonId=
func (h *BookmarkHandler) List(c *gin.Context) {
	userID := middleware.UserID(c.Request.Context())
	list, err := h.svc.List(c.Request.Context(), userID, c.Query("lessonId"))
	if err != nil {
		h.log.Error("List bookmarks failed", "error", err)
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"bookmarks": list})
}

// POST /_edge/api/bookmarks
func (h *BookmarkHandler) Add(c *gin.Context) {
	var in services.BookmarkInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	b, err := h.svc.Add(c.Request.Context(), middleware.UserID(c.Request.Context()), in)
	if err != nil {
		h.log.Warn("Add bookmark failed", "error", err)
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"bookmark": b})
}

// DELETE /_edge/api/bookmarks?lessonId=&time=
func (h *BookmarkHandler) Remove(c *gin.Context) {
	lessonID := c.Query("lessonId")
	t, err := strconv.ParseFloat(c.Query("time"), 64)
	if lessonID == "" || err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("lessonId and numeric time are required"))
		return
	}
	removed, err := h.svc.Remove(c.Request.Context(), middleware.UserID(c.Request.Context()), lessonID, t)
	if err != nil {
		h.log.Error("Remove bookmark failed", "error", err)
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"removed": removed})
}
