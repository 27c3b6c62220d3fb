package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/http/response"
	"github.com/yungbote/verdant-edge/internal/offlinecache"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

type WorkerHandler struct {
	log      *logger.Logger
	worker   *offlinecache.Worker
	registry *offlinecache.ClientRegistry
}

func NewWorkerHandler(log *logger.Logger, worker *offlinecache.Worker, registry *offlinecache.ClientRegistry) *WorkerHandler {
	return &WorkerHandler{log: log.With("handler", "WorkerHandler"), worker: worker, registry: registry}
}

// GET /_edge/worker
func (h *WorkerHandler) Status(c *gin.Context) {
	st, err := h.worker.Status(c.Request.Context())
	if err != nil {
		h.log.Error("Worker status failed", "error", err)
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, st)
}

// POST /_edge/push takes the raw push message body.
func (h *WorkerHandler) Push(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	n, err := h.worker.Push(c.Request.Context(), data)
	if err != nil {
		h.log.Error("Push failed", "error", err)
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"notification": n})
}

// POST /_edge/notifications/click
func (h *WorkerHandler) NotificationClick(c *gin.Context) {
	var n offlinecache.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	win, focused, err := h.worker.NotificationClick(c.Request.Context(), n)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"window": win, "focused": focused})
}

type registerClientRequest struct {
	URL string `json:"url" binding:"required"`
}

// POST /_edge/clients registers an open page.
func (h *WorkerHandler) RegisterClient(c *gin.Context) {
	var req registerClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"window": h.registry.Register(req.URL)})
}

// POST /_edge/sync/:tag
func (h *WorkerHandler) Sync(c *gin.Context) {
	if err := h.worker.Sync(c.Request.Context(), c.Param("tag")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
