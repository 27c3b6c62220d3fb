package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/http/response"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
	"github.com/yungbote/verdant-edge/internal/services"
)

type MediaHandler struct {
	log      *logger.Logger
	svc      services.MediaService
	maxBytes int64
}

func NewMediaHandler(log *logger.Logger, svc services.MediaService, maxBytes int64) *MediaHandler {
	return &MediaHandler{log: log.With("handler", "MediaHandler"), svc: svc, maxBytes: maxBytes}
}

// POST /_edge/api/media (multipart: file, compress, quality, maxWidth, maxHeight)
func (h *MediaHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("multipart field \"file\" is required"))
		return
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		respondServiceError(c, services.ErrFileTooLarge)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	opts := services.UploadOptions{Compress: c.PostForm("compress") == "true"}
	if q, err := strconv.ParseFloat(c.PostForm("quality"), 64); err == nil {
		opts.Quality = q
	}
	if w, err := strconv.Atoi(c.PostForm("maxWidth")); err == nil {
		opts.MaxWidth = w
	}
	if hh, err := strconv.Atoi(c.PostForm("maxHeight")); err == nil {
		opts.MaxHeight = hh
	}

	res, err := h.svc.Upload(c.Request.Context(), services.MediaFile{
		Name: fh.Filename,
		Type: fh.Header.Get("Content-Type"),
		Data: data,
	}, opts)
	if err != nil {
		h.log.Warn("Upload rejected", "file", fh.Filename, "error", err)
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"upload": res})
}

// GET /_edge/api/media
func (h *MediaHandler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.log.Error("List media failed", "error", err)
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"uploads": list})
}

// DELETE /_edge/api/media/:id
func (h *MediaHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /_edge/media/:id serves the bytes behind an upload URL.
func (h *MediaHandler) Serve(c *gin.Context) {
	m, err := h.svc.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	if cd := mime.FormatMediaType("inline", map[string]string{"filename": m.FileName}); cd != "" {
		c.Header("Content-Disposition", cd)
	} else {
		c.Header("Content-Disposition", "inline")
	}
	c.Data(http.StatusOK, m.MIMEType, m.Data)
}
