package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/http/response"
	"github.com/yungbote/verdant-edge/internal/offlinecache"
	"github.com/yungbote/verdant-edge/internal/platform/apierr"
	"github.com/yungbote/verdant-edge/internal/services"
)

// respondServiceError maps service sentinels to statuses. Anything unknown is
// a 500 and gets logged by the caller.
func respondServiceError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	switch {
	case errors.As(err, &apiErr):
		response.RespondUpstreamError(c, err)
	case errors.Is(err, services.ErrInvalidBookmark), errors.Is(err, services.ErrInvalidEmail):
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, services.ErrFileTooLarge):
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", err)
	case errors.Is(err, services.ErrUnsupportedType), errors.Is(err, services.ErrContentMismatch):
		response.RespondError(c, http.StatusUnsupportedMediaType, "unsupported_media_type", err)
	case errors.Is(err, services.ErrEmptyFile):
		response.RespondError(c, http.StatusBadRequest, "empty_file", err)
	case errors.Is(err, services.ErrMediaNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, offlinecache.ErrUnknownSyncTag), errors.Is(err, offlinecache.ErrUnknownClient):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, "internal", errors.New("internal server error"))
	}
}
