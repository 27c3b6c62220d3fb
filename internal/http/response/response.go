package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondUpstreamError reports a failed platform API call with the classified
// user message and the upstream status.
func RespondUpstreamError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 600 {
		status = apiErr.Status
	}
	if apierr.IsCanceled(err) {
		status = 499
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: apierr.UserMessage(err),
			Code:    string(apierr.KindOf(err)),
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
