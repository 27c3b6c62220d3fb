package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/http/response"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
	"github.com/yungbote/verdant-edge/internal/services"
)

type EmailHandler struct {
	log *logger.Logger
	svc services.EmailService
}

func NewEmailHandler(log *logger.Logger, svc services.EmailService) *EmailHandler {
	return &EmailHandler{log: log.With("handler", "EmailHandler"), svc: svc}
}

// POST /_edge/contact
func (h *EmailHandler) Contact(c *gin.Context) {
	var form services.ContactForm
	if err := c.ShouldBindJSON(&form); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.svc.SendContact(c.Request.Context(), form)
	if err != nil {
		h.log.Warn("Contact form failed", "error", err)
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, res)
}

type earlyAccessRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// POST /_edge/early-access
func (h *EmailHandler) EarlyAccess(c *gin.Context) {
	var req earlyAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.svc.SendEarlyAccess(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		h.log.Warn("Early access signup failed", "error", err)
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, res)
}
