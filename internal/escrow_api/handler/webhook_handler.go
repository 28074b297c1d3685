package handler

import (
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/bounty-escrow-ledger/internal/escrow_api/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives processor notifications. It is not behind bearer auth;
// the signature is the credential.
type WebhookHandler struct {
	webhooks service.WebhookService
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(logger *slog.Logger, webhooks service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		logger:   logger,
	}
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("Failed to read webhook body", "error", err)
		RespondBadRequest(c, "Invalid request body")
		return
	}

	if err := h.webhooks.Receive(c.Request.Context(), c.Request.Header, body); err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	RespondOK(c, WebhookResponse{Received: true})
}
