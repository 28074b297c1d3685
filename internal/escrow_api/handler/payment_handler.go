package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/bounty-escrow-ledger/internal/escrow_api/middleware"
	"github.com/bounty-escrow-ledger/internal/escrow_api/service"
	"github.com/bounty-escrow-ledger/internal/orchestrator"
)

// PaymentHandler handles payment intents and refunds
type PaymentHandler struct {
	payments service.PaymentService
	escrow   orchestrator.Service
	logger   *slog.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(logger *slog.Logger, payments service.PaymentService, escrow orchestrator.Service) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		escrow:   escrow,
		logger:   logger,
	}
}

// CreateIntent starts an external payment the client confirms before funding escrow
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	callerID, ok := caller(c)
	if !ok {
		return
	}

	var req CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body")
		return
	}

	intent, err := h.payments.CreateIntent(c.Request.Context(), callerID, req.Amount, req.Currency, idempotencyKey(c, req.IdempotencyKey))
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	RespondOK(c, PaymentIntentResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.IntentID,
	})
}

// Refund returns escrowed funds to the poster
func (h *PaymentHandler) Refund(c *gin.Context) {
	callerID, ok := caller(c)
	if !ok {
		return
	}

	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body")
		return
	}
	bountyID, err := parseID("bountyId", req.BountyID)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	result, err := h.escrow.Refund(c.Request.Context(), orchestrator.RefundCommand{
		BountyID:       bountyID,
		Reason:         req.Reason,
		CallerID:       callerID,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		CorrelationID:  middleware.GetCorrelationID(c),
	})
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	RespondOK(c, result)
}
