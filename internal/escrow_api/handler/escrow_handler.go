package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/bounty-escrow-ledger/internal/escrow_api/middleware"
	"github.com/bounty-escrow-ledger/internal/orchestrator"
)

// EscrowHandler handles HTTP requests for funding and releasing escrow
type EscrowHandler struct {
	escrow orchestrator.Service
	logger *slog.Logger
}

// NewEscrowHandler creates a new escrow handler
func NewEscrowHandler(logger *slog.Logger, escrow orchestrator.Service) *EscrowHandler {
	return &EscrowHandler{
		escrow: escrow,
		logger: logger,
	}
}

// Create funds a bounty, from the poster's wallet or from a confirmed payment intent
func (h *EscrowHandler) Create(c *gin.Context) {
	callerID, ok := caller(c)
	if !ok {
		return
	}

	var req CreateEscrowRequest
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

	result, err := h.escrow.CreateEscrow(c.Request.Context(), orchestrator.CreateEscrowCommand{
		BountyID:        bountyID,
		Amount:          req.Amount,
		PaymentIntentID: req.PaymentIntentID,
		CallerID:        callerID,
		IdempotencyKey:  idempotencyKey(c, req.IdempotencyKey),
		CorrelationID:   middleware.GetCorrelationID(c),
	})
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	RespondOK(c, result)
}

// Release pays the hunter of a completed bounty, minus the platform fee
func (h *EscrowHandler) Release(c *gin.Context) {
	callerID, ok := caller(c)
	if !ok {
		return
	}

	var req ReleaseEscrowRequest
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
	hunterID, err := parseID("hunterId", req.HunterID)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	result, err := h.escrow.Release(c.Request.Context(), orchestrator.ReleaseCommand{
		BountyID:       bountyID,
		HunterID:       hunterID,
		Destination:    req.Destination,
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
