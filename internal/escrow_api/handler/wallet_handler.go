package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bounty-escrow-ledger/internal/domain/wallet"
	"github.com/bounty-escrow-ledger/internal/escrow_api/service"
)

// WalletHandler serves the caller's own balance and ledger history
type WalletHandler struct {
	wallets service.WalletService
	logger  *slog.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(logger *slog.Logger, wallets service.WalletService) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		logger:  logger,
	}
}

func (h *WalletHandler) Balance(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	balance, err := h.wallets.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get balance", "user_id", userID.String(), "error", err)
		RespondDomainError(c, h.logger, err)
		return
	}

	RespondOK(c, BalanceResponse{Balance: balance.Amount, Currency: balance.Currency})
}

// Transactions lists the caller's ledger newest first
func (h *WalletHandler) Transactions(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Warn("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	txs, total, err := h.wallets.ListTransactions(c.Request.Context(), userID, pagination.Page, pagination.PerPage)
	if err != nil {
		h.logger.Error("Failed to list transactions", "user_id", userID.String(), "error", err)
		RespondDomainError(c, h.logger, err)
		return
	}

	transactions := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		transactions = append(transactions, mapTransactionToResponse(tx))
	}

	RespondWithPaginatedData(c, http.StatusOK, TransactionListResponse{Transactions: transactions}, pagination.Page, pagination.PerPage, int(total))
}

func mapTransactionToResponse(tx *wallet.Transaction) TransactionResponse {
	response := TransactionResponse{
		ID:          tx.ID.String(),
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Status:      string(tx.Status),
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.BountyID != nil {
		response.BountyID = tx.BountyID.String()
	}
	if tx.GatewayReference != nil {
		response.GatewayReference = *tx.GatewayReference
	}
	return response
}
