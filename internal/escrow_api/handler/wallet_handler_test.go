package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/domain/wallet"
	"github.com/bounty-escrow-ledger/internal/escrow_api/service"
)

type MockWalletService struct {
	mock.Mock
}

func (m *MockWalletService) GetBalance(ctx context.Context, userID uuid.UUID) (service.Balance, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(service.Balance), args.Error(1)
}

func (m *MockWalletService) ListTransactions(ctx context.Context, userID uuid.UUID, page, perPage int) ([]*wallet.Transaction, int64, error) {
	args := m.Called(ctx, userID, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*wallet.Transaction), args.Get(1).(int64), args.Error(2)
}

func TestWalletHandler_Balance(t *testing.T) {
	userID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		wallets := new(MockWalletService)
		h := NewWalletHandler(testLogger(), wallets)
		router := setupTestRouter(userID)
		router.GET("/wallet/balance", h.Balance)

		wallets.On("GetBalance", mock.Anything, userID).Return(service.Balance{Amount: 12345, Currency: "USD"}, nil).Once()

		rr := doJSON(t, router, http.MethodGet, "/wallet/balance", nil, nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		var body BalanceResponse
		decodeData(t, rr, &body)
		assert.Equal(t, BalanceResponse{Balance: 12345, Currency: "USD"}, body)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		wallets := new(MockWalletService)
		h := NewWalletHandler(testLogger(), wallets)
		router := setupTestRouter(uuid.Nil)
		router.GET("/wallet/balance", h.Balance)

		rr := doJSON(t, router, http.MethodGet, "/wallet/balance", nil, nil)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		wallets.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
	})

	t.Run("ServiceError", func(t *testing.T) {
		wallets := new(MockWalletService)
		h := NewWalletHandler(testLogger(), wallets)
		router := setupTestRouter(userID)
		router.GET("/wallet/balance", h.Balance)

		wallets.On("GetBalance", mock.Anything, userID).Return(service.Balance{}, errors.New("db down")).Once()

		rr := doJSON(t, router, http.MethodGet, "/wallet/balance", nil, nil)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestWalletHandler_Transactions(t *testing.T) {
	userID := uuid.New()
	bountyID := uuid.New()

	t.Run("PaginatedList", func(t *testing.T) {
		wallets := new(MockWalletService)
		h := NewWalletHandler(testLogger(), wallets)
		router := setupTestRouter(userID)
		router.GET("/wallet/transactions", h.Transactions)

		escrowTx, err := wallet.NewTransaction(userID, shared.TransactionTypeEscrow, -5000, "USD")
		require.NoError(t, err)
		escrowTx.ForBounty(bountyID).WithGatewayReference("HOLD-1").Describe("Escrow for bounty")
		escrowTx.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		wallets.On("ListTransactions", mock.Anything, userID, 2, 5).
			Return([]*wallet.Transaction{escrowTx}, int64(6), nil).Once()

		rr := doJSON(t, router, http.MethodGet, "/wallet/transactions?page=2&per_page=5", nil, nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		var body TransactionListResponse
		envelope := decodeData(t, rr, &body)
		require.Len(t, body.Transactions, 1)
		got := body.Transactions[0]
		assert.Equal(t, "escrow", got.Type)
		assert.Equal(t, int64(-5000), got.Amount)
		assert.Equal(t, bountyID.String(), got.BountyID)
		assert.Equal(t, "HOLD-1", got.GatewayReference)
		assert.Equal(t, "2026-03-01T12:00:00Z", got.CreatedAt)

		require.NotNil(t, envelope.Meta)
		assert.Equal(t, 2, envelope.Meta.Page)
		assert.Equal(t, 5, envelope.Meta.PerPage)
		assert.Equal(t, 2, envelope.Meta.TotalPages)
		assert.Equal(t, 6, envelope.Meta.TotalItems)
		wallets.AssertExpectations(t)
	})

	t.Run("DefaultsPagination", func(t *testing.T) {
		wallets := new(MockWalletService)
		h := NewWalletHandler(testLogger(), wallets)
		router := setupTestRouter(userID)
		router.GET("/wallet/transactions", h.Transactions)

		wallets.On("ListTransactions", mock.Anything, userID, 1, 10).Return([]*wallet.Transaction{}, int64(0), nil).Once()

		rr := doJSON(t, router, http.MethodGet, "/wallet/transactions", nil, nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		var body TransactionListResponse
		decodeData(t, rr, &body)
		assert.NotNil(t, body.Transactions)
		assert.Empty(t, body.Transactions)
	})

	t.Run("PerPageTooLarge", func(t *testing.T) {
		wallets := new(MockWalletService)
		h := NewWalletHandler(testLogger(), wallets)
		router := setupTestRouter(userID)
		router.GET("/wallet/transactions", h.Transactions)

		rr := doJSON(t, router, http.MethodGet, "/wallet/transactions?per_page=500", nil, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		wallets.AssertNotCalled(t, "ListTransactions", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
