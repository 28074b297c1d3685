package handler

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/orchestrator"
)

func TestEscrowHandler_Create(t *testing.T) {
	userID := uuid.New()
	bountyID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(testLogger(), svc)
		router := setupTestRouter(userID)
		router.POST("/escrow/create", h.Create)

		svc.On("CreateEscrow", mock.Anything, mock.MatchedBy(func(cmd orchestrator.CreateEscrowCommand) bool {
			return cmd.BountyID == bountyID && cmd.CallerID == userID && cmd.Amount == 5000 &&
				cmd.PaymentIntentID == "PI-1" && cmd.IdempotencyKey == "body-key" && cmd.CorrelationID == "corr-1"
		})).Return(orchestrator.CreateEscrowResult{EscrowID: "esc-1", Status: "held", Amount: 5000}, nil).Once()

		rr := doJSON(t, router, http.MethodPost, "/escrow/create", CreateEscrowRequest{
			BountyID:        bountyID.String(),
			Amount:          5000,
			PaymentIntentID: "PI-1",
			IdempotencyKey:  "body-key",
		}, map[string]string{"X-Correlation-ID": "corr-1", IdempotencyKeyHeader: "header-key"})

		assert.Equal(t, http.StatusOK, rr.Code)
		var result orchestrator.CreateEscrowResult
		envelope := decodeData(t, rr, &result)
		assert.Equal(t, "held", result.Status)
		assert.Equal(t, int64(5000), result.Amount)
		assert.Equal(t, "corr-1", envelope.CorrelationID)
		svc.AssertExpectations(t)
	})

	t.Run("IdempotencyKeyFromHeader", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(testLogger(), svc)
		router := setupTestRouter(userID)
		router.POST("/escrow/create", h.Create)

		svc.On("CreateEscrow", mock.Anything, mock.MatchedBy(func(cmd orchestrator.CreateEscrowCommand) bool {
			return cmd.IdempotencyKey == "header-key"
		})).Return(orchestrator.CreateEscrowResult{Status: "held"}, nil).Once()

		rr := doJSON(t, router, http.MethodPost, "/escrow/create",
			CreateEscrowRequest{BountyID: bountyID.String(), Amount: 5000},
			map[string]string{IdempotencyKeyHeader: "header-key"})

		assert.Equal(t, http.StatusOK, rr.Code)
		svc.AssertExpectations(t)
	})

	testCases := []struct {
		name           string
		userID         uuid.UUID
		body           interface{}
		setupMocks     func(svc *MockEscrowService)
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "Unauthenticated",
			userID:         uuid.Nil,
			body:           CreateEscrowRequest{BountyID: bountyID.String(), Amount: 5000},
			setupMocks:     func(svc *MockEscrowService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "UNAUTHORIZED",
		},
		{
			name:           "MalformedJSON",
			userID:         userID,
			body:           `{"bountyId":`,
			setupMocks:     func(svc *MockEscrowService) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
		{
			name:           "InvalidBountyID",
			userID:         userID,
			body:           CreateEscrowRequest{BountyID: "not-a-uuid", Amount: 5000},
			setupMocks:     func(svc *MockEscrowService) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
		{
			name:   "MissingAmount",
			userID: userID,
			body:   CreateEscrowRequest{BountyID: bountyID.String()},
			setupMocks: func(svc *MockEscrowService) {
				svc.On("CreateEscrow", mock.Anything, mock.Anything).
					Return(orchestrator.CreateEscrowResult{}, shared.ValidationError{Field: "amount", Message: "amount is required"}).Once()
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
		{
			name:   "InsufficientBalance",
			userID: userID,
			body:   CreateEscrowRequest{BountyID: bountyID.String(), Amount: 5000},
			setupMocks: func(svc *MockEscrowService) {
				svc.On("CreateEscrow", mock.Anything, mock.Anything).
					Return(orchestrator.CreateEscrowResult{}, shared.InsufficientFundsError{Available: 100, Required: 5000}).Once()
			},
			expectedStatus: http.StatusPaymentRequired,
			expectedCode:   "INSUFFICIENT_FUNDS",
		},
		{
			name:   "NotThePoster",
			userID: userID,
			body:   CreateEscrowRequest{BountyID: bountyID.String(), Amount: 5000},
			setupMocks: func(svc *MockEscrowService) {
				svc.On("CreateEscrow", mock.Anything, mock.Anything).
					Return(orchestrator.CreateEscrowResult{}, shared.AuthorizationError{Action: "fund escrow", Reason: "only the poster can fund a bounty"}).Once()
			},
			expectedStatus: http.StatusForbidden,
			expectedCode:   "FORBIDDEN",
		},
		{
			name:   "BountyMissing",
			userID: userID,
			body:   CreateEscrowRequest{BountyID: bountyID.String(), Amount: 5000},
			setupMocks: func(svc *MockEscrowService) {
				svc.On("CreateEscrow", mock.Anything, mock.Anything).
					Return(orchestrator.CreateEscrowResult{}, shared.NotFoundError{Resource: "bounty", ID: bountyID.String()}).Once()
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name:   "AlreadyEscrowed",
			userID: userID,
			body:   CreateEscrowRequest{BountyID: bountyID.String(), Amount: 5000},
			setupMocks: func(svc *MockEscrowService) {
				svc.On("CreateEscrow", mock.Anything, mock.Anything).
					Return(orchestrator.CreateEscrowResult{}, shared.ConflictError{Resource: "escrow", Reason: "bounty is already escrowed"}).Once()
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "CONFLICT",
		},
		{
			name:   "GatewayDown",
			userID: userID,
			body:   CreateEscrowRequest{BountyID: bountyID.String(), Amount: 5000, PaymentIntentID: "PI-1"},
			setupMocks: func(svc *MockEscrowService) {
				svc.On("CreateEscrow", mock.Anything, mock.Anything).
					Return(orchestrator.CreateEscrowResult{}, shared.GatewayTransientError{Operation: "create_hold"}).Once()
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   "GATEWAY_UNAVAILABLE",
		},
		{
			name:   "CardDeclined",
			userID: userID,
			body:   CreateEscrowRequest{BountyID: bountyID.String(), Amount: 5000, PaymentIntentID: "PI-1"},
			setupMocks: func(svc *MockEscrowService) {
				svc.On("CreateEscrow", mock.Anything, mock.Anything).
					Return(orchestrator.CreateEscrowResult{}, shared.GatewayDefinitiveError{Operation: "create_hold", Code: "INSTRUMENT_DECLINED"}).Once()
			},
			expectedStatus: http.StatusPaymentRequired,
			expectedCode:   "PAYMENT_DECLINED",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockEscrowService)
			tc.setupMocks(svc)
			h := NewEscrowHandler(testLogger(), svc)
			router := setupTestRouter(tc.userID)
			router.POST("/escrow/create", h.Create)

			rr := doJSON(t, router, http.MethodPost, "/escrow/create", tc.body, nil)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			envelope := decodeData(t, rr, nil)
			require.NotNil(t, envelope.Error)
			assert.Equal(t, tc.expectedCode, envelope.Error.Code)
			assert.NotEmpty(t, envelope.CorrelationID)
			svc.AssertExpectations(t)
		})
	}
}

func TestEscrowHandler_Release(t *testing.T) {
	userID := uuid.New()
	bountyID := uuid.New()
	hunterID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(testLogger(), svc)
		router := setupTestRouter(userID)
		router.POST("/escrow/release", h.Release)

		svc.On("Release", mock.Anything, mock.MatchedBy(func(cmd orchestrator.ReleaseCommand) bool {
			return cmd.BountyID == bountyID && cmd.HunterID == hunterID && cmd.CallerID == userID && cmd.Destination == "acct-9"
		})).Return(orchestrator.ReleaseResult{Amount: 10000, PlatformFee: 500, PayeeAmount: 9500, Status: "completed"}, nil).Once()

		rr := doJSON(t, router, http.MethodPost, "/escrow/release", ReleaseEscrowRequest{
			BountyID:    bountyID.String(),
			HunterID:    hunterID.String(),
			Destination: "acct-9",
		}, nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		var result orchestrator.ReleaseResult
		decodeData(t, rr, &result)
		assert.Equal(t, int64(10000), result.Amount)
		assert.Equal(t, int64(500), result.PlatformFee)
		assert.Equal(t, "completed", result.Status)
		svc.AssertExpectations(t)
	})

	t.Run("MissingHunterID", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(testLogger(), svc)
		router := setupTestRouter(userID)
		router.POST("/escrow/release", h.Release)

		svc.On("Release", mock.Anything, mock.MatchedBy(func(cmd orchestrator.ReleaseCommand) bool {
			return cmd.HunterID == uuid.Nil
		})).Return(orchestrator.ReleaseResult{}, orchestrator.ReleaseCommand{BountyID: bountyID, CallerID: userID}.Validate()).Once()

		rr := doJSON(t, router, http.MethodPost, "/escrow/release", ReleaseEscrowRequest{BountyID: bountyID.String()}, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		envelope := decodeData(t, rr, nil)
		assert.Equal(t, "hunter id is required", envelope.Error.Message)
	})

	t.Run("AlreadyReleased", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(testLogger(), svc)
		router := setupTestRouter(userID)
		router.POST("/escrow/release", h.Release)

		svc.On("Release", mock.Anything, mock.Anything).
			Return(orchestrator.ReleaseResult{}, shared.ConflictError{Resource: "escrow", Reason: "escrow already released"}).Once()

		rr := doJSON(t, router, http.MethodPost, "/escrow/release", ReleaseEscrowRequest{
			BountyID: bountyID.String(),
			HunterID: hunterID.String(),
		}, nil)

		assert.Equal(t, http.StatusConflict, rr.Code)
		envelope := decodeData(t, rr, nil)
		assert.Equal(t, "Escrow already released", envelope.Error.Message)
	})

	t.Run("InvalidHunterID", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(testLogger(), svc)
		router := setupTestRouter(userID)
		router.POST("/escrow/release", h.Release)

		rr := doJSON(t, router, http.MethodPost, "/escrow/release", ReleaseEscrowRequest{
			BountyID: bountyID.String(),
			HunterID: "hunter-1",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		svc.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	})
}
