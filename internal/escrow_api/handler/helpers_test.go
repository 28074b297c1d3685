package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bounty-escrow-ledger/internal/escrow_api/middleware"
	"github.com/bounty-escrow-ledger/internal/orchestrator"
)

type MockEscrowService struct {
	mock.Mock
}

func (m *MockEscrowService) CreateEscrow(ctx context.Context, cmd orchestrator.CreateEscrowCommand) (orchestrator.CreateEscrowResult, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(orchestrator.CreateEscrowResult), args.Error(1)
}

func (m *MockEscrowService) Release(ctx context.Context, cmd orchestrator.ReleaseCommand) (orchestrator.ReleaseResult, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(orchestrator.ReleaseResult), args.Error(1)
}

func (m *MockEscrowService) Refund(ctx context.Context, cmd orchestrator.RefundCommand) (orchestrator.RefundResult, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(orchestrator.RefundResult), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// setupTestRouter authenticates every request as userID; uuid.Nil leaves the request anonymous.
func setupTestRouter(userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CorrelationID())
	if userID != uuid.Nil {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.UserIDKey, userID)
			c.Next()
		})
	}
	return r
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewBuffer(raw)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// decodeData unmarshals the envelope and then its data field into out.
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) Response {
	t.Helper()
	var envelope Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	if out != nil {
		require.NotNil(t, envelope.Data, "'data' field should not be nil")
		raw, err := json.Marshal(envelope.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return envelope
}
