package escrow_api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bounty-escrow-ledger/internal/config"
	"github.com/bounty-escrow-ledger/internal/escrow_api/handler"
	"github.com/bounty-escrow-ledger/internal/escrow_api/service"
	"github.com/bounty-escrow-ledger/internal/orchestrator"
	"github.com/bounty-escrow-ledger/internal/platform/metrics"
)

// Services are the collaborators behind the HTTP handlers.
type Services struct {
	Escrow   orchestrator.Service
	Payments service.PaymentService
	Wallets  service.WalletService
	Webhooks service.WebhookService
}

// Server handles HTTP requests and manages the application's lifecycle
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	httpRouter *gin.Engine
}

// NewServer wires the handlers to the router. Metrics are served on /metrics
// of the same listener.
func NewServer(log *slog.Logger, cfg *config.Config, services Services, m *metrics.Metrics, health HealthChecker) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	setupRouter(log, httpRouter, cfg.Auth, handlers{
		escrow:  handler.NewEscrowHandler(log, services.Escrow),
		payment: handler.NewPaymentHandler(log, services.Payments, services.Escrow),
		wallet:  handler.NewWalletHandler(log, services.Wallets),
		webhook: handler.NewWebhookHandler(log, services.Webhooks),
	}, m, m.Handler(), health)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}
