package escrow_api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bounty-escrow-ledger/internal/config"
	"github.com/bounty-escrow-ledger/internal/escrow_api/handler"
	"github.com/bounty-escrow-ledger/internal/escrow_api/middleware"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type handlers struct {
	escrow  *handler.EscrowHandler
	payment *handler.PaymentHandler
	wallet  *handler.WalletHandler
	webhook *handler.WebhookHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	auth config.AuthConfig,
	h handlers,
	observer middleware.HTTPObserver,
	metricsHandler http.Handler,
	health HealthChecker,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(observer))

	v1 := r.Group("/api/v1")
	{
		// The processor authenticates with its signature, not a bearer token.
		v1.POST("/webhooks/payment", h.webhook.Receive)

		authed := v1.Group("")
		authed.Use(middleware.Authenticate(auth.JWTSecret, auth.Issuer, logger))
		{
			payments := authed.Group("/payments")
			{
				payments.POST("/intent", h.payment.CreateIntent)
				payments.POST("/refund", h.payment.Refund)
			}

			escrow := authed.Group("/escrow")
			{
				escrow.POST("/create", h.escrow.Create)
				escrow.POST("/release", h.escrow.Release)
			}

			wallet := authed.Group("/wallet")
			{
				wallet.GET("/balance", h.wallet.Balance)
				wallet.GET("/transactions", h.wallet.Transactions)
			}
		}
	}

	r.GET("/metrics", gin.WrapH(metricsHandler))

	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := health.Ping(ctx); err != nil {
			logger.Warn("Health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "timestamp": time.Now().UTC()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
