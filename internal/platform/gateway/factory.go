package gateway

import (
	"fmt"
	"log/slog"

	"github.com/bounty-escrow-ledger/internal/config"
)

// NewProcessor builds the configured processor wrapped in the retry policy.
func NewProcessor(cfg *config.GatewayConfig, observer Observer, logger *slog.Logger) (Processor, error) {
	var base Processor
	switch cfg.Provider {
	case "paypal":
		pp, err := NewPayPalProcessor(cfg, logger)
		if err != nil {
			return nil, err
		}
		base = pp
	case "sandbox":
		logger.Warn("Using the sandbox payment processor; no real money moves")
		base = NewSandboxProcessor(cfg.WebhookSecret)
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}

	policy := RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
	}
	return NewRetrying(base, policy, observer, logger), nil
}
