package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bounty-escrow-ledger/internal/domain/wallet"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
)

// WalletServiceImpl implements the WalletService interface
type WalletServiceImpl struct {
	db       persistence.TxRunner
	ledger   wallet.Repository
	currency string
	logger   *slog.Logger
}

// NewWalletService creates a new wallet service
func NewWalletService(db persistence.TxRunner, ledger wallet.Repository, currency string, logger *slog.Logger) WalletService {
	return &WalletServiceImpl{
		db:       db,
		ledger:   ledger,
		currency: currency,
		logger:   logger,
	}
}

func (s *WalletServiceImpl) GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	balance, ok, err := s.ledger.CachedBalance(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	if !ok {
		s.logger.Info("No running balance yet, rebuilding from ledger", "user_id", userID.String())
		// The rebuild holds the cache row lock until commit, so a concurrent
		// Append either lands in the sum or increments after the write.
		err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
			var rebuildErr error
			balance, rebuildErr = s.ledger.WithTx(tx).RebuildBalance(ctx, userID)
			return rebuildErr
		})
		if err != nil {
			return Balance{}, err
		}
	}
	return Balance{Amount: balance, Currency: s.currency}, nil
}

func (s *WalletServiceImpl) ListTransactions(ctx context.Context, userID uuid.UUID, page, perPage int) ([]*wallet.Transaction, int64, error) {
	offset := (page - 1) * perPage
	txs, err := s.ledger.ListByUser(ctx, userID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.ledger.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}
