package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/domain/wallet"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, user_id, type, amount, currency, bounty_id, status, gateway_reference, description, metadata, created_at`

// WalletRepository implements wallet.Repository for PostgreSQL. The running
// balance in wallet_balances is only ever moved by atomic increments.
type WalletRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewWalletRepository creates a new PostgreSQL wallet ledger
func NewWalletRepository(logger *slog.Logger, db *persistence.PostgresDB) wallet.Repository {
	return &WalletRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *WalletRepository) WithTx(tx pgx.Tx) wallet.Repository {
	return &WalletRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// balanceNonNegative is the CHECK on wallet_balances that rejects overdrafts.
const balanceNonNegative = "wallet_balances_non_negative"

// Append inserts the entry and, for completed entries, increments the cached
// balance in the same statement.
func (r *WalletRepository) Append(ctx context.Context, tx *wallet.Transaction) error {
	query := `
		WITH inserted AS (
			INSERT INTO wallet_transactions (` + walletColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING user_id, amount, status
		)
		INSERT INTO wallet_balances (user_id, balance, updated_at)
		SELECT user_id, amount, NOW() FROM inserted WHERE status = 'completed'
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallet_balances.balance + EXCLUDED.balance, updated_at = NOW()
	`

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode transaction metadata: %w", err)
	}

	_, err = r.querier.Exec(ctx, query,
		tx.ID,
		tx.UserID,
		tx.Type,
		tx.Amount,
		tx.Currency,
		tx.BountyID,
		tx.Status,
		tx.GatewayReference,
		tx.Description,
		metadata,
		tx.CreatedAt,
	)
	if err != nil {
		if constraint, ok := persistence.UniqueViolation(err); ok {
			return wallet.ErrDuplicateEntry{Constraint: constraint}
		}
		if constraint, ok := persistence.CheckViolation(err); ok && constraint == balanceNonNegative {
			return wallet.ErrOverdraft{UserID: tx.UserID}
		}
		r.logger.Error("Failed to append wallet transaction",
			"transaction_id", tx.ID.String(),
			"type", tx.Type,
			"error", err,
		)
		return fmt.Errorf("failed to append wallet transaction: %w", err)
	}

	return nil
}

// ListByUser returns a page of the user's entries, newest first.
func (r *WalletRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*wallet.Transaction, error) {
	query := `SELECT ` + walletColumns + `
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list wallet transactions", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to list wallet transactions: %w", err)
	}
	return collectTransactions(rows)
}

// CountByUser counts all entries of the user, whatever their status.
func (r *WalletRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM wallet_transactions WHERE user_id = $1`

	var count int64
	if err := r.querier.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		r.logger.Error("Failed to count wallet transactions", "user_id", userID.String(), "error", err)
		return 0, fmt.Errorf("failed to count wallet transactions: %w", err)
	}
	return count, nil
}

// ListByBounty returns every entry linked to the bounty in creation order.
func (r *WalletRepository) ListByBounty(ctx context.Context, bountyID uuid.UUID) ([]*wallet.Transaction, error) {
	query := `SELECT ` + walletColumns + `
		FROM wallet_transactions
		WHERE bounty_id = $1
		ORDER BY created_at ASC, id
	`

	rows, err := r.querier.Query(ctx, query, bountyID)
	if err != nil {
		r.logger.Error("Failed to list bounty transactions", "bounty_id", bountyID.String(), "error", err)
		return nil, fmt.Errorf("failed to list bounty transactions: %w", err)
	}
	return collectTransactions(rows)
}

// SumCompleted derives the balance from the ledger rows.
func (r *WalletRepository) SumCompleted(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)::BIGINT
		FROM wallet_transactions
		WHERE user_id = $1 AND status = $2
	`

	var sum int64
	if err := r.querier.QueryRow(ctx, query, userID, shared.TransactionStatusCompleted).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum wallet transactions", "user_id", userID.String(), "error", err)
		return 0, fmt.Errorf("failed to sum wallet transactions: %w", err)
	}
	return sum, nil
}

// CachedBalance reads the running total.
func (r *WalletRepository) CachedBalance(ctx context.Context, userID uuid.UUID) (int64, bool, error) {
	query := `SELECT balance FROM wallet_balances WHERE user_id = $1`

	var balance int64
	err := r.querier.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		r.logger.Error("Failed to read cached balance", "user_id", userID.String(), "error", err)
		return 0, false, fmt.Errorf("failed to read cached balance: %w", err)
	}
	return balance, true, nil
}

// RebuildBalance recomputes the running total from the ledger. It locks the
// cache row first so no concurrent Append can slip between the sum and the
// write; call it on a repository bound to a transaction.
func (r *WalletRepository) RebuildBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	ensure := `
		INSERT INTO wallet_balances (user_id, balance, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.querier.Exec(ctx, ensure, userID); err != nil {
		r.logger.Error("Failed to create balance row", "user_id", userID.String(), "error", err)
		return 0, fmt.Errorf("failed to create balance row: %w", err)
	}

	lock := `SELECT balance FROM wallet_balances WHERE user_id = $1 FOR UPDATE`
	var stale int64
	if err := r.querier.QueryRow(ctx, lock, userID).Scan(&stale); err != nil {
		r.logger.Error("Failed to lock balance row", "user_id", userID.String(), "error", err)
		return 0, fmt.Errorf("failed to lock balance row: %w", err)
	}

	sum, err := r.SumCompleted(ctx, userID)
	if err != nil {
		return 0, err
	}

	update := `UPDATE wallet_balances SET balance = $1, updated_at = NOW() WHERE user_id = $2`
	if _, err := r.querier.Exec(ctx, update, sum, userID); err != nil {
		r.logger.Error("Failed to rebuild balance", "user_id", userID.String(), "error", err)
		return 0, fmt.Errorf("failed to rebuild balance: %w", err)
	}

	if stale != sum {
		r.logger.Warn("Cached balance drifted from ledger", "user_id", userID.String(), "cached", stale, "ledger", sum)
	}
	return sum, nil
}

func collectTransactions(rows pgx.Rows) ([]*wallet.Transaction, error) {
	defer rows.Close()

	var txs []*wallet.Transaction
	for rows.Next() {
		var (
			tx       wallet.Transaction
			metadata []byte
		)
		err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.Type,
			&tx.Amount,
			&tx.Currency,
			&tx.BountyID,
			&tx.Status,
			&tx.GatewayReference,
			&tx.Description,
			&metadata,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet transaction: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of %s: %w", tx.ID, err)
			}
		}
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet transactions: %w", err)
	}
	return txs, nil
}
