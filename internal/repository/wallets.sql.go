package repository

import (
	"context"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/google/uuid"
)

const walletColumns = `seller_id, available_balance, held_for_pending_withdrawals, total_earnings,
	total_withdrawn, lifetime_revenue, version, updated_at`

func scanWallet(row rowScanner) (models.Wallet, error) {
	var (
		w                                              models.Wallet
		available, held, earnings, withdrawn, lifetime int64
	)
	if err := row.Scan(&w.SellerID, &available, &held, &earnings, &withdrawn, &lifetime, &w.Version, &w.UpdatedAt); err != nil {
		return models.Wallet{}, err
	}
	w.AvailableBalance = domain.Money(available)
	w.HeldForPendingWithdrawals = domain.Money(held)
	w.TotalEarnings = domain.Money(earnings)
	w.TotalWithdrawn = domain.Money(withdrawn)
	w.LifetimeRevenue = domain.Money(lifetime)
	return w, nil
}

const getWallet = `SELECT ` + walletColumns + ` FROM wallets WHERE seller_id = $1`

func (q *Queries) GetWallet(ctx context.Context, sellerID uuid.UUID) (models.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, getWallet, sellerID))
	return w, translateError(err)
}

const listWallets = `SELECT ` + walletColumns + ` FROM wallets ORDER BY seller_id`

func (q *Queries) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := q.db.Query(ctx, listWallets)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

const insertWallet = `INSERT INTO wallets (` + walletColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (seller_id) DO NOTHING`

const updateWalletIfVersion = `UPDATE wallets
SET available_balance = $2,
    held_for_pending_withdrawals = $3,
    total_earnings = $4,
    total_withdrawn = $5,
    lifetime_revenue = $6,
    version = $7,
    updated_at = $8
WHERE seller_id = $1 AND version = $9`

func (q *Queries) SaveWalletIfVersion(ctx context.Context, w models.Wallet, expectedVersion int64) (int64, error) {
	args := []interface{}{
		w.SellerID,
		int64(w.AvailableBalance),
		int64(w.HeldForPendingWithdrawals),
		int64(w.TotalEarnings),
		int64(w.TotalWithdrawn),
		int64(w.LifetimeRevenue),
		w.Version,
		w.UpdatedAt,
	}
	stmt := insertWallet
	if expectedVersion != 0 {
		stmt = updateWalletIfVersion
		args = append(args, expectedVersion)
	}
	tag, err := q.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, translateError(err)
	}
	return tag.RowsAffected(), nil
}
