package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const withdrawalColumns = `id, seller_id, amount_requested, commission_rate::text, commission_amount,
	gst_on_commission, net_payable, status, seller_note, admin_note, decided_by, created_at, decided_at, updated_at`

func scanWithdrawal(row rowScanner) (models.WithdrawalRequest, error) {
	var (
		wr                           models.WithdrawalRequest
		amount, commission, gst, net int64
		rate, status                 string
	)
	if err := row.Scan(
		&wr.ID,
		&wr.SellerID,
		&amount,
		&rate,
		&commission,
		&gst,
		&net,
		&status,
		&wr.SellerNote,
		&wr.AdminNote,
		&wr.DecidedBy,
		&wr.CreatedAt,
		&wr.DecidedAt,
		&wr.UpdatedAt,
	); err != nil {
		return models.WithdrawalRequest{}, err
	}
	commissionRate, err := decimal.NewFromString(rate)
	if err != nil {
		return models.WithdrawalRequest{}, fmt.Errorf("parse commission rate: %w", err)
	}
	wr.AmountRequested = domain.Money(amount)
	wr.Status = domain.WithdrawalStatus(status)
	wr.Breakdown = domain.Breakdown{
		GrossAmount:      domain.Money(amount),
		CommissionRate:   commissionRate,
		CommissionAmount: domain.Money(commission),
		GSTOnCommission:  domain.Money(gst),
		NetPayable:       domain.Money(net),
	}
	return wr, nil
}

const insertWithdrawal = `INSERT INTO withdrawal_requests (
	id, seller_id, amount_requested, commission_rate, commission_amount, gst_on_commission,
	net_payable, status, seller_note, admin_note, decided_by, created_at, decided_at, updated_at
) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func (q *Queries) InsertWithdrawal(ctx context.Context, arg models.WithdrawalRequest) error {
	_, err := q.db.Exec(ctx, insertWithdrawal,
		arg.ID,
		arg.SellerID,
		int64(arg.AmountRequested),
		arg.Breakdown.CommissionRate.String(),
		int64(arg.Breakdown.CommissionAmount),
		int64(arg.Breakdown.GSTOnCommission),
		int64(arg.Breakdown.NetPayable),
		string(arg.Status),
		arg.SellerNote,
		arg.AdminNote,
		arg.DecidedBy,
		arg.CreatedAt,
		arg.DecidedAt,
		arg.UpdatedAt,
	)
	return translateError(err)
}

const getWithdrawal = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

func (q *Queries) GetWithdrawal(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	wr, err := scanWithdrawal(q.db.QueryRow(ctx, getWithdrawal, id))
	return wr, translateError(err)
}

const updateWithdrawalStatus = `UPDATE withdrawal_requests
SET status = $3,
    admin_note = COALESCE($4, admin_note),
    decided_by = COALESCE($5, decided_by),
    decided_at = COALESCE($6, decided_at),
    updated_at = $7
WHERE id = $1 AND status = ANY($2::text[])`

// UpdateWithdrawalStatus applies the transition only while the stored status is one of From.
func (q *Queries) UpdateWithdrawalStatus(ctx context.Context, arg UpdateWithdrawalStatusParams) (int64, error) {
	from := make([]string, 0, len(arg.From))
	for _, s := range arg.From {
		from = append(from, string(s))
	}
	tag, err := q.db.Exec(ctx, updateWithdrawalStatus,
		arg.ID,
		from,
		string(arg.To),
		arg.AdminNote,
		arg.DecidedBy,
		arg.DecidedAt,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, translateError(err)
	}
	return tag.RowsAffected(), nil
}

const listWithdrawals = `SELECT ` + withdrawalColumns + `
FROM withdrawal_requests
WHERE ($1::uuid IS NULL OR seller_id = $1::uuid)
  AND ($2::text IS NULL OR status = $2::text)
  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4::uuid))
ORDER BY created_at DESC, id DESC
LIMIT $5`

func (q *Queries) ListWithdrawals(ctx context.Context, arg ListWithdrawalsParams) ([]models.WithdrawalRequest, error) {
	var status *string
	if arg.Status != nil {
		s := string(*arg.Status)
		status = &s
	}
	cursorAt, cursorID := cursorArgs(arg.After)
	rows, err := q.db.Query(ctx, listWithdrawals, arg.SellerID, status, cursorAt, cursorID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.WithdrawalRequest
	for rows.Next() {
		wr, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, wr)
	}
	return items, rows.Err()
}
