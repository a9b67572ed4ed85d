package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/google/uuid"
)

const orderColumns = `id, seller_id, line_items, total, seller_total, payment_mode, status,
	cancellation_reason, delivered_at, reconciliation_needed, reconciliation_reason, created_at, updated_at`

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		o                  models.Order
		lineItems          []byte
		total, sellerTotal int64
		status             string
	)
	if err := row.Scan(
		&o.ID,
		&o.SellerID,
		&lineItems,
		&total,
		&sellerTotal,
		&o.PaymentMode,
		&status,
		&o.CancellationReason,
		&o.DeliveredAt,
		&o.ReconciliationNeeded,
		&o.ReconciliationReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return models.Order{}, err
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &o.LineItems); err != nil {
			return models.Order{}, fmt.Errorf("decode line items: %w", err)
		}
	}
	o.Total = domain.Money(total)
	o.SellerTotal = domain.Money(sellerTotal)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

const insertOrder = `INSERT INTO orders (` + orderColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func (q *Queries) InsertOrder(ctx context.Context, arg models.Order) error {
	lineItems, err := json.Marshal(arg.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	_, err = q.db.Exec(ctx, insertOrder,
		arg.ID,
		arg.SellerID,
		lineItems,
		int64(arg.Total),
		int64(arg.SellerTotal),
		arg.PaymentMode,
		string(arg.Status),
		arg.CancellationReason,
		arg.DeliveredAt,
		arg.ReconciliationNeeded,
		arg.ReconciliationReason,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return translateError(err)
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, getOrder, id))
	return o, translateError(err)
}

const updateOrderStatusIfCurrent = `UPDATE orders
SET status = $3,
    cancellation_reason = COALESCE($4, cancellation_reason),
    delivered_at = COALESCE(delivered_at, $5),
    updated_at = $6
WHERE id = $1 AND status = $2`

// UpdateOrderStatusIfCurrent moves the order only while its stored status still equals From.
// delivered_at is set once and never overwritten.
func (q *Queries) UpdateOrderStatusIfCurrent(ctx context.Context, arg UpdateOrderStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateOrderStatusIfCurrent,
		arg.ID,
		string(arg.From),
		string(arg.To),
		arg.CancellationReason,
		arg.DeliveredAt,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, translateError(err)
	}
	return tag.RowsAffected(), nil
}

const setOrderReconciliation = `UPDATE orders
SET reconciliation_needed = $2,
    reconciliation_reason = $3,
    updated_at = $4
WHERE id = $1 AND ($5::text IS NULL OR status = $5::text)`

func (q *Queries) SetOrderReconciliation(ctx context.Context, arg SetOrderReconciliationParams) error {
	var status *string
	if arg.IfStatus != nil {
		s := string(*arg.IfStatus)
		status = &s
	}
	tag, err := q.db.Exec(ctx, setOrderReconciliation, arg.ID, arg.Needed, arg.Reason, arg.UpdatedAt, status)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const listOrdersNeedingReconciliation = `SELECT ` + orderColumns + `
FROM orders
WHERE reconciliation_needed
ORDER BY updated_at, id
LIMIT $1`

func (q *Queries) ListOrdersNeedingReconciliation(ctx context.Context, limit int32) ([]models.Order, error) {
	rows, err := q.db.Query(ctx, listOrdersNeedingReconciliation, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

const countOrdersNeedingReconciliation = `SELECT COUNT(*) FROM orders WHERE reconciliation_needed`

func (q *Queries) CountOrdersNeedingReconciliation(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countOrdersNeedingReconciliation).Scan(&count)
	return count, err
}

const sellerOrderColumns = `seller_id, order_id, status, total, seller_total, payment_mode, created_at, updated_at`

func scanSellerOrder(row rowScanner) (models.SellerOrder, error) {
	var (
		so                 models.SellerOrder
		status             string
		total, sellerTotal int64
	)
	if err := row.Scan(&so.SellerID, &so.OrderID, &status, &total, &sellerTotal, &so.PaymentMode, &so.CreatedAt, &so.UpdatedAt); err != nil {
		return models.SellerOrder{}, err
	}
	so.Status = domain.OrderStatus(status)
	so.Total = domain.Money(total)
	so.SellerTotal = domain.Money(sellerTotal)
	return so, nil
}

// The WHERE guard keeps a late retry from overwriting a newer projection.
const upsertSellerOrder = `INSERT INTO seller_orders (` + sellerOrderColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (seller_id, order_id) DO UPDATE
SET status = EXCLUDED.status,
    total = EXCLUDED.total,
    seller_total = EXCLUDED.seller_total,
    payment_mode = EXCLUDED.payment_mode,
    updated_at = EXCLUDED.updated_at
WHERE seller_orders.updated_at <= EXCLUDED.updated_at`

func (q *Queries) UpsertSellerOrder(ctx context.Context, arg models.SellerOrder) error {
	_, err := q.db.Exec(ctx, upsertSellerOrder,
		arg.SellerID,
		arg.OrderID,
		string(arg.Status),
		int64(arg.Total),
		int64(arg.SellerTotal),
		arg.PaymentMode,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return translateError(err)
}

const getSellerOrder = `SELECT ` + sellerOrderColumns + ` FROM seller_orders WHERE seller_id = $1 AND order_id = $2`

func (q *Queries) GetSellerOrder(ctx context.Context, sellerID, orderID uuid.UUID) (models.SellerOrder, error) {
	so, err := scanSellerOrder(q.db.QueryRow(ctx, getSellerOrder, sellerID, orderID))
	return so, translateError(err)
}

const listSellerOrders = `SELECT ` + sellerOrderColumns + `
FROM seller_orders
WHERE seller_id = $1
  AND ($2::text IS NULL OR status = $2::text)
  AND ($3::timestamptz IS NULL OR (created_at, order_id) < ($3::timestamptz, $4::uuid))
ORDER BY created_at DESC, order_id DESC
LIMIT $5`

func (q *Queries) ListSellerOrders(ctx context.Context, arg ListSellerOrdersParams) ([]models.SellerOrder, error) {
	var status *string
	if arg.Status != nil {
		s := string(*arg.Status)
		status = &s
	}
	cursorAt, cursorID := cursorArgs(arg.After)
	rows, err := q.db.Query(ctx, listSellerOrders, arg.SellerID, status, cursorAt, cursorID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.SellerOrder
	for rows.Next() {
		so, err := scanSellerOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, so)
	}
	return items, rows.Err()
}
