package models

import (
	"time"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/google/uuid"
)

type LineItem struct {
	ProductID string       `json:"product_id"`
	Name      string       `json:"name"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unit_price"`
}

// Order is the canonical order record. It arrives from order intake in
// pending status and only moves along the legal transition graph.
type Order struct {
	ID                   uuid.UUID          `json:"id"`
	SellerID             uuid.UUID          `json:"seller_id"`
	LineItems            []LineItem         `json:"line_items"`
	Total                domain.Money       `json:"total"`
	SellerTotal          domain.Money       `json:"seller_total"`
	PaymentMode          string             `json:"payment_mode"`
	Status               domain.OrderStatus `json:"status"`
	CancellationReason   *string            `json:"cancellation_reason,omitempty"`
	DeliveredAt          *time.Time         `json:"delivered_at,omitempty"`
	ReconciliationNeeded bool               `json:"reconciliation_needed"`
	ReconciliationReason *string            `json:"reconciliation_reason,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// SellerOrder is the seller-scoped projection of an Order.
type SellerOrder struct {
	SellerID    uuid.UUID          `json:"seller_id"`
	OrderID     uuid.UUID          `json:"order_id"`
	Status      domain.OrderStatus `json:"status"`
	Total       domain.Money       `json:"total"`
	SellerTotal domain.Money       `json:"seller_total"`
	PaymentMode string             `json:"payment_mode"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// MirrorOf projects the canonical order into its seller-scoped view.
func MirrorOf(o Order) SellerOrder {
	return SellerOrder{
		SellerID:    o.SellerID,
		OrderID:     o.ID,
		Status:      o.Status,
		Total:       o.Total,
		SellerTotal: o.SellerTotal,
		PaymentMode: o.PaymentMode,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

// Wallet is the cached per-seller aggregate of the ledger.
// Invariant: AvailableBalance + HeldForPendingWithdrawals + TotalWithdrawn == TotalEarnings.
type Wallet struct {
	SellerID                  uuid.UUID    `json:"seller_id"`
	AvailableBalance          domain.Money `json:"available_balance"`
	HeldForPendingWithdrawals domain.Money `json:"held_for_pending_withdrawals"`
	TotalEarnings             domain.Money `json:"total_earnings"`
	TotalWithdrawn            domain.Money `json:"total_withdrawn"`
	LifetimeRevenue           domain.Money `json:"lifetime_revenue"`
	Version                   int64        `json:"version"`
	UpdatedAt                 time.Time    `json:"updated_at"`
}

// Balanced reports whether the wallet satisfies its accounting invariant.
func (w Wallet) Balanced() bool {
	return w.AvailableBalance >= 0 &&
		w.HeldForPendingWithdrawals >= 0 &&
		w.AvailableBalance+w.HeldForPendingWithdrawals+w.TotalWithdrawn == w.TotalEarnings
}

// LedgerEntry is an immutable record of a single balance-affecting event.
// (SellerID, ReferenceID, Type) is unique and acts as the idempotency key.
type LedgerEntry struct {
	ID            uuid.UUID              `json:"id"`
	SellerID      uuid.UUID              `json:"seller_id"`
	ReferenceID   uuid.UUID              `json:"reference_id"`
	ReferenceType domain.ReferenceType   `json:"reference_type"`
	Type          domain.LedgerEntryType `json:"type"`
	Amount        domain.Money           `json:"amount"`
	BalanceAfter  domain.Money           `json:"balance_after"`
	CreatedAt     time.Time              `json:"created_at"`
}

type WithdrawalRequest struct {
	ID              uuid.UUID               `json:"id"`
	SellerID        uuid.UUID               `json:"seller_id"`
	AmountRequested domain.Money            `json:"amount_requested"`
	Breakdown       domain.Breakdown        `json:"breakdown"`
	Status          domain.WithdrawalStatus `json:"status"`
	SellerNote      string                  `json:"seller_note"`
	AdminNote       string                  `json:"admin_note"`
	DecidedBy       *uuid.UUID              `json:"decided_by,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	DecidedAt       *time.Time              `json:"decided_at,omitempty"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

type AuditLog struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  *string    `json:"prev_state,omitempty"`
	NextState  *string    `json:"next_state,omitempty"`
	Metadata   []byte     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
