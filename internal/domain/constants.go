package domain

import "strings"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPacked    OrderStatus = "packed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusInTransit OrderStatus = "in_transit"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus normalizes and validates a client supplied status.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case OrderStatusPending, OrderStatusPacked, OrderStatusShipped, OrderStatusInTransit, OrderStatusDelivered, OrderStatusCancelled:
		return status, nil
	default:
		return "", Validationf("unknown order status %q", s)
	}
}

// LedgerEntryType classifies a balance-affecting event.
type LedgerEntryType string

const (
	LedgerEntryCredit  LedgerEntryType = "credit"
	LedgerEntryDebit   LedgerEntryType = "debit"
	LedgerEntryHold    LedgerEntryType = "hold"
	LedgerEntryRelease LedgerEntryType = "release"
)

// ReferenceType names what a ledger entry's reference id points at.
type ReferenceType string

const (
	ReferenceOrder      ReferenceType = "order"
	ReferenceWithdrawal ReferenceType = "withdrawal"
)

// WithdrawalStatus is the lifecycle state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusApproved   WithdrawalStatus = "approved"
	WithdrawalStatusRejected   WithdrawalStatus = "rejected"
	WithdrawalStatusCancelled  WithdrawalStatus = "cancelled"
)

// IsTerminal reports whether the request has already been decided.
func (s WithdrawalStatus) IsTerminal() bool {
	switch s {
	case WithdrawalStatusApproved, WithdrawalStatusRejected, WithdrawalStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseWithdrawalStatus normalizes and validates a status filter or decision.
func ParseWithdrawalStatus(s string) (WithdrawalStatus, error) {
	status := WithdrawalStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case WithdrawalStatusPending, WithdrawalStatusProcessing, WithdrawalStatusApproved, WithdrawalStatusRejected, WithdrawalStatusCancelled:
		return status, nil
	default:
		return "", Validationf("unknown withdrawal status %q", s)
	}
}

// Payment modes accepted from order intake.
const (
	PaymentModeOnline = "online"
	PaymentModeCOD    = "cod"
)

// Audit entity types.
const (
	EntityOrder      = "order"
	EntityWithdrawal = "withdrawal"
)
