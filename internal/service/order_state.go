package service

import (
	"github.com/ayo6706/seller-ledger/internal/domain"
)

var orderTransitions = map[domain.OrderStatus]map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending: {
		domain.OrderStatusPacked:    {},
		domain.OrderStatusCancelled: {},
	},
	domain.OrderStatusPacked: {
		domain.OrderStatusShipped:   {},
		domain.OrderStatusCancelled: {},
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusInTransit: {},
		domain.OrderStatusCancelled: {},
	},
	domain.OrderStatusInTransit: {
		domain.OrderStatusDelivered: {},
		domain.OrderStatusCancelled: {},
	},
	domain.OrderStatusDelivered: {
		domain.OrderStatusCancelled: {},
	},
	domain.OrderStatusCancelled: {},
}

// ledgerEffect is what a transition requires of the seller's wallet.
type ledgerEffect int

const (
	effectNone ledgerEffect = iota
	// effectCredit credits sellerTotal on first delivery.
	effectCredit
	// effectReverse debits the recorded delivery credit.
	effectReverse
)

func canTransition(current, next domain.OrderStatus) bool {
	nextStates, ok := orderTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// validateTransition checks the move against the graph. Cancelling a delivered
// order also needs a reason.
func validateTransition(current, next domain.OrderStatus, reason string) error {
	if !canTransition(current, next) {
		return domain.InvalidTransitionf(current, next)
	}
	if current == domain.OrderStatusDelivered && next == domain.OrderStatusCancelled && reason == "" {
		return domain.Validationf("a cancellation reason is required to cancel a delivered order")
	}
	return nil
}

func transitionEffect(current, next domain.OrderStatus) ledgerEffect {
	switch {
	case next == domain.OrderStatusDelivered:
		return effectCredit
	case current == domain.OrderStatusDelivered && next == domain.OrderStatusCancelled:
		return effectReverse
	default:
		return effectNone
	}
}
