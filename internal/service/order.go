package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/ayo6706/seller-ledger/internal/observability"
	"github.com/ayo6706/seller-ledger/internal/pagination"
	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var defaultSyncRetry = RetryPolicy{
	MaxAttempts:    4,
	InitialBackoff: 50 * time.Millisecond,
	MaximumBackoff: 2 * time.Second,
}

// LedgerApplier is the part of the ledger the order synchronizer depends on.
type LedgerApplier interface {
	Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error)
}

// OrderService moves orders through their lifecycle and propagates each change
// to the seller mirror and the wallet ledger. The three stores are written in
// sequence without a shared transaction; a step that cannot complete flags the
// order for repair instead of rolling the earlier steps back.
type OrderService struct {
	store  QueryStore
	ledger LedgerApplier
	audit  *AuditService
	retry  RetryPolicy
	now    func() time.Time
}

func NewOrderService(store QueryStore, ledger LedgerApplier, retry RetryPolicy) *OrderService {
	return &OrderService{
		store:  store,
		ledger: ledger,
		audit:  NewAuditService(),
		retry:  retry.normalize(defaultSyncRetry),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type UpdateOrderStatusRequest struct {
	OrderID  uuid.UUID
	SellerID uuid.UUID
	Status   domain.OrderStatus
	// Note is stored as the cancellation reason when cancelling.
	Note    string
	ActorID *uuid.UUID
}

// UpdateOrderStatus applies a status change. When the canonical order moved but
// a later step failed, the updated order is returned together with an error
// wrapping domain.ErrReconciliationNeeded.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, req UpdateOrderStatusRequest) (*models.Order, error) {
	note := strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return nil, domain.Validationf("note must be at most %d characters", maxNoteLength)
	}

	order, err := s.store.Queries().GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != req.SellerID {
		return nil, domain.ErrNotFound
	}
	if order.Status == domain.OrderStatusDelivered && req.Status == domain.OrderStatusDelivered {
		return s.replayDelivery(ctx, order)
	}
	if err := validateTransition(order.Status, req.Status, note); err != nil {
		return nil, err
	}

	ts := s.now()
	params := repository.UpdateOrderStatusParams{
		ID:        order.ID,
		From:      order.Status,
		To:        req.Status,
		UpdatedAt: ts,
	}
	updated := order
	updated.Status = req.Status
	updated.UpdatedAt = ts
	if req.Status == domain.OrderStatusDelivered && order.DeliveredAt == nil {
		params.DeliveredAt = &ts
		updated.DeliveredAt = &ts
	}
	if req.Status == domain.OrderStatusCancelled && note != "" {
		params.CancellationReason = &note
		updated.CancellationReason = &note
	}
	var metadata []byte
	if note != "" {
		if metadata, err = json.Marshal(map[string]string{"note": note}); err != nil {
			return nil, fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		rows, err := qtx.UpdateOrderStatusIfCurrent(ctx, params)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: order %s is no longer %s", domain.ErrConcurrentModification, order.ID, order.Status)
		}
		return s.audit.Write(ctx, qtx, domain.EntityOrder, order.ID, req.ActorID, "status_changed", string(order.Status), string(req.Status), metadata)
	})
	if err != nil {
		return nil, err
	}

	if err := s.syncMirror(ctx, updated); err != nil {
		return s.flag(ctx, updated, "seller mirror update failed", err)
	}
	if err := s.applyLedgerEffect(ctx, updated, transitionEffect(order.Status, req.Status)); err != nil {
		return s.flag(ctx, updated, "ledger update failed", err)
	}

	zap.L().Info("order status updated",
		zap.String("order_id", order.ID.String()),
		zap.String("seller_id", order.SellerID.String()),
		zap.String("from", string(order.Status)),
		zap.String("to", string(req.Status)),
	)
	return &updated, nil
}

// replayDelivery answers a duplicate delivered event without moving the order.
// The mirror and the credit are re-applied under the order id, so a caller
// retrying after a partial failure observes the committed effect exactly once.
func (s *OrderService) replayDelivery(ctx context.Context, order models.Order) (*models.Order, error) {
	if err := s.syncMirror(ctx, order); err != nil {
		return s.flag(ctx, order, "seller mirror update failed", err)
	}
	if err := s.applyLedgerEffect(ctx, order, effectCredit); err != nil {
		return s.flag(ctx, order, "ledger update failed", err)
	}
	zap.L().Info("duplicate delivered event ignored",
		zap.String("order_id", order.ID.String()),
		zap.String("seller_id", order.SellerID.String()),
	)
	return &order, nil
}

func (s *OrderService) syncMirror(ctx context.Context, order models.Order) error {
	mirror := models.MirrorOf(order)
	return s.retry.Do(ctx, nil, func(attempt int) error {
		err := s.store.Queries().UpsertSellerOrder(ctx, mirror)
		if err != nil {
			zap.L().Warn("seller mirror upsert failed",
				zap.String("order_id", order.ID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
}

// applyLedgerEffect is idempotent: every entry is keyed on the order id, so a
// retry or repair that re-runs it observes what already committed.
func (s *OrderService) applyLedgerEffect(ctx context.Context, order models.Order, effect ledgerEffect) error {
	if effect == effectNone {
		return nil
	}
	credit, err := s.applyWithRetry(ctx, order, domain.LedgerEntryCredit, order.SellerTotal)
	if err != nil {
		return err
	}
	if effect == effectCredit {
		return nil
	}
	_, err = s.applyWithRetry(ctx, order, domain.LedgerEntryDebit, credit.Amount)
	return err
}

func (s *OrderService) applyWithRetry(ctx context.Context, order models.Order, entryType domain.LedgerEntryType, amount domain.Money) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.retry.Do(ctx, isTransientLedgerError, func(attempt int) error {
		res, err := s.ledger.Apply(ctx, ApplyRequest{
			SellerID:      order.SellerID,
			ReferenceID:   order.ID,
			ReferenceType: domain.ReferenceOrder,
			Type:          entryType,
			Amount:        amount,
		})
		if err != nil {
			zap.L().Warn("order ledger apply failed",
				zap.String("order_id", order.ID.String()),
				zap.String("type", string(entryType)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		entry = res.Entry
		return nil
	})
	return entry, err
}

func isTransientLedgerError(err error) bool {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// flag marks the order for repair. The canonical change stands.
func (s *OrderService) flag(ctx context.Context, order models.Order, reason string, cause error) (*models.Order, error) {
	detail := fmt.Sprintf("%s: %v", reason, cause)
	flagCtx := context.WithoutCancel(ctx)
	if err := s.store.Queries().SetOrderReconciliation(flagCtx, repository.SetOrderReconciliationParams{
		ID:        order.ID,
		Needed:    true,
		Reason:    &detail,
		UpdatedAt: s.now(),
	}); err != nil {
		zap.L().Error("failed to flag order for reconciliation",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
	observability.IncrementReconciliationEvent("flagged")
	zap.L().Error("order needs reconciliation",
		zap.String("order_id", order.ID.String()),
		zap.String("seller_id", order.SellerID.String()),
		zap.String("status", string(order.Status)),
		zap.Error(cause),
	)
	order.ReconciliationNeeded = true
	order.ReconciliationReason = &detail
	return &order, fmt.Errorf("%w: %s", domain.ErrReconciliationNeeded, detail)
}

type RepairResult struct {
	Scanned  int
	Repaired int
	Failed   int
}

// RepairFlagged re-derives the mirror and ledger effects of flagged orders from
// their stored state and clears the flag once both are in place.
func (s *OrderService) RepairFlagged(ctx context.Context, batchSize int32) (RepairResult, error) {
	var result RepairResult
	orders, err := s.store.Queries().ListOrdersNeedingReconciliation(ctx, batchSize)
	if err != nil {
		return result, fmt.Errorf("list flagged orders: %w", err)
	}
	result.Scanned = len(orders)

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.repairOrder(ctx, order); err != nil {
			result.Failed++
			zap.L().Warn("order repair failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
			s.requeue(ctx, order, err)
			continue
		}
		result.Repaired++
		observability.IncrementReconciliationEvent("repaired")
	}

	if count, err := s.store.Queries().CountOrdersNeedingReconciliation(ctx); err == nil {
		observability.SetReconciliationQueueSize(count)
	}
	return result, nil
}

// requeue records the failure and moves the order to the back of the repair
// queue, so orders that keep failing do not starve the ones behind them.
func (s *OrderService) requeue(ctx context.Context, order models.Order, cause error) {
	reason := fmt.Sprintf("repair failed: %v", cause)
	status := order.Status
	err := s.store.Queries().SetOrderReconciliation(context.WithoutCancel(ctx), repository.SetOrderReconciliationParams{
		ID:        order.ID,
		Needed:    true,
		Reason:    &reason,
		IfStatus:  &status,
		UpdatedAt: s.now(),
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		zap.L().Error("failed to requeue order for repair",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *OrderService) repairOrder(ctx context.Context, order models.Order) error {
	if err := s.syncMirror(ctx, order); err != nil {
		return fmt.Errorf("sync mirror: %w", err)
	}

	effect := effectNone
	if order.DeliveredAt != nil {
		effect = effectCredit
		if order.Status == domain.OrderStatusCancelled {
			effect = effectReverse
		}
	}
	if err := s.applyLedgerEffect(ctx, order, effect); err != nil {
		return fmt.Errorf("apply ledger effects: %w", err)
	}

	// Clearing only matches the status that was repaired, so a transition
	// that raced with this repair keeps its own flag.
	status := order.Status
	err := s.store.Queries().SetOrderReconciliation(ctx, repository.SetOrderReconciliationParams{
		ID:        order.ID,
		Needed:    false,
		IfStatus:  &status,
		UpdatedAt: s.now(),
	})
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("order %s changed status during repair", order.ID)
	}
	return err
}

type OrderDetails struct {
	models.Order
	History []AuditRecord `json:"history"`
}

// GetOrder returns the canonical order with its audit history. A non-nil
// sellerID restricts the lookup to that seller's orders.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID, sellerID *uuid.UUID) (*OrderDetails, error) {
	queries := s.store.Queries()
	order, err := queries.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if sellerID != nil && order.SellerID != *sellerID {
		return nil, domain.ErrNotFound
	}
	history, err := s.audit.History(ctx, queries, domain.EntityOrder, order.ID)
	if err != nil {
		return nil, err
	}
	return &OrderDetails{Order: order, History: history}, nil
}

// ListSellerOrders pages through the seller mirror, newest first.
func (s *OrderService) ListSellerOrders(ctx context.Context, sellerID uuid.UUID, status string, limit int, cursor string) (pagination.Page[models.SellerOrder], error) {
	params := repository.ListSellerOrdersParams{
		SellerID: sellerID,
		Limit:    int32(pagination.LimitWithBuffer(limit)),
	}
	if status != "" {
		st, err := domain.ParseOrderStatus(status)
		if err != nil {
			return pagination.Page[models.SellerOrder]{}, err
		}
		params.Status = &st
	}
	after, err := pagination.ParseCursor(cursor)
	if err != nil {
		return pagination.Page[models.SellerOrder]{}, err
	}
	params.After = repoCursor(after)

	rows, err := s.store.Queries().ListSellerOrders(ctx, params)
	if err != nil {
		return pagination.Page[models.SellerOrder]{}, fmt.Errorf("list seller orders: %w", err)
	}
	return pagination.Build(rows, limit, func(so models.SellerOrder) pagination.Cursor {
		return pagination.Cursor{CreatedAt: so.CreatedAt, ID: so.OrderID}
	}), nil
}
