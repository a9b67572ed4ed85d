package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/ayo6706/seller-ledger/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaximumBackoff: 2 * time.Millisecond,
}

type testServices struct {
	store       *memory.Store
	ledger      *LedgerService
	withdrawals *WithdrawalService
	orders      *OrderService
}

func setupServices(t *testing.T) *testServices {
	t.Helper()

	store := memory.NewStore()
	ledger := NewLedgerService(store, fastRetry)
	return &testServices{
		store:  store,
		ledger: ledger,
		withdrawals: NewWithdrawalService(store, ledger, WithdrawalConfig{
			CommissionRatePercent: decimal.NewFromInt(10),
			MinWithdrawal:         domain.Money(100_00),
		}),
		orders: NewOrderService(store, ledger, fastRetry),
	}
}

// seedOrder stores an order and its mirror directly, bypassing intake.
func seedOrder(t *testing.T, store QueryStore, sellerID uuid.UUID, sellerTotal domain.Money, status domain.OrderStatus) models.Order {
	t.Helper()

	ts := time.Now().UTC().Add(-time.Minute)
	order := models.Order{
		ID:       uuid.New(),
		SellerID: sellerID,
		LineItems: []models.LineItem{
			{ProductID: "sku-1", Name: "Kettle", Quantity: 1, UnitPrice: sellerTotal},
		},
		Total:       sellerTotal,
		SellerTotal: sellerTotal,
		PaymentMode: domain.PaymentModeOnline,
		Status:      status,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if status == domain.OrderStatusDelivered {
		order.DeliveredAt = &ts
	}
	require.NoError(t, store.RunInTx(context.Background(), func(qtx repository.Querier) error {
		if err := qtx.InsertOrder(context.Background(), order); err != nil {
			return err
		}
		return qtx.UpsertSellerOrder(context.Background(), models.MirrorOf(order))
	}))
	return order
}

// fundWallet credits the seller through an order reference so the wallet
// stays consistent with its ledger.
func fundWallet(t *testing.T, ledger *LedgerService, sellerID uuid.UUID, amount domain.Money) {
	t.Helper()

	_, err := ledger.Apply(context.Background(), ApplyRequest{
		SellerID:      sellerID,
		ReferenceID:   uuid.New(),
		ReferenceType: domain.ReferenceOrder,
		Type:          domain.LedgerEntryCredit,
		Amount:        amount,
	})
	require.NoError(t, err)
}

// advance moves an order along the happy path up to target.
func advance(t *testing.T, orders *OrderService, order models.Order, target domain.OrderStatus) {
	t.Helper()

	path := []domain.OrderStatus{
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
		domain.OrderStatusInTransit,
		domain.OrderStatusDelivered,
	}
	for _, next := range path {
		_, err := orders.UpdateOrderStatus(context.Background(), UpdateOrderStatusRequest{
			OrderID:  order.ID,
			SellerID: order.SellerID,
			Status:   next,
		})
		require.NoError(t, err)
		if next == target {
			return
		}
	}
}

// flakyStore fails seller mirror writes a fixed number of times.
type flakyStore struct {
	*memory.Store
	mirrorFailures int
}

func (f *flakyStore) Queries() repository.Querier {
	return &flakyQuerier{Querier: f.Store.Queries(), store: f}
}

type flakyQuerier struct {
	repository.Querier
	store *flakyStore
}

func (q *flakyQuerier) UpsertSellerOrder(ctx context.Context, arg models.SellerOrder) error {
	if q.store.mirrorFailures > 0 {
		q.store.mirrorFailures--
		return errMirrorUnavailable
	}
	return q.Querier.UpsertSellerOrder(ctx, arg)
}

// failingLedger fails every Apply until healed.
type failingLedger struct {
	next   LedgerApplier
	err    error
	calls  int
	healed bool
}

func (l *failingLedger) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	l.calls++
	if !l.healed {
		return nil, l.err
	}
	return l.next.Apply(ctx, req)
}

type testError string

func (e testError) Error() string { return string(e) }

const errMirrorUnavailable = testError("mirror store unavailable")
