package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/ayo6706/seller-ledger/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerApplyCreditUpdatesWallet(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()

	res, err := svc.ledger.Apply(ctx, ApplyRequest{
		SellerID:      sellerID,
		ReferenceID:   uuid.New(),
		ReferenceType: domain.ReferenceOrder,
		Type:          domain.LedgerEntryCredit,
		Amount:        domain.Money(1000_00),
	})
	require.NoError(t, err)
	require.False(t, res.Replayed)
	assert.Equal(t, domain.Money(1000_00), res.Entry.BalanceAfter)

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(1000_00), wallet.AvailableBalance)
	assert.Equal(t, domain.Money(1000_00), wallet.TotalEarnings)
	assert.Equal(t, domain.Money(1000_00), wallet.LifetimeRevenue)
	assert.Equal(t, int64(1), wallet.Version)
	assert.True(t, wallet.Balanced())
}

func TestLedgerApplyIsIdempotent(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	req := ApplyRequest{
		SellerID:      sellerID,
		ReferenceID:   uuid.New(),
		ReferenceType: domain.ReferenceOrder,
		Type:          domain.LedgerEntryCredit,
		Amount:        domain.Money(250_00),
	}

	first, err := svc.ledger.Apply(ctx, req)
	require.NoError(t, err)
	second, err := svc.ledger.Apply(ctx, req)
	require.NoError(t, err)

	require.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(250_00), wallet.AvailableBalance)
	assert.Equal(t, int64(1), wallet.Version)
}

func TestLedgerUnknownSellerReadsAsZeroWallet(t *testing.T) {
	svc := setupServices(t)

	wallet, err := svc.ledger.GetWallet(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.Money(0), wallet.AvailableBalance)
	assert.Equal(t, int64(0), wallet.Version)
}

func TestLedgerRejectsOverdraw(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	fundWallet(t, svc.ledger, sellerID, domain.Money(50_00))

	_, err := svc.ledger.Apply(ctx, ApplyRequest{
		SellerID:      sellerID,
		ReferenceID:   uuid.New(),
		ReferenceType: domain.ReferenceWithdrawal,
		Type:          domain.LedgerEntryHold,
		Amount:        domain.Money(50_01),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = svc.ledger.Apply(ctx, ApplyRequest{
		SellerID:      sellerID,
		ReferenceID:   uuid.New(),
		ReferenceType: domain.ReferenceWithdrawal,
		Type:          domain.LedgerEntryRelease,
		Amount:        domain.Money(1),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(50_00), wallet.AvailableBalance)
}

func TestLedgerRejectsInvalidRequests(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  ApplyRequest
	}{
		{
			name: "zero amount",
			req:  ApplyRequest{SellerID: uuid.New(), ReferenceID: uuid.New(), ReferenceType: domain.ReferenceOrder, Type: domain.LedgerEntryCredit},
		},
		{
			name: "missing reference",
			req:  ApplyRequest{SellerID: uuid.New(), ReferenceType: domain.ReferenceOrder, Type: domain.LedgerEntryCredit, Amount: 1},
		},
		{
			name: "hold against an order",
			req:  ApplyRequest{SellerID: uuid.New(), ReferenceID: uuid.New(), ReferenceType: domain.ReferenceOrder, Type: domain.LedgerEntryHold, Amount: 1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ledger.Apply(ctx, tc.req)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestLedgerInTxFailureRollsBack(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	boom := errors.New("boom")

	_, err := svc.ledger.Apply(ctx, ApplyRequest{
		SellerID:      sellerID,
		ReferenceID:   uuid.New(),
		ReferenceType: domain.ReferenceOrder,
		Type:          domain.LedgerEntryCredit,
		Amount:        domain.Money(10_00),
		InTx: func(context.Context, repository.Querier, models.LedgerEntry) error {
			return boom
		},
	})
	require.ErrorIs(t, err, boom)

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.Version)
	entries, err := svc.store.Queries().ListAllLedgerEntries(ctx, sellerID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// serializationStore aborts the first n transactions the way Postgres reports
// a serialization failure or deadlock.
type serializationStore struct {
	*memory.Store
	failures int
	calls    int
}

func (s *serializationStore) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: could not serialize access due to concurrent update", domain.ErrConcurrentModification)
	}
	return s.Store.RunInTx(ctx, fn)
}

func TestLedgerRetriesSerializationFailures(t *testing.T) {
	store := &serializationStore{Store: memory.NewStore(), failures: 2}
	ledger := NewLedgerService(store, fastRetry)
	ctx := context.Background()
	sellerID := uuid.New()

	res, err := ledger.Apply(ctx, ApplyRequest{
		SellerID:      sellerID,
		ReferenceID:   uuid.New(),
		ReferenceType: domain.ReferenceOrder,
		Type:          domain.LedgerEntryCredit,
		Amount:        domain.Money(40_00),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Money(40_00), res.Wallet.AvailableBalance)
	assert.Equal(t, 3, store.calls)

	entries, err := store.Queries().ListAllLedgerEntries(ctx, sellerID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedgerSerializationFailuresExhaustRetries(t *testing.T) {
	store := &serializationStore{Store: memory.NewStore(), failures: fastRetry.MaxAttempts}
	ledger := NewLedgerService(store, fastRetry)

	_, err := ledger.Apply(context.Background(), ApplyRequest{
		SellerID:      uuid.New(),
		ReferenceID:   uuid.New(),
		ReferenceType: domain.ReferenceOrder,
		Type:          domain.LedgerEntryCredit,
		Amount:        domain.Money(40_00),
	})
	require.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, fastRetry.MaxAttempts, store.calls)
}

func TestLedgerConcurrentCreditsAllLand(t *testing.T) {
	store := memory.NewStore()
	ledger := NewLedgerService(store, RetryPolicy{MaxAttempts: 200, InitialBackoff: 1, MaximumBackoff: 1})
	ctx := context.Background()
	sellerID := uuid.New()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Apply(ctx, ApplyRequest{
				SellerID:      sellerID,
				ReferenceID:   uuid.New(),
				ReferenceType: domain.ReferenceOrder,
				Type:          domain.LedgerEntryCredit,
				Amount:        domain.Money(1_00),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	wallet, err := ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(workers*1_00), wallet.AvailableBalance)
	assert.Equal(t, int64(workers), wallet.Version)
}

func TestLedgerConcurrentDuplicateAppliesOnce(t *testing.T) {
	store := memory.NewStore()
	ledger := NewLedgerService(store, RetryPolicy{MaxAttempts: 200, InitialBackoff: 1, MaximumBackoff: 1})
	ctx := context.Background()
	sellerID := uuid.New()
	req := ApplyRequest{
		SellerID:      sellerID,
		ReferenceID:   uuid.New(),
		ReferenceType: domain.ReferenceOrder,
		Type:          domain.LedgerEntryCredit,
		Amount:        domain.Money(7_50),
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Apply(ctx, req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := store.Queries().ListAllLedgerEntries(ctx, sellerID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	wallet, err := ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(7_50), wallet.AvailableBalance)
}

func TestLedgerListEntriesPaginates(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	for i := 0; i < 5; i++ {
		fundWallet(t, svc.ledger, sellerID, domain.Money(1_00))
	}

	first, err := svc.ledger.ListEntries(ctx, sellerID, 2, "")
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ledger.ListEntries(ctx, sellerID, 2, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Items, 2)

	third, err := svc.ledger.ListEntries(ctx, sellerID, 2, second.NextCursor)
	require.NoError(t, err)
	require.Len(t, third.Items, 1)
	assert.Empty(t, third.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, page := range [][]models.LedgerEntry{first.Items, second.Items, third.Items} {
		for _, e := range page {
			assert.False(t, seen[e.ID])
			seen[e.ID] = true
		}
	}
	assert.Len(t, seen, 5)
}
