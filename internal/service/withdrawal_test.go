package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawalRequestHoldsFunds(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	fundWallet(t, svc.ledger, sellerID, domain.Money(1500_00))

	wr, err := svc.withdrawals.Request(ctx, CreateWithdrawalRequest{
		SellerID: sellerID,
		Amount:   domain.Money(1000_00),
		Note:     "monthly payout",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusPending, wr.Status)
	assert.Equal(t, domain.Money(100_00), wr.Breakdown.CommissionAmount)
	assert.Equal(t, domain.Money(18_00), wr.Breakdown.GSTOnCommission)
	assert.Equal(t, domain.Money(882_00), wr.Breakdown.NetPayable)

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(500_00), wallet.AvailableBalance)
	assert.Equal(t, domain.Money(1000_00), wallet.HeldForPendingWithdrawals)
	assert.True(t, wallet.Balanced())

	stored, err := svc.withdrawals.Get(ctx, wr.ID)
	require.NoError(t, err)
	assert.Equal(t, wr.Breakdown.NetPayable, stored.Breakdown.NetPayable)

	hold, err := svc.ledger.FindEntry(ctx, sellerID, wr.ID, domain.LedgerEntryHold)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(1000_00), hold.Amount)
}

func TestWithdrawalRequestValidation(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	fundWallet(t, svc.ledger, sellerID, domain.Money(300_00))

	cases := []struct {
		name string
		req  CreateWithdrawalRequest
		want error
	}{
		{name: "below minimum", req: CreateWithdrawalRequest{SellerID: sellerID, Amount: domain.Money(99_99)}, want: domain.ErrValidation},
		{name: "zero", req: CreateWithdrawalRequest{SellerID: sellerID}, want: domain.ErrValidation},
		{name: "note too long", req: CreateWithdrawalRequest{SellerID: sellerID, Amount: domain.Money(100_00), Note: strings.Repeat("x", 501)}, want: domain.ErrValidation},
		{name: "over available", req: CreateWithdrawalRequest{SellerID: sellerID, Amount: domain.Money(300_01)}, want: domain.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.withdrawals.Request(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(300_00), wallet.AvailableBalance)
	assert.Equal(t, domain.Money(0), wallet.HeldForPendingWithdrawals)
}

func TestWithdrawalApproveMovesHeldToWithdrawn(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID, adminID := uuid.New(), uuid.New()
	fundWallet(t, svc.ledger, sellerID, domain.Money(1000_00))

	wr, err := svc.withdrawals.Request(ctx, CreateWithdrawalRequest{SellerID: sellerID, Amount: domain.Money(400_00)})
	require.NoError(t, err)

	decided, err := svc.withdrawals.Decide(ctx, DecideWithdrawalRequest{
		RequestID: wr.ID,
		Decision:  domain.WithdrawalStatusApproved,
		AdminID:   adminID,
		AdminNote: "paid",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusApproved, decided.Status)
	require.NotNil(t, decided.DecidedBy)
	assert.Equal(t, adminID, *decided.DecidedBy)
	assert.Equal(t, "paid", decided.AdminNote)

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(600_00), wallet.AvailableBalance)
	assert.Equal(t, domain.Money(0), wallet.HeldForPendingWithdrawals)
	assert.Equal(t, domain.Money(400_00), wallet.TotalWithdrawn)
	assert.True(t, wallet.Balanced())

	_, err = svc.withdrawals.Decide(ctx, DecideWithdrawalRequest{
		RequestID: wr.ID,
		Decision:  domain.WithdrawalStatusRejected,
		AdminID:   adminID,
	})
	require.ErrorIs(t, err, domain.ErrAlreadyDecided)
}

func TestWithdrawalRejectReleasesHold(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID, adminID := uuid.New(), uuid.New()
	fundWallet(t, svc.ledger, sellerID, domain.Money(500_00))

	wr, err := svc.withdrawals.Request(ctx, CreateWithdrawalRequest{SellerID: sellerID, Amount: domain.Money(500_00)})
	require.NoError(t, err)

	_, err = svc.withdrawals.MarkProcessing(ctx, wr.ID, adminID)
	require.NoError(t, err)

	decided, err := svc.withdrawals.Decide(ctx, DecideWithdrawalRequest{
		RequestID: wr.ID,
		Decision:  domain.WithdrawalStatusRejected,
		AdminID:   adminID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusRejected, decided.Status)

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(500_00), wallet.AvailableBalance)
	assert.Equal(t, domain.Money(0), wallet.HeldForPendingWithdrawals)
	assert.Equal(t, domain.Money(0), wallet.TotalWithdrawn)
}

func TestWithdrawalDecideRejectsUnknownDecision(t *testing.T) {
	svc := setupServices(t)

	_, err := svc.withdrawals.Decide(context.Background(), DecideWithdrawalRequest{
		RequestID: uuid.New(),
		Decision:  domain.WithdrawalStatusPending,
		AdminID:   uuid.New(),
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestWithdrawalConcurrentRequestsCannotOverdraw(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	fundWallet(t, svc.ledger, sellerID, domain.Money(1000_00))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  []error
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.withdrawals.Request(ctx, CreateWithdrawalRequest{SellerID: sellerID, Amount: domain.Money(600_00)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			refused = append(refused, err)
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, accepted)
	require.Len(t, refused, 1)
	assert.ErrorIs(t, refused[0], domain.ErrInsufficientBalance)

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(600_00), wallet.HeldForPendingWithdrawals)
	assert.Equal(t, domain.Money(400_00), wallet.AvailableBalance)
	assert.True(t, wallet.Balanced())
}

func TestWithdrawalConcurrentDecisionsSettleOnce(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	fundWallet(t, svc.ledger, sellerID, domain.Money(800_00))

	wr, err := svc.withdrawals.Request(ctx, CreateWithdrawalRequest{SellerID: sellerID, Amount: domain.Money(800_00)})
	require.NoError(t, err)

	decisions := []domain.WithdrawalStatus{
		domain.WithdrawalStatusApproved,
		domain.WithdrawalStatusRejected,
		domain.WithdrawalStatusApproved,
		domain.WithdrawalStatusCancelled,
	}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, decision := range decisions {
		wg.Add(1)
		go func(decision domain.WithdrawalStatus) {
			defer wg.Done()
			_, err := svc.withdrawals.Decide(ctx, DecideWithdrawalRequest{
				RequestID: wr.ID,
				Decision:  decision,
				AdminID:   uuid.New(),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
		}(decision)
	}
	wg.Wait()
	require.Equal(t, 1, successes)

	stored, err := svc.withdrawals.Get(ctx, wr.ID)
	require.NoError(t, err)
	require.True(t, stored.Status.IsTerminal())

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.True(t, wallet.Balanced())
	assert.Equal(t, domain.Money(0), wallet.HeldForPendingWithdrawals)
	if stored.Status == domain.WithdrawalStatusApproved {
		assert.Equal(t, domain.Money(800_00), wallet.TotalWithdrawn)
	} else {
		assert.Equal(t, domain.Money(800_00), wallet.AvailableBalance)
	}
}

func TestWithdrawalCancelOwn(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	fundWallet(t, svc.ledger, sellerID, domain.Money(200_00))

	wr, err := svc.withdrawals.Request(ctx, CreateWithdrawalRequest{SellerID: sellerID, Amount: domain.Money(150_00)})
	require.NoError(t, err)

	_, err = svc.withdrawals.CancelOwn(ctx, uuid.New(), wr.ID, "")
	require.ErrorIs(t, err, domain.ErrNotFound)

	cancelled, err := svc.withdrawals.CancelOwn(ctx, sellerID, wr.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusCancelled, cancelled.Status)

	wallet, err := svc.ledger.GetWallet(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(200_00), wallet.AvailableBalance)

	history, err := NewAuditService().History(ctx, svc.store.Queries(), domain.EntityWithdrawal, wr.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, "cancelled_by_seller", last.Action)
	assert.JSONEq(t, `{"note":"changed my mind"}`, string(last.Metadata))

	_, err = svc.withdrawals.CancelOwn(ctx, sellerID, wr.ID, "")
	require.ErrorIs(t, err, domain.ErrAlreadyDecided)
}

func TestWithdrawalCancelOwnRequiresPending(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerID := uuid.New()
	fundWallet(t, svc.ledger, sellerID, domain.Money(200_00))

	wr, err := svc.withdrawals.Request(ctx, CreateWithdrawalRequest{SellerID: sellerID, Amount: domain.Money(150_00)})
	require.NoError(t, err)
	_, err = svc.withdrawals.MarkProcessing(ctx, wr.ID, uuid.New())
	require.NoError(t, err)

	_, err = svc.withdrawals.CancelOwn(ctx, sellerID, wr.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestWithdrawalListFiltersAndPaginates(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	sellerA, sellerB := uuid.New(), uuid.New()
	fundWallet(t, svc.ledger, sellerA, domain.Money(1000_00))
	fundWallet(t, svc.ledger, sellerB, domain.Money(1000_00))

	for i := 0; i < 3; i++ {
		_, err := svc.withdrawals.Request(ctx, CreateWithdrawalRequest{SellerID: sellerA, Amount: domain.Money(100_00)})
		require.NoError(t, err)
	}
	other, err := svc.withdrawals.Request(ctx, CreateWithdrawalRequest{SellerID: sellerB, Amount: domain.Money(100_00)})
	require.NoError(t, err)
	_, err = svc.withdrawals.Decide(ctx, DecideWithdrawalRequest{RequestID: other.ID, Decision: domain.WithdrawalStatusApproved, AdminID: uuid.New()})
	require.NoError(t, err)

	page, err := svc.withdrawals.List(ctx, ListWithdrawalsRequest{SellerID: &sellerA, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	for _, wr := range page.Items {
		assert.Equal(t, sellerA, wr.SellerID)
	}

	rest, err := svc.withdrawals.List(ctx, ListWithdrawalsRequest{SellerID: &sellerA, Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)

	approved, err := svc.withdrawals.List(ctx, ListWithdrawalsRequest{Status: "approved"})
	require.NoError(t, err)
	require.Len(t, approved.Items, 1)
	assert.Equal(t, other.ID, approved.Items[0].ID)

	_, err = svc.withdrawals.List(ctx, ListWithdrawalsRequest{Status: "paid"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.withdrawals.List(ctx, ListWithdrawalsRequest{Cursor: "not-a-cursor!"})
	require.ErrorIs(t, err, domain.ErrValidation)
}
