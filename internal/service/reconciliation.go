package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/ayo6706/seller-ledger/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// snapshotAttempts bounds how often a wallet is re-read while concurrent
// ledger writes keep moving its version.
const snapshotAttempts = 3

const (
	checkBalanceEquation = "balance_equation"
	checkLedgerFold      = "ledger_fold"
	checkVersion         = "version"
)

// ReconciliationService verifies wallet integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

type WalletViolation struct {
	SellerID uuid.UUID `json:"seller_id"`
	Check    string    `json:"check"`
	Detail   string    `json:"detail"`
}

type ReconciliationReport struct {
	WalletsChecked int               `json:"wallets_checked"`
	WalletsSkipped int               `json:"wallets_skipped"`
	Violations     []WalletViolation `json:"violations"`
	FlaggedOrders  int64             `json:"flagged_orders"`
}

// Run checks every wallet against the balance equation and against the fold
// of its ledger entries, and refreshes the repair queue gauge.
func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	queries := s.store.Queries()
	wallets, err := queries.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	report := &ReconciliationReport{}
	for _, listed := range wallets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, entries, stable, err := s.snapshot(ctx, listed.SellerID)
		if err != nil {
			return nil, err
		}
		if !stable {
			report.WalletsSkipped++
			zap.L().Warn("wallet kept changing during reconciliation, skipped",
				zap.String("seller_id", listed.SellerID.String()),
			)
			continue
		}
		report.WalletsChecked++
		for _, v := range checkWallet(w, entries) {
			observability.IncrementInvariantViolation(v.Check)
			zap.L().Error("CRITICAL: wallet invariant violated",
				zap.String("seller_id", v.SellerID.String()),
				zap.String("check", v.Check),
				zap.String("detail", v.Detail),
			)
			report.Violations = append(report.Violations, v)
		}
	}

	flagged, err := queries.CountOrdersNeedingReconciliation(ctx)
	if err != nil {
		return nil, fmt.Errorf("count flagged orders: %w", err)
	}
	report.FlaggedOrders = flagged
	observability.SetReconciliationQueueSize(flagged)

	if len(report.Violations) == 0 {
		zap.L().Info("wallets balanced",
			zap.Int("wallets", report.WalletsChecked),
			zap.Int64("flagged_orders", flagged),
		)
	}
	return report, nil
}

// snapshot reads a wallet together with a ledger listing that matches it. The
// wallet version moves in the same transaction as every entry append, so an
// unchanged version on both sides of the entry read means no apply committed
// in between. stable is false when every attempt raced a writer.
func (s *ReconciliationService) snapshot(ctx context.Context, sellerID uuid.UUID) (models.Wallet, []models.LedgerEntry, bool, error) {
	queries := s.store.Queries()
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		before, err := queries.GetWallet(ctx, sellerID)
		if err != nil {
			return models.Wallet{}, nil, false, fmt.Errorf("read wallet %s: %w", sellerID, err)
		}
		entries, err := queries.ListAllLedgerEntries(ctx, sellerID)
		if err != nil {
			return models.Wallet{}, nil, false, fmt.Errorf("list ledger entries for %s: %w", sellerID, err)
		}
		after, err := queries.GetWallet(ctx, sellerID)
		if err != nil {
			return models.Wallet{}, nil, false, fmt.Errorf("read wallet %s: %w", sellerID, err)
		}
		if before.Version == after.Version {
			return after, entries, true, nil
		}
	}
	return models.Wallet{}, nil, false, nil
}

func checkWallet(w models.Wallet, entries []models.LedgerEntry) []WalletViolation {
	var out []WalletViolation
	violation := func(check, format string, args ...any) {
		out = append(out, WalletViolation{SellerID: w.SellerID, Check: check, Detail: fmt.Sprintf(format, args...)})
	}

	if !w.Balanced() {
		violation(checkBalanceEquation, "available %s + held %s + withdrawn %s != earnings %s",
			w.AvailableBalance, w.HeldForPendingWithdrawals, w.TotalWithdrawn, w.TotalEarnings)
	}

	folded := models.Wallet{SellerID: w.SellerID}
	for _, e := range entries {
		foldEntry(&folded, e)
	}
	if folded.AvailableBalance != w.AvailableBalance ||
		folded.HeldForPendingWithdrawals != w.HeldForPendingWithdrawals ||
		folded.TotalEarnings != w.TotalEarnings ||
		folded.TotalWithdrawn != w.TotalWithdrawn ||
		folded.LifetimeRevenue != w.LifetimeRevenue {
		violation(checkLedgerFold, "wallet {available %s held %s earnings %s withdrawn %s revenue %s} ledger {available %s held %s earnings %s withdrawn %s revenue %s}",
			w.AvailableBalance, w.HeldForPendingWithdrawals, w.TotalEarnings, w.TotalWithdrawn, w.LifetimeRevenue,
			folded.AvailableBalance, folded.HeldForPendingWithdrawals, folded.TotalEarnings, folded.TotalWithdrawn, folded.LifetimeRevenue)
	}

	if w.Version != int64(len(entries)) {
		violation(checkVersion, "version %d but %d ledger entries", w.Version, len(entries))
	}
	return out
}

// foldEntry adds one entry's effect without precondition checks. The sums do
// not depend on entry order.
func foldEntry(w *models.Wallet, e models.LedgerEntry) {
	a := e.Amount
	switch {
	case e.Type == domain.LedgerEntryCredit:
		w.AvailableBalance += a
		w.TotalEarnings += a
		w.LifetimeRevenue += a
	case e.Type == domain.LedgerEntryDebit && e.ReferenceType == domain.ReferenceOrder:
		w.AvailableBalance -= a
		w.TotalEarnings -= a
	case e.Type == domain.LedgerEntryHold:
		w.AvailableBalance -= a
		w.HeldForPendingWithdrawals += a
	case e.Type == domain.LedgerEntryRelease:
		w.AvailableBalance += a
		w.HeldForPendingWithdrawals -= a
	case e.Type == domain.LedgerEntryDebit && e.ReferenceType == domain.ReferenceWithdrawal:
		w.HeldForPendingWithdrawals -= a
		w.TotalWithdrawn += a
	}
}
