package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/ayo6706/seller-ledger/internal/observability"
	"github.com/ayo6706/seller-ledger/internal/pagination"
	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var defaultLedgerRetry = RetryPolicy{
	MaxAttempts:    5,
	InitialBackoff: 10 * time.Millisecond,
	MaximumBackoff: 500 * time.Millisecond,
}

var (
	errVersionConflict = errors.New("wallet version changed")
	errEntryExists     = errors.New("ledger entry already exists")
)

// ApplyRequest describes one balance-affecting event.
type ApplyRequest struct {
	SellerID      uuid.UUID
	ReferenceID   uuid.UUID
	ReferenceType domain.ReferenceType
	Type          domain.LedgerEntryType
	Amount        domain.Money
	// InTx runs inside the transaction that appends the entry. An error aborts the apply.
	InTx func(ctx context.Context, qtx repository.Querier, entry models.LedgerEntry) error
}

type ApplyResult struct {
	Entry  models.LedgerEntry
	Wallet models.Wallet
	// Replayed is set when the entry already existed and nothing was written.
	Replayed bool
}

// LedgerService appends ledger entries and keeps the wallet aggregate in step
// using optimistic concurrency on the wallet version.
type LedgerService struct {
	store QueryStore
	retry RetryPolicy
	now   func() time.Time
}

func NewLedgerService(store QueryStore, retry RetryPolicy) *LedgerService {
	return &LedgerService{
		store: store,
		retry: retry.normalize(defaultLedgerRetry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Apply records the entry exactly once per (seller, reference, type). A repeat
// returns the original entry unchanged with Replayed set.
func (s *LedgerService) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if req.SellerID == uuid.Nil || req.ReferenceID == uuid.Nil {
		return nil, domain.Validationf("seller id and reference id are required")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.Validationf("ledger amount must be greater than zero")
	}

	queries := s.store.Queries()
	for attempt := 1; ; attempt++ {
		prior, err := queries.GetLedgerEntryByReference(ctx, req.SellerID, req.ReferenceID, req.Type)
		if err == nil {
			observability.IncrementLedgerEntry(string(req.Type), "replayed")
			wallet, werr := s.GetWallet(ctx, req.SellerID)
			if werr != nil {
				return nil, werr
			}
			return &ApplyResult{Entry: prior, Wallet: wallet, Replayed: true}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("lookup ledger entry: %w", err)
		}

		current, err := s.loadWallet(ctx, queries, req.SellerID)
		if err != nil {
			return nil, err
		}
		next, err := applyEffect(current, req.Type, req.ReferenceType, req.Amount)
		if err != nil {
			observability.IncrementLedgerEntry(string(req.Type), "rejected")
			return nil, err
		}
		ts := s.now()
		next.UpdatedAt = ts
		entry := models.LedgerEntry{
			ID:            uuid.New(),
			SellerID:      req.SellerID,
			ReferenceID:   req.ReferenceID,
			ReferenceType: req.ReferenceType,
			Type:          req.Type,
			Amount:        req.Amount,
			BalanceAfter:  next.AvailableBalance,
			CreatedAt:     ts,
		}

		err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
			rows, err := qtx.SaveWalletIfVersion(ctx, next, current.Version)
			if err != nil {
				return fmt.Errorf("save wallet: %w", err)
			}
			if rows == 0 {
				return errVersionConflict
			}
			if err := qtx.InsertLedgerEntry(ctx, entry); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return errEntryExists
				}
				return fmt.Errorf("insert ledger entry: %w", err)
			}
			if req.InTx != nil {
				return req.InTx(ctx, qtx, entry)
			}
			return nil
		})
		if err == nil {
			observability.IncrementLedgerEntry(string(req.Type), "applied")
			return &ApplyResult{Entry: entry, Wallet: next}, nil
		}
		// Serialization failures and deadlocks surface as ErrConcurrentModification
		// and are retried like a lost version check.
		if !errors.Is(err, errVersionConflict) && !errors.Is(err, errEntryExists) &&
			!errors.Is(err, domain.ErrConcurrentModification) {
			return nil, err
		}

		observability.IncrementVersionConflict()
		if attempt >= s.retry.MaxAttempts {
			zap.L().Warn("ledger apply exhausted retries",
				zap.String("seller_id", req.SellerID.String()),
				zap.String("reference_id", req.ReferenceID.String()),
				zap.String("type", string(req.Type)),
				zap.Int("attempt", attempt),
			)
			return nil, fmt.Errorf("%w: wallet %s after %d attempts", domain.ErrConcurrentModification, req.SellerID, attempt)
		}
		if !errors.Is(err, errEntryExists) {
			if err := sleep(ctx, s.retry.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
}

// FindEntry returns the entry recorded for the idempotency key, or domain.ErrNotFound.
func (s *LedgerService) FindEntry(ctx context.Context, sellerID, referenceID uuid.UUID, entryType domain.LedgerEntryType) (models.LedgerEntry, error) {
	return s.store.Queries().GetLedgerEntryByReference(ctx, sellerID, referenceID, entryType)
}

// GetWallet returns the seller's wallet. A seller with no activity has a zero wallet.
func (s *LedgerService) GetWallet(ctx context.Context, sellerID uuid.UUID) (models.Wallet, error) {
	return s.loadWallet(ctx, s.store.Queries(), sellerID)
}

// ListEntries pages through a seller's ledger, newest first.
func (s *LedgerService) ListEntries(ctx context.Context, sellerID uuid.UUID, limit int, cursor string) (pagination.Page[models.LedgerEntry], error) {
	after, err := pagination.ParseCursor(cursor)
	if err != nil {
		return pagination.Page[models.LedgerEntry]{}, err
	}
	rows, err := s.store.Queries().ListLedgerEntries(ctx, repository.ListLedgerEntriesParams{
		SellerID: sellerID,
		After:    repoCursor(after),
		Limit:    int32(pagination.LimitWithBuffer(limit)),
	})
	if err != nil {
		return pagination.Page[models.LedgerEntry]{}, fmt.Errorf("list ledger entries: %w", err)
	}
	return pagination.Build(rows, limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}

func (s *LedgerService) loadWallet(ctx context.Context, q repository.Querier, sellerID uuid.UUID) (models.Wallet, error) {
	w, err := q.GetWallet(ctx, sellerID)
	if errors.Is(err, domain.ErrNotFound) {
		return models.Wallet{SellerID: sellerID}, nil
	}
	if err != nil {
		return models.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// applyEffect returns the wallet after the entry, or why the entry cannot apply.
func applyEffect(w models.Wallet, entryType domain.LedgerEntryType, refType domain.ReferenceType, amount domain.Money) (models.Wallet, error) {
	next := w
	switch {
	case entryType == domain.LedgerEntryCredit && refType == domain.ReferenceOrder:
		next.AvailableBalance += amount
		next.TotalEarnings += amount
		next.LifetimeRevenue += amount
	case entryType == domain.LedgerEntryDebit && refType == domain.ReferenceOrder:
		if w.AvailableBalance < amount {
			return w, fmt.Errorf("%w: available %s, debit %s", domain.ErrInsufficientBalance, w.AvailableBalance, amount)
		}
		next.AvailableBalance -= amount
		next.TotalEarnings -= amount
	case entryType == domain.LedgerEntryHold && refType == domain.ReferenceWithdrawal:
		if w.AvailableBalance < amount {
			return w, fmt.Errorf("%w: available %s, requested %s", domain.ErrInsufficientBalance, w.AvailableBalance, amount)
		}
		next.AvailableBalance -= amount
		next.HeldForPendingWithdrawals += amount
	case entryType == domain.LedgerEntryRelease && refType == domain.ReferenceWithdrawal:
		if w.HeldForPendingWithdrawals < amount {
			return w, fmt.Errorf("%w: held %s, release %s", domain.ErrInsufficientBalance, w.HeldForPendingWithdrawals, amount)
		}
		next.HeldForPendingWithdrawals -= amount
		next.AvailableBalance += amount
	case entryType == domain.LedgerEntryDebit && refType == domain.ReferenceWithdrawal:
		if w.HeldForPendingWithdrawals < amount {
			return w, fmt.Errorf("%w: held %s, debit %s", domain.ErrInsufficientBalance, w.HeldForPendingWithdrawals, amount)
		}
		next.HeldForPendingWithdrawals -= amount
		next.TotalWithdrawn += amount
	default:
		return w, domain.Validationf("%s entries are not valid for %s references", entryType, refType)
	}
	next.Version = w.Version + 1
	return next, nil
}

func repoCursor(c *pagination.Cursor) *repository.Cursor {
	if c == nil {
		return nil
	}
	return &repository.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
}
