package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/ayo6706/seller-ledger/internal/observability"
	"github.com/ayo6706/seller-ledger/internal/pagination"
	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxNoteLength = 500

var openWithdrawalStatuses = []domain.WithdrawalStatus{
	domain.WithdrawalStatusPending,
	domain.WithdrawalStatusProcessing,
}

// WithdrawalConfig holds the commercial terms applied to new requests.
type WithdrawalConfig struct {
	CommissionRatePercent decimal.Decimal
	MinWithdrawal         domain.Money
}

// WithdrawalService runs the request, review and settlement of seller withdrawals.
// Funds move available -> held on request, then held -> withdrawn on approval or
// back to available on rejection or cancellation.
type WithdrawalService struct {
	store  QueryStore
	ledger *LedgerService
	audit  *AuditService
	cfg    WithdrawalConfig
	now    func() time.Time
}

func NewWithdrawalService(store QueryStore, ledger *LedgerService, cfg WithdrawalConfig) *WithdrawalService {
	return &WithdrawalService{
		store:  store,
		ledger: ledger,
		audit:  NewAuditService(),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type CreateWithdrawalRequest struct {
	SellerID uuid.UUID
	Amount   domain.Money
	Note     string
}

// Request places a hold for the amount and records the request in the same transaction.
func (s *WithdrawalService) Request(ctx context.Context, req CreateWithdrawalRequest) (*models.WithdrawalRequest, error) {
	if req.SellerID == uuid.Nil {
		return nil, domain.Validationf("seller id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.Validationf("amount must be greater than zero")
	}
	if req.Amount < s.cfg.MinWithdrawal {
		return nil, domain.Validationf("minimum withdrawal is %s", s.cfg.MinWithdrawal)
	}
	if utf8.RuneCountInString(req.Note) > maxNoteLength {
		return nil, domain.Validationf("note must be at most %d characters", maxNoteLength)
	}
	breakdown, err := domain.ComputeBreakdown(req.Amount, s.cfg.CommissionRatePercent)
	if err != nil {
		return nil, err
	}

	wallet, err := s.ledger.GetWallet(ctx, req.SellerID)
	if err != nil {
		return nil, err
	}
	if wallet.AvailableBalance < req.Amount {
		return nil, fmt.Errorf("%w: available %s, requested %s", domain.ErrInsufficientBalance, wallet.AvailableBalance, req.Amount)
	}

	ts := s.now()
	wr := models.WithdrawalRequest{
		ID:              uuid.New(),
		SellerID:        req.SellerID,
		AmountRequested: req.Amount,
		Breakdown:       breakdown,
		Status:          domain.WithdrawalStatusPending,
		SellerNote:      req.Note,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	metadata, err := json.Marshal(breakdown)
	if err != nil {
		return nil, fmt.Errorf("encode breakdown: %w", err)
	}

	_, err = s.ledger.Apply(ctx, ApplyRequest{
		SellerID:      req.SellerID,
		ReferenceID:   wr.ID,
		ReferenceType: domain.ReferenceWithdrawal,
		Type:          domain.LedgerEntryHold,
		Amount:        req.Amount,
		InTx: func(ctx context.Context, qtx repository.Querier, _ models.LedgerEntry) error {
			if err := qtx.InsertWithdrawal(ctx, wr); err != nil {
				return fmt.Errorf("insert withdrawal request: %w", err)
			}
			return s.audit.Write(ctx, qtx, domain.EntityWithdrawal, wr.ID, &req.SellerID, "requested", "", string(wr.Status), metadata)
		},
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("withdrawal requested",
		zap.String("withdrawal_id", wr.ID.String()),
		zap.String("seller_id", wr.SellerID.String()),
		zap.String("amount", wr.AmountRequested.String()),
	)
	return &wr, nil
}

type DecideWithdrawalRequest struct {
	RequestID uuid.UUID
	Decision  domain.WithdrawalStatus
	AdminID   uuid.UUID
	AdminNote string
}

// Decide settles an open request. Approval pays out the held funds; rejection
// and cancellation release them. A request can be decided once.
func (s *WithdrawalService) Decide(ctx context.Context, req DecideWithdrawalRequest) (*models.WithdrawalRequest, error) {
	var entryType domain.LedgerEntryType
	switch req.Decision {
	case domain.WithdrawalStatusApproved:
		entryType = domain.LedgerEntryDebit
	case domain.WithdrawalStatusRejected, domain.WithdrawalStatusCancelled:
		entryType = domain.LedgerEntryRelease
	default:
		return nil, domain.Validationf("decision must be approved, rejected or cancelled")
	}
	if utf8.RuneCountInString(req.AdminNote) > maxNoteLength {
		return nil, domain.Validationf("note must be at most %d characters", maxNoteLength)
	}

	wr, err := s.store.Queries().GetWithdrawal(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if wr.Status.IsTerminal() {
		return nil, domain.ErrAlreadyDecided
	}
	return s.settle(ctx, wr, req.Decision, entryType, req.AdminID, textParam(req.AdminNote), openWithdrawalStatuses, "decided", "")
}

// MarkProcessing records that an admin has picked up a pending request.
func (s *WithdrawalService) MarkProcessing(ctx context.Context, requestID, adminID uuid.UUID) (*models.WithdrawalRequest, error) {
	wr, err := s.store.Queries().GetWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if wr.Status.IsTerminal() {
		return nil, domain.ErrAlreadyDecided
	}
	if wr.Status != domain.WithdrawalStatusPending {
		return nil, domain.InvalidTransitionf(wr.Status, domain.WithdrawalStatusProcessing)
	}

	ts := s.now()
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		rows, err := qtx.UpdateWithdrawalStatus(ctx, repository.UpdateWithdrawalStatusParams{
			ID:        wr.ID,
			From:      []domain.WithdrawalStatus{domain.WithdrawalStatusPending},
			To:        domain.WithdrawalStatusProcessing,
			UpdatedAt: ts,
		})
		if err != nil {
			return fmt.Errorf("mark withdrawal processing: %w", err)
		}
		if rows == 0 {
			return domain.ErrConcurrentModification
		}
		return s.audit.Write(ctx, qtx, domain.EntityWithdrawal, wr.ID, &adminID, "processing_started", string(wr.Status), string(domain.WithdrawalStatusProcessing), nil)
	})
	if errors.Is(err, domain.ErrConcurrentModification) {
		return nil, s.staleOutcome(ctx, wr.ID, err)
	}
	if err != nil {
		return nil, err
	}
	wr.Status = domain.WithdrawalStatusProcessing
	wr.UpdatedAt = ts
	return &wr, nil
}

// CancelOwn lets a seller withdraw their own request while it is still pending.
func (s *WithdrawalService) CancelOwn(ctx context.Context, sellerID, requestID uuid.UUID, note string) (*models.WithdrawalRequest, error) {
	if utf8.RuneCountInString(note) > maxNoteLength {
		return nil, domain.Validationf("note must be at most %d characters", maxNoteLength)
	}
	wr, err := s.store.Queries().GetWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if wr.SellerID != sellerID {
		return nil, domain.ErrNotFound
	}
	if wr.Status.IsTerminal() {
		return nil, domain.ErrAlreadyDecided
	}
	if wr.Status != domain.WithdrawalStatusPending {
		return nil, domain.InvalidTransitionf(wr.Status, domain.WithdrawalStatusCancelled)
	}
	return s.settle(ctx, wr, domain.WithdrawalStatusCancelled, domain.LedgerEntryRelease, sellerID, nil,
		[]domain.WithdrawalStatus{domain.WithdrawalStatusPending}, "cancelled_by_seller", note)
}

// settle writes the ledger entry and the terminal status in one transaction. The
// status update only matches a request still in one of from, so two racing
// decisions cannot both commit.
func (s *WithdrawalService) settle(ctx context.Context, wr models.WithdrawalRequest, decision domain.WithdrawalStatus, entryType domain.LedgerEntryType, actorID uuid.UUID, adminNote *string, from []domain.WithdrawalStatus, action, note string) (*models.WithdrawalRequest, error) {
	decidedAt := s.now()
	var metadata []byte
	if note != "" {
		var err error
		if metadata, err = json.Marshal(map[string]string{"note": note}); err != nil {
			return nil, fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	res, err := s.ledger.Apply(ctx, ApplyRequest{
		SellerID:      wr.SellerID,
		ReferenceID:   wr.ID,
		ReferenceType: domain.ReferenceWithdrawal,
		Type:          entryType,
		Amount:        wr.AmountRequested,
		InTx: func(ctx context.Context, qtx repository.Querier, _ models.LedgerEntry) error {
			rows, err := qtx.UpdateWithdrawalStatus(ctx, repository.UpdateWithdrawalStatusParams{
				ID:        wr.ID,
				From:      from,
				To:        decision,
				AdminNote: adminNote,
				DecidedBy: &actorID,
				DecidedAt: &decidedAt,
				UpdatedAt: decidedAt,
			})
			if err != nil {
				return fmt.Errorf("update withdrawal status: %w", err)
			}
			if rows == 0 {
				return domain.ErrAlreadyDecided
			}
			return s.audit.Write(ctx, qtx, domain.EntityWithdrawal, wr.ID, &actorID, action, string(wr.Status), string(decision), metadata)
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyDecided) {
			return nil, err
		}
		return nil, s.staleOutcome(ctx, wr.ID, err)
	}
	if res.Replayed {
		return nil, domain.ErrAlreadyDecided
	}

	observability.IncrementWithdrawalDecision(string(decision))
	zap.L().Info("withdrawal settled",
		zap.String("withdrawal_id", wr.ID.String()),
		zap.String("seller_id", wr.SellerID.String()),
		zap.String("decision", string(decision)),
	)

	wr.Status = decision
	if adminNote != nil {
		wr.AdminNote = *adminNote
	}
	wr.DecidedBy = &actorID
	wr.DecidedAt = &decidedAt
	wr.UpdatedAt = decidedAt
	return &wr, nil
}

// staleOutcome maps a failure to ErrAlreadyDecided when a concurrent decision
// settled the request first.
func (s *WithdrawalService) staleOutcome(ctx context.Context, id uuid.UUID, cause error) error {
	latest, err := s.store.Queries().GetWithdrawal(ctx, id)
	if err == nil && latest.Status.IsTerminal() {
		return domain.ErrAlreadyDecided
	}
	return cause
}

// Get returns a single withdrawal request.
func (s *WithdrawalService) Get(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	wr, err := s.store.Queries().GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	return &wr, nil
}

type ListWithdrawalsRequest struct {
	// SellerID scopes the listing; nil lists across sellers.
	SellerID *uuid.UUID
	Status   string
	Limit    int
	Cursor   string
}

// List pages through withdrawal requests, newest first.
func (s *WithdrawalService) List(ctx context.Context, req ListWithdrawalsRequest) (pagination.Page[models.WithdrawalRequest], error) {
	params := repository.ListWithdrawalsParams{
		SellerID: req.SellerID,
		Limit:    int32(pagination.LimitWithBuffer(req.Limit)),
	}
	if req.Status != "" {
		status, err := domain.ParseWithdrawalStatus(req.Status)
		if err != nil {
			return pagination.Page[models.WithdrawalRequest]{}, err
		}
		params.Status = &status
	}
	after, err := pagination.ParseCursor(req.Cursor)
	if err != nil {
		return pagination.Page[models.WithdrawalRequest]{}, err
	}
	params.After = repoCursor(after)

	rows, err := s.store.Queries().ListWithdrawals(ctx, params)
	if err != nil {
		return pagination.Page[models.WithdrawalRequest]{}, fmt.Errorf("list withdrawals: %w", err)
	}
	return pagination.Build(rows, req.Limit, func(wr models.WithdrawalRequest) pagination.Cursor {
		return pagination.Cursor{CreatedAt: wr.CreatedAt, ID: wr.ID}
	}), nil
}
