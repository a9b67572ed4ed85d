package repository

import (
	"context"
	"time"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/google/uuid"
)

// Querier is the data access contract shared by the Postgres and in-memory stores.
type Querier interface {
	GetWallet(ctx context.Context, sellerID uuid.UUID) (models.Wallet, error)
	ListWallets(ctx context.Context) ([]models.Wallet, error)
	// SaveWalletIfVersion writes w only if the stored version equals expectedVersion.
	// An expectedVersion of zero inserts a wallet that must not exist yet.
	SaveWalletIfVersion(ctx context.Context, w models.Wallet, expectedVersion int64) (int64, error)

	InsertLedgerEntry(ctx context.Context, arg models.LedgerEntry) error
	GetLedgerEntryByReference(ctx context.Context, sellerID, referenceID uuid.UUID, entryType domain.LedgerEntryType) (models.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, arg ListLedgerEntriesParams) ([]models.LedgerEntry, error)
	ListAllLedgerEntries(ctx context.Context, sellerID uuid.UUID) ([]models.LedgerEntry, error)

	InsertOrder(ctx context.Context, arg models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error)
	UpdateOrderStatusIfCurrent(ctx context.Context, arg UpdateOrderStatusParams) (int64, error)
	SetOrderReconciliation(ctx context.Context, arg SetOrderReconciliationParams) error
	ListOrdersNeedingReconciliation(ctx context.Context, limit int32) ([]models.Order, error)
	CountOrdersNeedingReconciliation(ctx context.Context) (int64, error)

	UpsertSellerOrder(ctx context.Context, arg models.SellerOrder) error
	GetSellerOrder(ctx context.Context, sellerID, orderID uuid.UUID) (models.SellerOrder, error)
	ListSellerOrders(ctx context.Context, arg ListSellerOrdersParams) ([]models.SellerOrder, error)

	InsertWithdrawal(ctx context.Context, arg models.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error)
	UpdateWithdrawalStatus(ctx context.Context, arg UpdateWithdrawalStatusParams) (int64, error)
	ListWithdrawals(ctx context.Context, arg ListWithdrawalsParams) ([]models.WithdrawalRequest, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error
	ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditLog, error)

	GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error)
	ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) error
}

var _ Querier = (*Queries)(nil)

// Cursor is a keyset position in a created_at DESC, id DESC listing.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type ListLedgerEntriesParams struct {
	SellerID uuid.UUID
	After    *Cursor
	Limit    int32
}

type UpdateOrderStatusParams struct {
	ID                 uuid.UUID
	From               domain.OrderStatus
	To                 domain.OrderStatus
	CancellationReason *string
	DeliveredAt        *time.Time
	UpdatedAt          time.Time
}

type SetOrderReconciliationParams struct {
	ID     uuid.UUID
	Needed bool
	Reason *string
	// IfStatus, when set, limits the write to an order still in that status.
	IfStatus  *domain.OrderStatus
	UpdatedAt time.Time
}

type ListSellerOrdersParams struct {
	SellerID uuid.UUID
	Status   *domain.OrderStatus
	After    *Cursor
	Limit    int32
}

type UpdateWithdrawalStatusParams struct {
	ID        uuid.UUID
	From      []domain.WithdrawalStatus
	To        domain.WithdrawalStatus
	AdminNote *string
	DecidedBy *uuid.UUID
	DecidedAt *time.Time
	UpdatedAt time.Time
}

type ListWithdrawalsParams struct {
	SellerID *uuid.UUID
	Status   *domain.WithdrawalStatus
	After    *Cursor
	Limit    int32
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
}
