// Package memory is an in-process implementation of the repository contract.
// It backs STORAGE_DRIVER=memory and the service and API tests.
//
// RunInTx copies the whole state before running the callback, so a write
// costs O(n) in the number of stored rows. It is not a production backend.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/google/uuid"
)

type ledgerKey struct {
	sellerID    uuid.UUID
	referenceID uuid.UUID
	entryType   domain.LedgerEntryType
}

type sellerOrderKey struct {
	sellerID uuid.UUID
	orderID  uuid.UUID
}

type state struct {
	wallets      map[uuid.UUID]models.Wallet
	ledger       []models.LedgerEntry
	ledgerKeys   map[ledgerKey]int
	ledgerIDs    map[uuid.UUID]struct{}
	orders       map[uuid.UUID]models.Order
	sellerOrders map[sellerOrderKey]models.SellerOrder
	withdrawals  map[uuid.UUID]models.WithdrawalRequest
	audit        []models.AuditLog
	idempotency  map[string]repository.IdempotencyKey
}

func newState() *state {
	return &state{
		wallets:      make(map[uuid.UUID]models.Wallet),
		ledgerKeys:   make(map[ledgerKey]int),
		ledgerIDs:    make(map[uuid.UUID]struct{}),
		orders:       make(map[uuid.UUID]models.Order),
		sellerOrders: make(map[sellerOrderKey]models.SellerOrder),
		withdrawals:  make(map[uuid.UUID]models.WithdrawalRequest),
		idempotency:  make(map[string]repository.IdempotencyKey),
	}
}

func (s *state) clone() *state {
	c := &state{
		wallets:      make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		ledger:       append([]models.LedgerEntry(nil), s.ledger...),
		ledgerKeys:   make(map[ledgerKey]int, len(s.ledgerKeys)),
		ledgerIDs:    make(map[uuid.UUID]struct{}, len(s.ledgerIDs)),
		orders:       make(map[uuid.UUID]models.Order, len(s.orders)),
		sellerOrders: make(map[sellerOrderKey]models.SellerOrder, len(s.sellerOrders)),
		withdrawals:  make(map[uuid.UUID]models.WithdrawalRequest, len(s.withdrawals)),
		audit:        append([]models.AuditLog(nil), s.audit...),
		idempotency:  make(map[string]repository.IdempotencyKey, len(s.idempotency)),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.ledgerKeys {
		c.ledgerKeys[k] = v
	}
	for k, v := range s.ledgerIDs {
		c.ledgerIDs[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.sellerOrders {
		c.sellerOrders[k] = v
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// Store keeps all state behind one mutex. Transactions run against a copy
// that replaces the committed state only when fn succeeds.
type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) Queries() repository.Querier {
	return &querier{store: s}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&querier{tx: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type querier struct {
	store *Store
	tx    *state
}

var _ repository.Querier = (*querier)(nil)

func (q *querier) with(fn func(st *state)) {
	if q.tx != nil {
		fn(q.tx)
		return
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	fn(q.store.st)
}

func lessUUID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// newerFirst orders by created_at DESC, id DESC, matching the Postgres listings.
func newerFirst(aAt time.Time, aID uuid.UUID, bAt time.Time, bID uuid.UUID) bool {
	if !aAt.Equal(bAt) {
		return aAt.After(bAt)
	}
	return lessUUID(bID, aID)
}

func beforeCursor(at time.Time, id uuid.UUID, c *repository.Cursor) bool {
	if c == nil {
		return true
	}
	return newerFirst(c.CreatedAt, c.ID, at, id)
}

func limit(n int32, size int) int {
	if n <= 0 || int(n) > size {
		return size
	}
	return int(n)
}

func (q *querier) GetWallet(_ context.Context, sellerID uuid.UUID) (models.Wallet, error) {
	var (
		w  models.Wallet
		ok bool
	)
	q.with(func(st *state) { w, ok = st.wallets[sellerID] })
	if !ok {
		return models.Wallet{}, domain.ErrNotFound
	}
	return w, nil
}

func (q *querier) ListWallets(_ context.Context) ([]models.Wallet, error) {
	var items []models.Wallet
	q.with(func(st *state) {
		for _, w := range st.wallets {
			items = append(items, w)
		}
	})
	sort.Slice(items, func(i, j int) bool { return lessUUID(items[i].SellerID, items[j].SellerID) })
	return items, nil
}

func (q *querier) SaveWalletIfVersion(_ context.Context, w models.Wallet, expectedVersion int64) (int64, error) {
	if !w.Balanced() {
		return 0, fmt.Errorf("wallet %s violates balance constraint", w.SellerID)
	}
	var rows int64
	q.with(func(st *state) {
		current, exists := st.wallets[w.SellerID]
		switch {
		case expectedVersion == 0 && !exists:
		case exists && current.Version == expectedVersion && expectedVersion != 0:
		default:
			return
		}
		st.wallets[w.SellerID] = w
		rows = 1
	})
	return rows, nil
}

func (q *querier) InsertLedgerEntry(_ context.Context, arg models.LedgerEntry) error {
	var err error
	q.with(func(st *state) {
		key := ledgerKey{sellerID: arg.SellerID, referenceID: arg.ReferenceID, entryType: arg.Type}
		if _, dup := st.ledgerKeys[key]; dup {
			err = repository.ErrDuplicate
			return
		}
		if _, dup := st.ledgerIDs[arg.ID]; dup {
			err = repository.ErrDuplicate
			return
		}
		st.ledger = append(st.ledger, arg)
		st.ledgerKeys[key] = len(st.ledger) - 1
		st.ledgerIDs[arg.ID] = struct{}{}
	})
	return err
}

func (q *querier) GetLedgerEntryByReference(_ context.Context, sellerID, referenceID uuid.UUID, entryType domain.LedgerEntryType) (models.LedgerEntry, error) {
	var (
		e  models.LedgerEntry
		ok bool
	)
	q.with(func(st *state) {
		var idx int
		idx, ok = st.ledgerKeys[ledgerKey{sellerID: sellerID, referenceID: referenceID, entryType: entryType}]
		if ok {
			e = st.ledger[idx]
		}
	})
	if !ok {
		return models.LedgerEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (q *querier) ListLedgerEntries(_ context.Context, arg repository.ListLedgerEntriesParams) ([]models.LedgerEntry, error) {
	var items []models.LedgerEntry
	q.with(func(st *state) {
		for _, e := range st.ledger {
			if e.SellerID == arg.SellerID && beforeCursor(e.CreatedAt, e.ID, arg.After) {
				items = append(items, e)
			}
		}
	})
	sort.SliceStable(items, func(i, j int) bool {
		return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID)
	})
	return items[:limit(arg.Limit, len(items))], nil
}

func (q *querier) ListAllLedgerEntries(_ context.Context, sellerID uuid.UUID) ([]models.LedgerEntry, error) {
	var items []models.LedgerEntry
	q.with(func(st *state) {
		for _, e := range st.ledger {
			if e.SellerID == sellerID {
				items = append(items, e)
			}
		}
	})
	return items, nil
}

func (q *querier) InsertOrder(_ context.Context, arg models.Order) error {
	var err error
	q.with(func(st *state) {
		if _, dup := st.orders[arg.ID]; dup {
			err = repository.ErrDuplicate
			return
		}
		arg.LineItems = append([]models.LineItem(nil), arg.LineItems...)
		st.orders[arg.ID] = arg
	})
	return err
}

func (q *querier) GetOrder(_ context.Context, id uuid.UUID) (models.Order, error) {
	var (
		o  models.Order
		ok bool
	)
	q.with(func(st *state) { o, ok = st.orders[id] })
	if !ok {
		return models.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (q *querier) UpdateOrderStatusIfCurrent(_ context.Context, arg repository.UpdateOrderStatusParams) (int64, error) {
	var rows int64
	q.with(func(st *state) {
		o, ok := st.orders[arg.ID]
		if !ok || o.Status != arg.From {
			return
		}
		o.Status = arg.To
		if arg.CancellationReason != nil {
			o.CancellationReason = arg.CancellationReason
		}
		if o.DeliveredAt == nil && arg.DeliveredAt != nil {
			o.DeliveredAt = arg.DeliveredAt
		}
		o.UpdatedAt = arg.UpdatedAt
		st.orders[arg.ID] = o
		rows = 1
	})
	return rows, nil
}

func (q *querier) SetOrderReconciliation(_ context.Context, arg repository.SetOrderReconciliationParams) error {
	err := domain.ErrNotFound
	q.with(func(st *state) {
		o, ok := st.orders[arg.ID]
		if !ok || (arg.IfStatus != nil && o.Status != *arg.IfStatus) {
			return
		}
		o.ReconciliationNeeded = arg.Needed
		o.ReconciliationReason = arg.Reason
		o.UpdatedAt = arg.UpdatedAt
		st.orders[arg.ID] = o
		err = nil
	})
	return err
}

func (q *querier) flaggedOrders(st *state) []models.Order {
	var items []models.Order
	for _, o := range st.orders {
		if o.ReconciliationNeeded {
			items = append(items, o)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.Before(items[j].UpdatedAt)
		}
		return lessUUID(items[i].ID, items[j].ID)
	})
	return items
}

func (q *querier) ListOrdersNeedingReconciliation(_ context.Context, n int32) ([]models.Order, error) {
	var items []models.Order
	q.with(func(st *state) { items = q.flaggedOrders(st) })
	return items[:limit(n, len(items))], nil
}

func (q *querier) CountOrdersNeedingReconciliation(_ context.Context) (int64, error) {
	var count int64
	q.with(func(st *state) { count = int64(len(q.flaggedOrders(st))) })
	return count, nil
}

func (q *querier) UpsertSellerOrder(_ context.Context, arg models.SellerOrder) error {
	q.with(func(st *state) {
		key := sellerOrderKey{sellerID: arg.SellerID, orderID: arg.OrderID}
		if current, ok := st.sellerOrders[key]; ok {
			if current.UpdatedAt.After(arg.UpdatedAt) {
				return
			}
			arg.CreatedAt = current.CreatedAt
		}
		st.sellerOrders[key] = arg
	})
	return nil
}

func (q *querier) GetSellerOrder(_ context.Context, sellerID, orderID uuid.UUID) (models.SellerOrder, error) {
	var (
		so models.SellerOrder
		ok bool
	)
	q.with(func(st *state) { so, ok = st.sellerOrders[sellerOrderKey{sellerID: sellerID, orderID: orderID}] })
	if !ok {
		return models.SellerOrder{}, domain.ErrNotFound
	}
	return so, nil
}

func (q *querier) ListSellerOrders(_ context.Context, arg repository.ListSellerOrdersParams) ([]models.SellerOrder, error) {
	var items []models.SellerOrder
	q.with(func(st *state) {
		for _, so := range st.sellerOrders {
			if so.SellerID != arg.SellerID {
				continue
			}
			if arg.Status != nil && so.Status != *arg.Status {
				continue
			}
			if !beforeCursor(so.CreatedAt, so.OrderID, arg.After) {
				continue
			}
			items = append(items, so)
		}
	})
	sort.Slice(items, func(i, j int) bool {
		return newerFirst(items[i].CreatedAt, items[i].OrderID, items[j].CreatedAt, items[j].OrderID)
	})
	return items[:limit(arg.Limit, len(items))], nil
}

func (q *querier) InsertWithdrawal(_ context.Context, arg models.WithdrawalRequest) error {
	var err error
	q.with(func(st *state) {
		if _, dup := st.withdrawals[arg.ID]; dup {
			err = repository.ErrDuplicate
			return
		}
		st.withdrawals[arg.ID] = arg
	})
	return err
}

func (q *querier) GetWithdrawal(_ context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	var (
		wr models.WithdrawalRequest
		ok bool
	)
	q.with(func(st *state) { wr, ok = st.withdrawals[id] })
	if !ok {
		return models.WithdrawalRequest{}, domain.ErrNotFound
	}
	return wr, nil
}

func (q *querier) UpdateWithdrawalStatus(_ context.Context, arg repository.UpdateWithdrawalStatusParams) (int64, error) {
	var rows int64
	q.with(func(st *state) {
		wr, ok := st.withdrawals[arg.ID]
		if !ok {
			return
		}
		allowed := false
		for _, s := range arg.From {
			if wr.Status == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return
		}
		wr.Status = arg.To
		if arg.AdminNote != nil {
			wr.AdminNote = *arg.AdminNote
		}
		if arg.DecidedBy != nil {
			wr.DecidedBy = arg.DecidedBy
		}
		if arg.DecidedAt != nil {
			wr.DecidedAt = arg.DecidedAt
		}
		wr.UpdatedAt = arg.UpdatedAt
		st.withdrawals[arg.ID] = wr
		rows = 1
	})
	return rows, nil
}

func (q *querier) ListWithdrawals(_ context.Context, arg repository.ListWithdrawalsParams) ([]models.WithdrawalRequest, error) {
	var items []models.WithdrawalRequest
	q.with(func(st *state) {
		for _, wr := range st.withdrawals {
			if arg.SellerID != nil && wr.SellerID != *arg.SellerID {
				continue
			}
			if arg.Status != nil && wr.Status != *arg.Status {
				continue
			}
			if !beforeCursor(wr.CreatedAt, wr.ID, arg.After) {
				continue
			}
			items = append(items, wr)
		}
	})
	sort.Slice(items, func(i, j int) bool {
		return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID)
	})
	return items[:limit(arg.Limit, len(items))], nil
}

func (q *querier) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) error {
	q.with(func(st *state) {
		st.audit = append(st.audit, models.AuditLog{
			ID:         int64(len(st.audit) + 1),
			EntityType: arg.EntityType,
			EntityID:   arg.EntityID,
			ActorID:    arg.ActorID,
			Action:     arg.Action,
			PrevState:  arg.PrevState,
			NextState:  arg.NextState,
			Metadata:   arg.Metadata,
			CreatedAt:  time.Now().UTC(),
		})
	})
	return nil
}

func (q *querier) ListAuditLog(_ context.Context, entityType string, entityID uuid.UUID) ([]models.AuditLog, error) {
	var items []models.AuditLog
	q.with(func(st *state) {
		for _, a := range st.audit {
			if a.EntityType == entityType && a.EntityID == entityID {
				items = append(items, a)
			}
		}
	})
	return items, nil
}

func (q *querier) GetIdempotencyKey(_ context.Context, key string) (repository.IdempotencyKey, error) {
	var (
		k  repository.IdempotencyKey
		ok bool
	)
	q.with(func(st *state) { k, ok = st.idempotency[key] })
	if !ok {
		return repository.IdempotencyKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (q *querier) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (bool, error) {
	reserved := false
	q.with(func(st *state) {
		if _, exists := st.idempotency[arg.IdempotencyKey]; exists {
			return
		}
		st.idempotency[arg.IdempotencyKey] = repository.IdempotencyKey{
			IdempotencyKey: arg.IdempotencyKey,
			RequestHash:    arg.RequestHash,
			Method:         arg.Method,
			Path:           arg.Path,
			InProgress:     true,
			CreatedAt:      time.Now().UTC(),
		}
		reserved = true
	})
	return reserved, nil
}

func (q *querier) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	var (
		k  repository.IdempotencyKey
		ok bool
	)
	q.with(func(st *state) {
		k, ok = st.idempotency[arg.IdempotencyKey]
		if !ok || k.RequestHash != arg.RequestHash {
			ok = false
			return
		}
		k.ResponseStatus = arg.ResponseStatus
		k.ResponseBody = append([]byte(nil), arg.ResponseBody...)
		k.ContentType = arg.ContentType
		k.InProgress = false
		st.idempotency[arg.IdempotencyKey] = k
	})
	if !ok {
		return repository.IdempotencyKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (q *querier) ReleaseIdempotencyKey(_ context.Context, key, requestHash string) error {
	q.with(func(st *state) {
		if k, ok := st.idempotency[key]; ok && k.InProgress && k.RequestHash == requestHash {
			delete(st.idempotency, key)
		}
	})
	return nil
}
