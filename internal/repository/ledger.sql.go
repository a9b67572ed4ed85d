package repository

import (
	"context"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ledgerColumns = `id, seller_id, reference_id, reference_type, type, amount, balance_after, created_at`

func scanLedgerEntry(row rowScanner) (models.LedgerEntry, error) {
	var (
		e                    models.LedgerEntry
		refType, entryType   string
		amount, balanceAfter int64
	)
	if err := row.Scan(&e.ID, &e.SellerID, &e.ReferenceID, &refType, &entryType, &amount, &balanceAfter, &e.CreatedAt); err != nil {
		return models.LedgerEntry{}, err
	}
	e.ReferenceType = domain.ReferenceType(refType)
	e.Type = domain.LedgerEntryType(entryType)
	e.Amount = domain.Money(amount)
	e.BalanceAfter = domain.Money(balanceAfter)
	return e, nil
}

func collectLedgerEntries(rows pgx.Rows) ([]models.LedgerEntry, error) {
	defer rows.Close()
	var items []models.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const insertLedgerEntry = `INSERT INTO ledger_entries (` + ledgerColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg models.LedgerEntry) error {
	_, err := q.db.Exec(ctx, insertLedgerEntry,
		arg.ID,
		arg.SellerID,
		arg.ReferenceID,
		string(arg.ReferenceType),
		string(arg.Type),
		int64(arg.Amount),
		int64(arg.BalanceAfter),
		arg.CreatedAt,
	)
	return translateError(err)
}

const getLedgerEntryByReference = `SELECT ` + ledgerColumns + `
FROM ledger_entries
WHERE seller_id = $1 AND reference_id = $2 AND type = $3`

func (q *Queries) GetLedgerEntryByReference(ctx context.Context, sellerID, referenceID uuid.UUID, entryType domain.LedgerEntryType) (models.LedgerEntry, error) {
	e, err := scanLedgerEntry(q.db.QueryRow(ctx, getLedgerEntryByReference, sellerID, referenceID, string(entryType)))
	return e, translateError(err)
}

const listLedgerEntries = `SELECT ` + ledgerColumns + `
FROM ledger_entries
WHERE seller_id = $1
  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2::timestamptz, $3::uuid))
ORDER BY created_at DESC, id DESC
LIMIT $4`

func (q *Queries) ListLedgerEntries(ctx context.Context, arg ListLedgerEntriesParams) ([]models.LedgerEntry, error) {
	cursorAt, cursorID := cursorArgs(arg.After)
	rows, err := q.db.Query(ctx, listLedgerEntries, arg.SellerID, cursorAt, cursorID, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}

const listAllLedgerEntries = `SELECT ` + ledgerColumns + `
FROM ledger_entries
WHERE seller_id = $1
ORDER BY created_at, id`

func (q *Queries) ListAllLedgerEntries(ctx context.Context, sellerID uuid.UUID) ([]models.LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listAllLedgerEntries, sellerID)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}
