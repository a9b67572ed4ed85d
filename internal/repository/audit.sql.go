package repository

import (
	"context"

	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/google/uuid"
)

const insertAuditLog = `INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	var metadata interface{}
	if len(arg.Metadata) > 0 {
		metadata = arg.Metadata
	}
	_, err := q.db.Exec(ctx, insertAuditLog,
		arg.EntityType,
		arg.EntityID,
		arg.ActorID,
		arg.Action,
		arg.PrevState,
		arg.NextState,
		metadata,
	)
	return translateError(err)
}

const listAuditLog = `SELECT id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at
FROM audit_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY id`

func (q *Queries) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditLog, error) {
	rows, err := q.db.Query(ctx, listAuditLog, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.AuditLog
	for rows.Next() {
		var a models.AuditLog
		if err := rows.Scan(
			&a.ID,
			&a.EntityType,
			&a.EntityID,
			&a.ActorID,
			&a.Action,
			&a.PrevState,
			&a.NextState,
			&a.Metadata,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
