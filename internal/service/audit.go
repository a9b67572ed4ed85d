package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/google/uuid"
)

// AuditRecord is the read view of one audit trail entry.
type AuditRecord struct {
	Action    string          `json:"action"`
	ActorID   *uuid.UUID      `json:"actor_id,omitempty"`
	PrevState string          `json:"prev_state,omitempty"`
	NextState string          `json:"next_state,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditService writes immutable audit trail entries.
type AuditService struct{}

func NewAuditService() *AuditService {
	return &AuditService{}
}

// Write stores a single immutable audit record using the caller's transaction.
func (s *AuditService) Write(ctx context.Context, qtx repository.Querier, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	if err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// History returns the audit trail of one entity, oldest first.
func (s *AuditService) History(ctx context.Context, q repository.Querier, entityType string, entityID uuid.UUID) ([]AuditRecord, error) {
	rows, err := q.ListAuditLog(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	out := make([]AuditRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, AuditRecord{
			Action:    r.Action,
			ActorID:   r.ActorID,
			PrevState: derefText(r.PrevState),
			NextState: derefText(r.NextState),
			Metadata:  r.Metadata,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func derefText(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
