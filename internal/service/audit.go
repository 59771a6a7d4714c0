package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/cashdesk-gateway/internal/repository"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record using q, which may be transactional.
func (s *AuditService) Write(ctx context.Context, q repository.Querier, entityType, entityID, actor, action, prevState, nextState string, metadata []byte) error {
	if q == nil {
		q = s.store.Queries()
	}
	if err := q.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      textParam(actor),
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
