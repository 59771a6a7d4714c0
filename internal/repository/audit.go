package repository

import "context"

type InsertAuditLogParams struct {
	EntityType string
	EntityID   string
	Actor      *string
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor, action, prev_state, next_state, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		arg.EntityType, arg.EntityID, arg.Actor, arg.Action, arg.PrevState, arg.NextState, arg.Metadata,
	)
	return err
}
