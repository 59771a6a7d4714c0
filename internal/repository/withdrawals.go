package repository

import (
	"context"
	"errors"

	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/jackc/pgx/v5"
)

// InsertCodeConsumption records that (bookmaker, code) is about to be spent.
// It returns false when the pair was already consumed.
func (q *Queries) InsertCodeConsumption(ctx context.Context, arg models.CodeConsumption) (bool, error) {
	var code string
	err := q.db.QueryRow(ctx, `
		INSERT INTO code_consumptions (bookmaker, code, account_id, request_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bookmaker, code) DO NOTHING
		RETURNING code`,
		arg.Bookmaker, arg.Code, arg.AccountID, arg.RequestID,
	).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCodeConsumption releases a consumption owned by requestID.
func (q *Queries) DeleteCodeConsumption(ctx context.Context, bookmaker, code string, requestID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM code_consumptions WHERE bookmaker = $1 AND code = $2 AND request_id = $3`,
		bookmaker, code, requestID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
