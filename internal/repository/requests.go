package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const requestColumns = `id, user_id, request_type, bookmaker, account_id, amount, status, status_detail,
	processed_by, source, withdrawal_code, correlation_key, created_at, processed_at`

func scanRequest(row pgx.Row) (models.Request, error) {
	var r models.Request
	err := row.Scan(
		&r.ID, &r.UserID, &r.RequestType, &r.Bookmaker, &r.AccountID, &r.Amount, &r.Status, &r.StatusDetail,
		&r.ProcessedBy, &r.Source, &r.WithdrawalCode, &r.CorrelationKey, &r.CreatedAt, &r.ProcessedAt,
	)
	return r, err
}

func collectRequests(rows pgx.Rows) ([]models.Request, error) {
	defer rows.Close()
	var out []models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) GetRequest(ctx context.Context, id int64) (models.Request, error) {
	return scanRequest(q.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id))
}

type CreateRequestParams struct {
	UserID         int64
	RequestType    string
	Bookmaker      string
	AccountID      string
	Amount         decimal.Decimal
	Status         string
	StatusDetail   *string
	Source         string
	WithdrawalCode *string
	CorrelationKey *string
}

func (q *Queries) CreateRequest(ctx context.Context, arg CreateRequestParams) (models.Request, error) {
	query := `
		INSERT INTO requests (user_id, request_type, bookmaker, account_id, amount, status, status_detail, source, withdrawal_code, correlation_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + requestColumns
	return scanRequest(q.db.QueryRow(ctx, query,
		arg.UserID, arg.RequestType, arg.Bookmaker, arg.AccountID, arg.Amount, arg.Status,
		arg.StatusDetail, arg.Source, arg.WithdrawalCode, arg.CorrelationKey,
	))
}

// CreateRequestIfAbsent inserts a request keyed by CorrelationKey. When a
// concurrent writer already created it, the existing row is returned with
// created=false.
func (q *Queries) CreateRequestIfAbsent(ctx context.Context, arg CreateRequestParams) (models.Request, bool, error) {
	if arg.CorrelationKey == nil || *arg.CorrelationKey == "" {
		return models.Request{}, false, errors.New("correlation key is required")
	}
	query := `
		INSERT INTO requests (user_id, request_type, bookmaker, account_id, amount, status, status_detail, source, withdrawal_code, correlation_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (correlation_key) DO NOTHING
		RETURNING ` + requestColumns
	req, err := scanRequest(q.db.QueryRow(ctx, query,
		arg.UserID, arg.RequestType, arg.Bookmaker, arg.AccountID, arg.Amount, arg.Status,
		arg.StatusDetail, arg.Source, arg.WithdrawalCode, arg.CorrelationKey,
	))
	if err == nil {
		return req, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Request{}, false, err
	}
	req, err = scanRequest(q.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE correlation_key = $1`, *arg.CorrelationKey))
	if err != nil {
		return models.Request{}, false, fmt.Errorf("read back request by correlation key: %w", err)
	}
	return req, false, nil
}

type TransitionRequestParams struct {
	ID   int64
	From []string
	To   string
	// StatusDetail replaces the detail column, nil clears it.
	StatusDetail *string
	ProcessedBy  *string
	Amount       decimal.NullDecimal
	// MarkProcessed stamps processed_at.
	MarkProcessed bool
}

// TransitionRequest moves a request to arg.To only when its current status is
// one of arg.From. It returns the previous status, or pgx.ErrNoRows when the
// request is missing or in another status.
func (q *Queries) TransitionRequest(ctx context.Context, arg TransitionRequestParams) (string, error) {
	query := `
		WITH prev AS (
			SELECT id, status FROM requests WHERE id = $1 FOR UPDATE
		)
		UPDATE requests r
		SET status = $2,
			status_detail = $3,
			processed_by = COALESCE($4, r.processed_by),
			amount = COALESCE($5, r.amount),
			processed_at = CASE WHEN $6 THEN NOW() ELSE r.processed_at END
		FROM prev
		WHERE r.id = prev.id AND prev.status = ANY($7)
		RETURNING prev.status`
	var prevStatus string
	err := q.db.QueryRow(ctx, query, arg.ID, arg.To, arg.StatusDetail, arg.ProcessedBy, arg.Amount, arg.MarkProcessed, arg.From).Scan(&prevStatus)
	return prevStatus, err
}

type UpdateRequestDetailParams struct {
	ID           int64
	StatusDetail *string
	Amount       decimal.NullDecimal
	// OnlyStatuses restricts the update to requests in these statuses.
	OnlyStatuses []string
}

func (q *Queries) UpdateRequestDetail(ctx context.Context, arg UpdateRequestDetailParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE requests
		SET status_detail = $2, amount = COALESCE($3, amount)
		WHERE id = $1 AND status = ANY($4)`,
		arg.ID, arg.StatusDetail, arg.Amount, arg.OnlyStatuses,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) FindPendingDepositsByAmount(ctx context.Context, amount decimal.Decimal, since time.Time) ([]models.Request, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE request_type = 'deposit' AND status = 'pending' AND amount = $1 AND created_at >= $2
			AND NOT EXISTS (
				SELECT 1 FROM payment_records p WHERE p.request_id = requests.id AND p.status = 'paid'
			)
		ORDER BY created_at DESC
		LIMIT 2`,
		amount, since,
	)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (q *Queries) FindWithdrawalsByCode(ctx context.Context, bookmaker, accountID, code string) ([]models.Request, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE request_type = 'withdraw' AND bookmaker = $1 AND account_id = $2 AND withdrawal_code = $3
		ORDER BY id`,
		bookmaker, accountID, code,
	)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (q *Queries) CountRequestsByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM requests WHERE status = $1`, status).Scan(&n)
	return n, err
}
