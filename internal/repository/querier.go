package repository

import (
	"context"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/shopspring/decimal"
)

// Querier is the data access contract the services depend on.
type Querier interface {
	GetRequest(ctx context.Context, id int64) (models.Request, error)
	CreateRequest(ctx context.Context, arg CreateRequestParams) (models.Request, error)
	CreateRequestIfAbsent(ctx context.Context, arg CreateRequestParams) (models.Request, bool, error)
	TransitionRequest(ctx context.Context, arg TransitionRequestParams) (string, error)
	UpdateRequestDetail(ctx context.Context, arg UpdateRequestDetailParams) (int64, error)
	FindPendingDepositsByAmount(ctx context.Context, amount decimal.Decimal, since time.Time) ([]models.Request, error)
	FindWithdrawalsByCode(ctx context.Context, bookmaker, accountID, code string) ([]models.Request, error)
	CountRequestsByStatus(ctx context.Context, status string) (int64, error)

	UpsertPayment(ctx context.Context, arg UpsertPaymentParams) (models.PaymentRecord, bool, error)
	GetPayment(ctx context.Context, invoiceID string) (models.PaymentRecord, error)
	BindPaymentRequest(ctx context.Context, invoiceID string, requestID int64) (int64, error)
	ClaimPaymentCredit(ctx context.Context, invoiceID string) (bool, error)
	ListUnmatchedPayments(ctx context.Context, limit, offset int32) ([]models.PaymentRecord, error)
	ListRetryablePayments(ctx context.Context, limit int32) ([]models.PaymentRecord, error)
	TouchPaymentRetry(ctx context.Context, invoiceID string) error
	CountPaidPaymentsForRequest(ctx context.Context, requestID int64, exceptInvoiceID string) (int64, error)

	InsertCodeConsumption(ctx context.Context, arg models.CodeConsumption) (bool, error)
	DeleteCodeConsumption(ctx context.Context, bookmaker, code string, requestID int64) (int64, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error
}
