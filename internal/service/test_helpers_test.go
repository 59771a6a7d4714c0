package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/bookmaker"
	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/notify"
	"github.com/ayo6706/cashdesk-gateway/internal/rates"
	"github.com/ayo6706/cashdesk-gateway/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory repository.Querier that mirrors the conditional
// updates and unique constraints of the Postgres schema.
type memStore struct {
	mu           sync.Mutex
	nextID       int64
	now          func() time.Time
	requests     map[int64]*models.Request
	payments     map[string]*models.PaymentRecord
	consumptions map[string]models.CodeConsumption
	audit        []repository.InsertAuditLogParams
}

func newMemStore() *memStore {
	return &memStore{
		now:          time.Now,
		requests:     map[int64]*models.Request{},
		payments:     map[string]*models.PaymentRecord{},
		consumptions: map[string]models.CodeConsumption{},
	}
}

func (s *memStore) Queries() repository.Querier { return s }

func (s *memStore) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return fn(s)
}

func (s *memStore) GetRequest(ctx context.Context, id int64) (models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return models.Request{}, pgx.ErrNoRows
	}
	return *r, nil
}

func (s *memStore) createLocked(arg repository.CreateRequestParams) (models.Request, error) {
	for _, r := range s.requests {
		if arg.CorrelationKey != nil && r.CorrelationKey != nil && *r.CorrelationKey == *arg.CorrelationKey {
			return models.Request{}, &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "requests_correlation_key_key"}
		}
		if arg.RequestType == domain.RequestTypeWithdraw && r.RequestType == domain.RequestTypeWithdraw &&
			arg.WithdrawalCode != nil && r.WithdrawalCode != nil &&
			r.Bookmaker == arg.Bookmaker && r.AccountID == arg.AccountID && *r.WithdrawalCode == *arg.WithdrawalCode {
			return models.Request{}, &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "requests_withdraw_code_uniq"}
		}
	}
	s.nextID++
	r := &models.Request{
		ID:             s.nextID,
		UserID:         arg.UserID,
		RequestType:    arg.RequestType,
		Bookmaker:      arg.Bookmaker,
		AccountID:      arg.AccountID,
		Amount:         arg.Amount,
		Status:         arg.Status,
		StatusDetail:   arg.StatusDetail,
		Source:         arg.Source,
		WithdrawalCode: arg.WithdrawalCode,
		CorrelationKey: arg.CorrelationKey,
		CreatedAt:      s.now(),
	}
	s.requests[r.ID] = r
	return *r, nil
}

func (s *memStore) CreateRequest(ctx context.Context, arg repository.CreateRequestParams) (models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(arg)
}

func (s *memStore) CreateRequestIfAbsent(ctx context.Context, arg repository.CreateRequestParams) (models.Request, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.CorrelationKey != nil && arg.CorrelationKey != nil && *r.CorrelationKey == *arg.CorrelationKey {
			return *r, false, nil
		}
	}
	r, err := s.createLocked(arg)
	return r, err == nil, err
}

func (s *memStore) TransitionRequest(ctx context.Context, arg repository.TransitionRequestParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[arg.ID]
	if !ok {
		return "", pgx.ErrNoRows
	}
	allowed := false
	for _, from := range arg.From {
		if r.Status == from {
			allowed = true
		}
	}
	if !allowed {
		return "", pgx.ErrNoRows
	}
	prev := r.Status
	r.Status = arg.To
	r.StatusDetail = arg.StatusDetail
	if arg.ProcessedBy != nil {
		r.ProcessedBy = arg.ProcessedBy
	}
	if arg.Amount.Valid {
		r.Amount = arg.Amount.Decimal
	}
	if arg.MarkProcessed {
		now := s.now()
		r.ProcessedAt = &now
	}
	return prev, nil
}

func (s *memStore) UpdateRequestDetail(ctx context.Context, arg repository.UpdateRequestDetailParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[arg.ID]
	if !ok {
		return 0, nil
	}
	for _, st := range arg.OnlyStatuses {
		if r.Status == st {
			r.StatusDetail = arg.StatusDetail
			if arg.Amount.Valid {
				r.Amount = arg.Amount.Decimal
			}
			return 1, nil
		}
	}
	return 0, nil
}

func (s *memStore) FindPendingDepositsByAmount(ctx context.Context, amount decimal.Decimal, since time.Time) ([]models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Request
	for _, r := range s.sortedLocked() {
		if r.RequestType == domain.RequestTypeDeposit && r.Status == domain.StatusPending &&
			r.Amount.Equal(amount) && !r.CreatedAt.Before(since) && s.paidForLocked(r.ID, "") == 0 {
			out = append(out, r)
		}
	}
	if len(out) > 2 {
		out = out[:2]
	}
	return out, nil
}

func (s *memStore) FindWithdrawalsByCode(ctx context.Context, bookmakerName, accountID, code string) ([]models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Request
	for _, r := range s.sortedLocked() {
		if r.RequestType == domain.RequestTypeWithdraw && r.Bookmaker == bookmakerName &&
			r.AccountID == accountID && r.WithdrawalCode != nil && *r.WithdrawalCode == code {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) CountRequestsByStatus(ctx context.Context, status string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.requests {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *memStore) UpsertPayment(ctx context.Context, arg repository.UpsertPaymentParams) (models.PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[arg.InvoiceID]; ok {
		p.Status = arg.Status
		if p.PaidAt == nil {
			p.PaidAt = arg.PaidAt
		}
		p.UpdatedAt = s.now()
		return *p, false, nil
	}
	now := s.now()
	p := &models.PaymentRecord{
		InvoiceID: arg.InvoiceID,
		Provider:  arg.Provider,
		Hash:      arg.Hash,
		Amount:    arg.Amount,
		Asset:     arg.Asset,
		FeeAmount: arg.FeeAmount,
		Payload:   arg.Payload,
		Status:    arg.Status,
		PaidAt:    arg.PaidAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.payments[p.InvoiceID] = p
	return *p, true, nil
}

func (s *memStore) GetPayment(ctx context.Context, invoiceID string) (models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[invoiceID]
	if !ok {
		return models.PaymentRecord{}, pgx.ErrNoRows
	}
	return *p, nil
}

func (s *memStore) BindPaymentRequest(ctx context.Context, invoiceID string, requestID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[invoiceID]
	if !ok || p.RequestID != nil {
		return 0, nil
	}
	p.RequestID = &requestID
	return 1, nil
}

func (s *memStore) ClaimPaymentCredit(ctx context.Context, invoiceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[invoiceID]
	if !ok || p.CreditClaimedAt != nil {
		return false, nil
	}
	now := s.now()
	p.CreditClaimedAt = &now
	return true, nil
}

func (s *memStore) ListUnmatchedPayments(ctx context.Context, limit, offset int32) ([]models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentRecord
	for _, p := range s.sortedPaymentsLocked() {
		if p.RequestID == nil {
			out = append(out, p)
		}
	}
	return page(out, limit, offset), nil
}

func (s *memStore) ListRetryablePayments(ctx context.Context, limit int32) ([]models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentRecord
	for _, p := range s.sortedPaymentsLocked() {
		if p.RequestID == nil || p.CreditClaimedAt != nil || p.Status != domain.PaymentStatusPaid {
			continue
		}
		r := s.requests[*p.RequestID]
		if r != nil && r.RequestType == domain.RequestTypeDeposit && r.Status == domain.StatusPending {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].InvoiceID < out[j].InvoiceID
	})
	return page(out, limit, 0), nil
}

func (s *memStore) TouchPaymentRetry(ctx context.Context, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[invoiceID]; ok {
		p.UpdatedAt = s.now()
	}
	return nil
}

func (s *memStore) CountPaidPaymentsForRequest(ctx context.Context, requestID int64, exceptInvoiceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paidForLocked(requestID, exceptInvoiceID), nil
}

func (s *memStore) paidForLocked(requestID int64, exceptInvoiceID string) int64 {
	var n int64
	for _, p := range s.payments {
		if p.RequestID != nil && *p.RequestID == requestID &&
			p.Status == domain.PaymentStatusPaid && p.InvoiceID != exceptInvoiceID {
			n++
		}
	}
	return n
}

func (s *memStore) InsertCodeConsumption(ctx context.Context, arg models.CodeConsumption) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := arg.Bookmaker + "|" + arg.Code
	if _, ok := s.consumptions[key]; ok {
		return false, nil
	}
	arg.ConsumedAt = s.now()
	s.consumptions[key] = arg
	return true, nil
}

func (s *memStore) DeleteCodeConsumption(ctx context.Context, bookmakerName, code string, requestID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bookmakerName + "|" + code
	if c, ok := s.consumptions[key]; ok && c.RequestID == requestID {
		delete(s.consumptions, key)
		return 1, nil
	}
	return 0, nil
}

func (s *memStore) InsertAuditLog(ctx context.Context, arg repository.InsertAuditLogParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, arg)
	return nil
}

func (s *memStore) sortedLocked() []models.Request {
	out := make([]models.Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) sortedPaymentsLocked() []models.PaymentRecord {
	out := make([]models.PaymentRecord, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceID < out[j].InvoiceID })
	return out
}

func (s *memStore) request(id int64) models.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.requests[id]
}

func (s *memStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

// seedRequest inserts a request directly, bypassing services.
func (s *memStore) seedRequest(r models.Request) models.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		s.nextID++
		r.ID = s.nextID
	} else if r.ID > s.nextID {
		s.nextID = r.ID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	if r.Source == "" {
		r.Source = domain.SourceBot
	}
	s.requests[r.ID] = &r
	return r
}

func page(in []models.PaymentRecord, limit, offset int32) []models.PaymentRecord {
	if int(offset) >= len(in) {
		return nil
	}
	in = in[offset:]
	if int(limit) < len(in) {
		in = in[:limit]
	}
	return in
}

// recordingSink captures notifications instead of sending them.
type recordingSink struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (s *recordingSink) Enqueue(msg notify.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return true
}

func (s *recordingSink) to(chatID int64) []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type creditCall struct {
	Bookmaker string
	AccountID string
	Amount    decimal.Decimal
	RequestID int64
}

// fakeCasino records credit calls and fails with err when set.
type fakeCasino struct {
	mu    sync.Mutex
	calls []creditCall
	err   error
	delay time.Duration
}

func (c *fakeCasino) Credit(ctx context.Context, bookmakerName, accountID string, amount decimal.Decimal, requestID int64) (bookmaker.CreditResult, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, creditCall{Bookmaker: bookmakerName, AccountID: accountID, Amount: amount, RequestID: requestID})
	if c.err != nil {
		return bookmaker.CreditResult{}, c.err
	}
	return bookmaker.CreditResult{TransactionID: fmt.Sprintf("tx-%d", len(c.calls))}, nil
}

func (c *fakeCasino) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fixedRates converts with a static table of SOURCE->TARGET multipliers.
type fixedRates struct {
	mu    sync.Mutex
	table map[string]decimal.Decimal
	calls int
}

func (f *fixedRates) Convert(ctx context.Context, amount decimal.Decimal, source, target string) (decimal.Decimal, rates.Rate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	pair := rates.Pair{Source: source, Target: target}
	v, ok := f.table[source+"/"+target]
	if !ok {
		return decimal.Zero, rates.Rate{}, fmt.Errorf("%s/%s: %w", source, target, domain.ErrRateUnavailable)
	}
	return amount.Mul(v), rates.Rate{Pair: pair, Value: v, Path: rates.PathDirect}, nil
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
