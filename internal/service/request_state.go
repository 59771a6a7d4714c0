package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// requestTransition describes one status change of a request.
type requestTransition struct {
	RequestID int64
	To        string
	// Detail replaces status_detail; nil clears it.
	Detail        *string
	Actor         string
	Amount        decimal.NullDecimal
	MarkProcessed bool
	Action        string
	Metadata      []byte
}

// transitionRequest applies t through a conditional update that only matches
// legal predecessor states, and writes the audit record in the same
// transaction. A request already in t.To is reported as a no-op.
func transitionRequest(ctx context.Context, store QueryStore, audit *AuditService, t requestTransition) (string, error) {
	var prev string
	err := store.RunInTx(ctx, func(q repository.Querier) error {
		var actor *string
		if t.Actor != "" {
			actor = &t.Actor
		}
		from := domain.PredecessorsOf(t.To)
		if len(from) == 0 {
			return fmt.Errorf("no transition leads to %q: %w", t.To, domain.ErrInvalidTransition)
		}

		var err error
		prev, err = q.TransitionRequest(ctx, repository.TransitionRequestParams{
			ID:            t.RequestID,
			From:          from,
			To:            t.To,
			StatusDetail:  t.Detail,
			ProcessedBy:   actor,
			Amount:        t.Amount,
			MarkProcessed: t.MarkProcessed,
		})
		if errors.Is(err, pgx.ErrNoRows) {
			current, getErr := q.GetRequest(ctx, t.RequestID)
			if errors.Is(getErr, pgx.ErrNoRows) {
				return fmt.Errorf("request %d: %w", t.RequestID, domain.ErrRequestNotFound)
			}
			if getErr != nil {
				return fmt.Errorf("load request %d: %w", t.RequestID, getErr)
			}
			if domain.NormalizeStatus(current.Status) == domain.NormalizeStatus(t.To) {
				prev = current.Status
				return errNoop
			}
			return fmt.Errorf("request %d %s -> %s: %w", t.RequestID, current.Status, t.To, domain.ErrInvalidTransition)
		}
		if err != nil {
			return fmt.Errorf("transition request %d: %w", t.RequestID, err)
		}

		return audit.Write(ctx, q, "request", strconv.FormatInt(t.RequestID, 10), t.Actor, t.Action, prev, t.To, t.Metadata)
	})
	if errors.Is(err, errNoop) {
		return prev, nil
	}
	return prev, err
}

var errNoop = errors.New("no-op transition")

func loadRequest(ctx context.Context, q repository.Querier, id int64) (models.Request, error) {
	req, err := q.GetRequest(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Request{}, fmt.Errorf("request %d: %w", id, domain.ErrRequestNotFound)
	}
	if err != nil {
		return models.Request{}, fmt.Errorf("load request %d: %w", id, err)
	}
	return req, nil
}

func strPtr(s string) *string {
	return &s
}
