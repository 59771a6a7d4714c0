// Package rates resolves currency conversion rates from a primary provider
// snapshot with a cached public REST endpoint as fallback.
package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Path labels reported in Rate.Path and metrics.
const (
	PathIdentity = "identity"
	PathDirect   = "direct"
	PathTwoHop   = "two_hop"
	PathFallback = "fallback"
)

// Pair is a source -> target conversion.
type Pair struct {
	Source string
	Target string
}

func (p Pair) String() string {
	return p.Source + "/" + p.Target
}

func (p Pair) normalized() Pair {
	return Pair{Source: domain.NormalizeCurrency(p.Source), Target: domain.NormalizeCurrency(p.Target)}
}

// Rate is a resolved conversion factor: 1 Source = Value Target.
type Rate struct {
	Pair  Pair            `json:"pair"`
	Value decimal.Decimal `json:"rate"`
	Path  string          `json:"path"`
	// Via is the intermediate currency of a two-hop path.
	Via string `json:"via,omitempty"`
}

// SnapshotSource returns the primary provider's full rate snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]models.ExchangeRate, error)
}

// BaseRateSource returns base -> currency rates for a base currency.
type BaseRateSource interface {
	Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

// Converter resolves conversion paths across the configured sources.
type Converter struct {
	primary       SnapshotSource
	fallback      BaseRateSource
	intermediates []string
	timeout       time.Duration
}

type Option func(*Converter)

// WithIntermediates sets the currencies tried as the middle of a two-hop path.
func WithIntermediates(codes ...string) Option {
	return func(c *Converter) {
		c.intermediates = c.intermediates[:0]
		for _, code := range codes {
			if code = domain.NormalizeCurrency(code); code != "" {
				c.intermediates = append(c.intermediates, code)
			}
		}
	}
}

// WithTimeout bounds every source call.
func WithTimeout(d time.Duration) Option {
	return func(c *Converter) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewConverter(primary SnapshotSource, fallback BaseRateSource, opts ...Option) *Converter {
	c := &Converter{
		primary:       primary,
		fallback:      fallback,
		intermediates: []string{"USD"},
		timeout:       10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve finds a rate for pair. With preferDirect a direct (or inverse) quote
// wins over a two-hop path; otherwise two-hop paths are tried first. When the
// primary snapshot cannot serve the pair, the fallback source is consulted.
// It never returns a zero rate: failure is domain.ErrRateUnavailable.
func (c *Converter) Resolve(ctx context.Context, pair Pair, preferDirect bool) (Rate, error) {
	pair = pair.normalized()
	if pair.Source == "" || pair.Target == "" {
		return Rate{}, fmt.Errorf("empty currency in %s: %w", pair, domain.ErrRateUnavailable)
	}
	if pair.Source == pair.Target {
		return Rate{Pair: pair, Value: decimal.NewFromInt(1), Path: PathIdentity}, nil
	}

	book := c.primaryBook(ctx)
	fb := &fallbackLookup{c: c, ctx: ctx}

	direct := func() (Rate, bool) {
		if v, ok := book.lookup(pair.Source, pair.Target); ok {
			return Rate{Pair: pair, Value: v, Path: PathDirect}, true
		}
		return Rate{}, false
	}
	twoHop := func() (Rate, bool) {
		for _, via := range c.intermediates {
			if via == pair.Source || via == pair.Target {
				continue
			}
			first, ok := book.lookup(pair.Source, via)
			if !ok {
				first, ok = fb.lookup(pair.Source, via)
			}
			if !ok {
				continue
			}
			second, ok := book.lookup(via, pair.Target)
			if !ok {
				second, ok = fb.lookup(via, pair.Target)
			}
			if !ok {
				continue
			}
			return Rate{Pair: pair, Value: first.Mul(second), Path: PathTwoHop, Via: via}, true
		}
		return Rate{}, false
	}

	order := []func() (Rate, bool){direct, twoHop}
	if !preferDirect {
		order = []func() (Rate, bool){twoHop, direct}
	}
	for _, try := range order {
		if rate, ok := try(); ok {
			observability.IncrementRateResolution(rate.Path)
			return rate, nil
		}
	}

	if v, ok := fb.lookup(pair.Source, pair.Target); ok {
		observability.IncrementRateResolution(PathFallback)
		return Rate{Pair: pair, Value: v, Path: PathFallback}, nil
	}

	observability.IncrementRateResolution("unavailable")
	return Rate{}, fmt.Errorf("no conversion path for %s: %w", pair, domain.ErrRateUnavailable)
}

// Convert multiplies amount by the resolved rate. The result is not rounded.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, source, target string) (decimal.Decimal, Rate, error) {
	rate, err := c.Resolve(ctx, Pair{Source: source, Target: target}, true)
	if err != nil {
		return decimal.Zero, Rate{}, err
	}
	return amount.Mul(rate.Value), rate, nil
}

func (c *Converter) primaryBook(ctx context.Context) quoteBook {
	if c.primary == nil {
		return quoteBook{}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	snapshot, err := c.primary.Snapshot(callCtx)
	if err != nil {
		zap.L().Warn("primary rate source unavailable", zap.Error(err))
		return quoteBook{}
	}
	return newQuoteBook(snapshot)
}

// quoteBook indexes valid, positive quotes by pair.
type quoteBook map[Pair]decimal.Decimal

func newQuoteBook(snapshot []models.ExchangeRate) quoteBook {
	book := make(quoteBook, len(snapshot))
	for _, q := range snapshot {
		if !q.IsValid || !q.Rate.IsPositive() {
			continue
		}
		book[Pair{Source: domain.NormalizeCurrency(q.Source), Target: domain.NormalizeCurrency(q.Target)}] = q.Rate
	}
	return book
}

func (b quoteBook) lookup(source, target string) (decimal.Decimal, bool) {
	if v, ok := b[Pair{Source: source, Target: target}]; ok {
		return v, true
	}
	if v, ok := b[Pair{Source: target, Target: source}]; ok {
		return invert(v), true
	}
	return decimal.Zero, false
}

// inversePrecision is the number of decimal places kept when a quote is
// inverted; rounding to KGS happens only on the final amount.
const inversePrecision = 28

func invert(v decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).DivRound(v, inversePrecision)
}

// fallbackLookup memoizes fallback responses per base for one resolution so a
// down fallback is asked at most once per base.
type fallbackLookup struct {
	c     *Converter
	ctx   context.Context
	bases map[string]map[string]decimal.Decimal
}

func (f *fallbackLookup) lookup(source, target string) (decimal.Decimal, bool) {
	if f.c.fallback == nil {
		return decimal.Zero, false
	}
	if v, ok := f.rates(source)[target]; ok && v.IsPositive() {
		return v, true
	}
	if v, ok := f.rates(target)[source]; ok && v.IsPositive() {
		return invert(v), true
	}
	return decimal.Zero, false
}

func (f *fallbackLookup) rates(base string) map[string]decimal.Decimal {
	if f.bases == nil {
		f.bases = map[string]map[string]decimal.Decimal{}
	}
	if cached, ok := f.bases[base]; ok {
		return cached
	}
	callCtx, cancel := context.WithTimeout(f.ctx, f.c.timeout)
	defer cancel()

	rates, err := f.c.fallback.Rates(callCtx, base)
	if err != nil {
		zap.L().Warn("fallback rate source unavailable", zap.String("base", base), zap.Error(err))
		rates = nil
	}
	f.bases[base] = rates
	return rates
}
