// Package ledger implements the trading ledger core: validating and
// settling BUY/SELL/DEPOSIT operations against a user's cash balance,
// aggregated positions, and append-only transaction log.
//
// All three mutations of one order commit as a single unit through the
// store; a failed or conflicted settlement leaves the account exactly as
// it was. Atomicity is the store's job, not an application mutex — the
// engine never holds a lock across store I/O.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockfx/ledger-engine/internal/metrics"
	"github.com/stockfx/ledger-engine/internal/model"
	"github.com/stockfx/ledger-engine/internal/quote"
	"github.com/stockfx/ledger-engine/internal/store"
)

// Validation failures. Returned as typed errors so the presentation layer
// can map them precisely; none of them leave partial state behind.
var (
	ErrInvalidAmount        = errors.New("ledger: amount must be positive")
	ErrInvalidQuantity      = errors.New("ledger: quantity must be positive")
	ErrInvalidSide          = errors.New("ledger: side must be BUY or SELL")
	ErrInsufficientFunds    = errors.New("ledger: insufficient funds")
	ErrInsufficientPosition = errors.New("ledger: insufficient position")
	ErrQuoteUnavailable     = errors.New("ledger: no quote for symbol")
)

// settlementAttempts bounds optimistic retries on store write conflicts
// before ErrConflict is surfaced to the caller.
const settlementAttempts = 3

// Engine validates and applies ledger operations. Safe for concurrent
// use: serialization of concurrent orders against the same account is
// enforced by the store's compare-and-set settlement, not by the engine.
type Engine struct {
	store  store.Store
	quotes quote.Source
}

// NewEngine creates a ledger engine over the given store and price feed.
func NewEngine(st store.Store, quotes quote.Source) *Engine {
	return &Engine{store: st, quotes: quotes}
}

// OrderResult is the snapshot returned from a settled order or deposit,
// enough for the caller to refresh derived views without re-querying.
// Position is nil for deposits and for sells that closed the holding.
type OrderResult struct {
	Account  *model.Account          `json:"account"`
	Position *model.Position         `json:"position,omitempty"`
	Record   model.TransactionRecord `json:"record"`
}

// Deposit credits amount to the user's cash balance and appends a
// DEPOSIT record. The deposited amount is recoverable from the record as
// quantity 1 × unit price.
func (e *Engine) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	for attempt := 0; attempt < settlementAttempts; attempt++ {
		acct, err := e.store.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}

		st := &store.Settlement{
			UserID:      userID,
			PrevBalance: acct.CashBalance,
			NewBalance:  acct.CashBalance.Add(amount),
			Record: model.TransactionRecord{
				ID:        uuid.New().String(),
				UserID:    userID,
				Kind:      model.KindDeposit,
				Quantity:  1,
				UnitPrice: amount,
				Timestamp: time.Now().UTC(),
			},
		}

		err = e.store.ApplySettlement(ctx, st)
		if errors.Is(err, store.ErrConflict) {
			metrics.SettlementConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("settle deposit: %w", err)
		}

		metrics.DepositsTotal.Inc()
		return &model.Account{UserID: userID, CashBalance: st.NewBalance}, nil
	}

	return nil, fmt.Errorf("settle deposit: %w", store.ErrConflict)
}

// PlaceOrder validates and settles one BUY or SELL order at the current
// quote. The quote is read exactly once, before the settlement loop, so
// a conflict retry never settles at a different price than was validated.
func (e *Engine) PlaceOrder(ctx context.Context, userID, symbol string, quantity int64, side model.Side) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if side != model.SideBuy && side != model.SideSell {
		return nil, ErrInvalidSide
	}

	price, ok := e.quotes.CurrentPrice(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQuoteUnavailable, symbol)
	}

	var result *OrderResult
	var err error
	for attempt := 0; attempt < settlementAttempts; attempt++ {
		if side == model.SideBuy {
			result, err = e.settleBuy(ctx, userID, symbol, quantity, price)
		} else {
			result, err = e.settleSell(ctx, userID, symbol, quantity, price)
		}
		if errors.Is(err, store.ErrConflict) {
			metrics.SettlementConflicts.Inc()
			continue
		}
		break
	}
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(string(side), "rejected").Inc()
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(string(side), "settled").Inc()
	return result, nil
}

func (e *Engine) settleBuy(ctx context.Context, userID, symbol string, quantity int64, price decimal.Decimal) (*OrderResult, error) {
	acct, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	cost := price.Mul(decimal.NewFromInt(quantity))
	if acct.CashBalance.LessThan(cost) {
		return nil, fmt.Errorf("%w: balance %s, cost %s",
			ErrInsufficientFunds, acct.CashBalance, cost)
	}

	pc := store.PositionChange{Symbol: symbol}
	pos, err := e.store.GetPosition(ctx, userID, symbol)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First lot: average cost is the fill price.
		pc.NewQuantity = quantity
		pc.NewAverageCost = price
	case err != nil:
		return nil, err
	default:
		pc.PrevQuantity = pos.Quantity
		pc.NewQuantity = pos.Quantity + quantity
		pc.NewAverageCost = weightedAverageCost(pos.AverageCost, pos.Quantity, price, quantity)
	}

	st := &store.Settlement{
		UserID:      userID,
		PrevBalance: acct.CashBalance,
		NewBalance:  acct.CashBalance.Sub(cost),
		Position:    &pc,
		Record: model.TransactionRecord{
			ID:        uuid.New().String(),
			UserID:    userID,
			Symbol:    symbol,
			Kind:      model.KindBuy,
			Quantity:  quantity,
			UnitPrice: price,
			Timestamp: time.Now().UTC(),
		},
	}

	if err := e.store.ApplySettlement(ctx, st); err != nil {
		return nil, err
	}

	return &OrderResult{
		Account: &model.Account{UserID: userID, CashBalance: st.NewBalance},
		Position: &model.Position{
			UserID:      userID,
			Symbol:      symbol,
			Quantity:    pc.NewQuantity,
			AverageCost: pc.NewAverageCost,
		},
		Record: st.Record,
	}, nil
}

func (e *Engine) settleSell(ctx context.Context, userID, symbol string, quantity int64, price decimal.Decimal) (*OrderResult, error) {
	acct, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	pos, err := e.store.GetPosition(ctx, userID, symbol)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no holding in %s", ErrInsufficientPosition, symbol)
	}
	if err != nil {
		return nil, err
	}
	if pos.Quantity < quantity {
		return nil, fmt.Errorf("%w: holding %d, requested %d",
			ErrInsufficientPosition, pos.Quantity, quantity)
	}

	// Average cost is unchanged by a sell; the basis reflects the
	// remaining lot. A sell-to-zero removes the row entirely.
	pc := store.PositionChange{
		Symbol:         symbol,
		PrevQuantity:   pos.Quantity,
		NewQuantity:    pos.Quantity - quantity,
		NewAverageCost: pos.AverageCost,
	}

	proceeds := price.Mul(decimal.NewFromInt(quantity))
	st := &store.Settlement{
		UserID:      userID,
		PrevBalance: acct.CashBalance,
		NewBalance:  acct.CashBalance.Add(proceeds),
		Position:    &pc,
		Record: model.TransactionRecord{
			ID:        uuid.New().String(),
			UserID:    userID,
			Symbol:    symbol,
			Kind:      model.KindSell,
			Quantity:  quantity,
			UnitPrice: price,
			Timestamp: time.Now().UTC(),
		},
	}

	if err := e.store.ApplySettlement(ctx, st); err != nil {
		return nil, err
	}

	result := &OrderResult{
		Account: &model.Account{UserID: userID, CashBalance: st.NewBalance},
		Record:  st.Record,
	}
	if pc.NewQuantity > 0 {
		result.Position = &model.Position{
			UserID:      userID,
			Symbol:      symbol,
			Quantity:    pc.NewQuantity,
			AverageCost: pc.NewAverageCost,
		}
	}
	return result, nil
}

// weightedAverageCost folds a new lot into an existing cost basis:
// (oldAvg*oldQty + price*qty) / (oldQty + qty).
func weightedAverageCost(oldAvg decimal.Decimal, oldQty int64, price decimal.Decimal, qty int64) decimal.Decimal {
	oldQ := decimal.NewFromInt(oldQty)
	newQ := decimal.NewFromInt(qty)
	return oldAvg.Mul(oldQ).
		Add(price.Mul(newQ)).
		Div(oldQ.Add(newQ))
}
