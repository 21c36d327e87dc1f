// Package watchlist maintains per-user symbol watchlists. Membership is
// idempotent set semantics keyed on (user, symbol); the list carries no
// quantity or cost meaning and sits outside the financial consistency
// core. It shares the quote feed only to decorate rows for display.
package watchlist

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/stockfx/ledger-engine/internal/quote"
	"github.com/stockfx/ledger-engine/internal/store"
)

// Item is one watchlist row decorated with its display name and the
// latest price. Priced is false when the feed has no quote.
type Item struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name,omitempty"`
	Price  decimal.Decimal `json:"price"`
	Priced bool            `json:"priced"`
}

// Namer resolves a symbol to its display name. Optional.
type Namer interface {
	Name(symbol string) string
}

// Registry is the watchlist service over the shared store.
type Registry struct {
	store  store.Store
	quotes quote.Source
	namer  Namer
}

// NewRegistry creates a watchlist registry. namer may be nil.
func NewRegistry(st store.Store, quotes quote.Source, namer Namer) *Registry {
	return &Registry{store: st, quotes: quotes, namer: namer}
}

// Add puts symbol on the user's watchlist. Adding an already-watched
// symbol is a no-op; the set keeps one entry.
func (r *Registry) Add(ctx context.Context, userID, symbol string) error {
	sym, err := quote.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	return r.store.AddWatch(ctx, userID, sym)
}

// Remove takes symbol off the user's watchlist. Removing an unwatched
// symbol is a no-op.
func (r *Registry) Remove(ctx context.Context, userID, symbol string) error {
	sym, err := quote.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	return r.store.RemoveWatch(ctx, userID, sym)
}

// List returns the user's watched symbols decorated with current prices.
func (r *Registry) List(ctx context.Context, userID string) ([]Item, error) {
	symbols, err := r.store.ListWatchlist(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(symbols))
	for _, sym := range symbols {
		item := Item{Symbol: sym}
		if price, ok := r.quotes.CurrentPrice(sym); ok {
			item.Price = price
			item.Priced = true
		}
		if r.namer != nil {
			item.Name = r.namer.Name(sym)
		}
		items = append(items, item)
	}
	return items, nil
}
