// Package valuation computes read-only portfolio projections: current
// market value per position, total portfolio value, the allocation
// breakdown, and a rolling value series for trend display.
//
// Valuation never fails for a missing quote — a position with no live
// price degrades to its average cost basis.
package valuation

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stockfx/ledger-engine/internal/model"
	"github.com/stockfx/ledger-engine/internal/quote"
	"github.com/stockfx/ledger-engine/internal/store"
)

// DefaultSeriesCapacity bounds the rolling value series served to charts.
const DefaultSeriesCapacity = 20

// Namer resolves a symbol to its display name. Optional.
type Namer interface {
	Name(symbol string) string
}

// Slice is one wedge of the allocation breakdown (pie-chart series).
type Slice struct {
	Symbol string          `json:"symbol"`
	Value  decimal.Decimal `json:"value"`
}

// Service reads positions and quotes; it never mutates ledger state, so
// it needs no coordination with order settlement beyond read isolation.
type Service struct {
	store    store.Store
	quotes   quote.Source
	namer    Namer
	capacity int

	mu     sync.Mutex
	series map[string]*RollingSeries // userID → rolling value series
}

// NewService creates a valuation service. namer may be nil; capacity <= 0
// selects DefaultSeriesCapacity.
func NewService(st store.Store, quotes quote.Source, namer Namer, capacity int) *Service {
	if capacity <= 0 {
		capacity = DefaultSeriesCapacity
	}
	return &Service{
		store:    st,
		quotes:   quotes,
		namer:    namer,
		capacity: capacity,
		series:   make(map[string]*RollingSeries),
	}
}

// PositionMarketValue is quantity × current price, falling back to the
// position's average cost when the feed has no quote for the symbol.
func (s *Service) PositionMarketValue(pos model.Position) decimal.Decimal {
	price, ok := s.quotes.CurrentPrice(pos.Symbol)
	if !ok {
		price = pos.AverageCost
	}
	return price.Mul(decimal.NewFromInt(pos.Quantity))
}

// PortfolioValue sums the market value of every position the user holds.
func (s *Service) PortfolioValue(ctx context.Context, userID string) (decimal.Decimal, error) {
	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, pos := range positions {
		total = total.Add(s.PositionMarketValue(pos))
	}
	return total, nil
}

// Portfolio returns the full presentation projection: account snapshot,
// positions decorated with names and market values, and the total.
func (s *Service) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]model.PositionView, 0, len(positions))
	total := decimal.Zero
	for _, pos := range positions {
		value := s.PositionMarketValue(pos)
		total = total.Add(value)

		view := model.PositionView{Position: pos, MarketValue: value}
		if s.namer != nil {
			view.Name = s.namer.Name(pos.Symbol)
		}
		views = append(views, view)
	}

	return &model.Portfolio{
		Account:    *acct,
		Positions:  views,
		TotalValue: total,
	}, nil
}

// Allocation returns the per-symbol market value breakdown.
func (s *Service) Allocation(ctx context.Context, userID string) ([]Slice, error) {
	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	slices := make([]Slice, 0, len(positions))
	for _, pos := range positions {
		slices = append(slices, Slice{
			Symbol: pos.Symbol,
			Value:  s.PositionMarketValue(pos),
		})
	}
	return slices, nil
}

// Sample appends the user's current portfolio value to their rolling
// series. Called on a periodic external trigger; the service holds no
// timer of its own.
func (s *Service) Sample(ctx context.Context, userID string) error {
	value, err := s.PortfolioValue(ctx, userID)
	if err != nil {
		return err
	}
	s.userSeries(userID).Append(value)
	return nil
}

// Series returns the user's rolling value samples, oldest first.
func (s *Service) Series(userID string) []Sample {
	return s.userSeries(userID).Samples()
}

func (s *Service) userSeries(userID string) *RollingSeries {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.series[userID]
	if !ok {
		rs = NewRollingSeries(s.capacity)
		s.series[userID] = rs
	}
	return rs
}
