package quote

import (
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stockfx/ledger-engine/internal/model"
)

// Instrument seeds the simulator with a tradable symbol, its display
// name, and an opening price.
type Instrument struct {
	Symbol string
	Name   string
	Price  decimal.Decimal
}

// DefaultInstruments is the built-in market used when no catalog is
// configured.
func DefaultInstruments() []Instrument {
	return []Instrument{
		{Symbol: "TCS", Name: "Tata Consultancy", Price: decimal.NewFromFloat(3821.50)},
		{Symbol: "INFY", Name: "Infosys Ltd", Price: decimal.NewFromFloat(1445.75)},
		{Symbol: "HDFC", Name: "HDFC Bank", Price: decimal.NewFromFloat(1602.90)},
		{Symbol: "RELI", Name: "Reliance Industries", Price: decimal.NewFromFloat(2904.40)},
		{Symbol: "WIPR", Name: "Wipro Ltd", Price: decimal.NewFromFloat(468.10)},
	}
}

// Simulator implements Source with a bounded random walk: each Tick moves
// every price by up to ±1% and rounds to two decimal places. Prices are
// plain immutable values returned per query; nothing observes the
// simulator's internals.
//
// The simulator holds no timer of its own. The process entry point drives
// Tick on whatever cadence it wants.
type Simulator struct {
	mu     sync.RWMutex
	rng    *rand.Rand
	names  map[string]string
	prices map[string]decimal.Decimal
	order  []string
}

// NewSimulator creates a simulator over the given instruments.
// The seed makes test runs reproducible.
func NewSimulator(instruments []Instrument, seed int64) *Simulator {
	s := &Simulator{
		rng:    rand.New(rand.NewSource(seed)),
		names:  make(map[string]string, len(instruments)),
		prices: make(map[string]decimal.Decimal, len(instruments)),
	}
	for _, in := range instruments {
		s.names[in.Symbol] = in.Name
		s.prices[in.Symbol] = in.Price
		s.order = append(s.order, in.Symbol)
	}
	return s
}

// CurrentPrice returns the latest price for symbol.
func (s *Simulator) CurrentPrice(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[symbol]
	return p, ok
}

// Name returns the display name for symbol, or the empty string.
func (s *Simulator) Name(symbol string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.names[symbol]
}

// Quotes returns a snapshot of every instrument in seed order.
func (s *Simulator) Quotes() []model.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make([]model.Quote, 0, len(s.order))
	for _, sym := range s.order {
		quotes = append(quotes, model.Quote{
			Symbol: sym,
			Name:   s.names[sym],
			Price:  s.prices[sym],
		})
	}
	return quotes
}

// Tick advances every price one random-walk step:
// price *= 1 + (rand-0.5)*0.02, rounded to 2 decimal places.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sym, price := range s.prices {
		step := decimal.NewFromFloat((s.rng.Float64() - 0.5) * 0.02)
		next := price.Mul(decimal.NewFromInt(1).Add(step)).Round(2)
		if next.IsPositive() {
			s.prices[sym] = next
		}
	}
}
