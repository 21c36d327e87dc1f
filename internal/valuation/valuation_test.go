package valuation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockfx/ledger-engine/internal/model"
	"github.com/stockfx/ledger-engine/internal/store"
	"github.com/stockfx/ledger-engine/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type staticQuotes map[string]decimal.Decimal

func (q staticQuotes) CurrentPrice(symbol string) (decimal.Decimal, bool) {
	p, ok := q[symbol]
	return p, ok
}

// seedPortfolio creates a user with the given balance and positions.
func seedPortfolio(t *testing.T, balance decimal.Decimal, positions []model.Position) (*store.MemoryStore, string) {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()

	uid := uuid.New().String()
	if err := ms.CreateUser(ctx, &model.User{ID: uid, Username: "viewer", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := ms.ApplySettlement(ctx, &store.Settlement{
		UserID:     uid,
		NewBalance: balance,
		Record: model.TransactionRecord{
			ID: uuid.New().String(), UserID: uid, Kind: model.KindDeposit,
			Quantity: 1, UnitPrice: balance, Timestamp: time.Now().UTC(),
		},
	}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	prev := balance
	for _, pos := range positions {
		cost := pos.AverageCost.Mul(decimal.NewFromInt(pos.Quantity))
		next := prev.Sub(cost)
		if err := ms.ApplySettlement(ctx, &store.Settlement{
			UserID:      uid,
			PrevBalance: prev,
			NewBalance:  next,
			Position: &store.PositionChange{
				Symbol:         pos.Symbol,
				NewQuantity:    pos.Quantity,
				NewAverageCost: pos.AverageCost,
			},
			Record: model.TransactionRecord{
				ID: uuid.New().String(), UserID: uid, Symbol: pos.Symbol,
				Kind: model.KindBuy, Quantity: pos.Quantity,
				UnitPrice: pos.AverageCost, Timestamp: time.Now().UTC(),
			},
		}); err != nil {
			t.Fatalf("seed position %s: %v", pos.Symbol, err)
		}
		prev = next
	}
	return ms, uid
}

func TestPortfolioValue(t *testing.T) {
	ms, uid := seedPortfolio(t, d(1000), []model.Position{
		{Symbol: "TCS", Quantity: 10, AverageCost: d(5)},
		{Symbol: "INFY", Quantity: 4, AverageCost: d(20)},
	})
	svc := valuation.NewService(ms, staticQuotes{"TCS": d(6), "INFY": d(25)}, nil, 0)

	value, err := svc.PortfolioValue(context.Background(), uid)
	if err != nil {
		t.Fatalf("portfolio value: %v", err)
	}
	// 10*6 + 4*25 = 160
	if !value.Equal(d(160)) {
		t.Errorf("expected 160, got %s", value)
	}
}

func TestPositionMarketValue_FallsBackToAverageCost(t *testing.T) {
	ms, uid := seedPortfolio(t, d(1000), []model.Position{
		{Symbol: "TCS", Quantity: 10, AverageCost: d(5)},
		{Symbol: "DLST", Quantity: 3, AverageCost: d(40)}, // delisted: no quote
	})
	svc := valuation.NewService(ms, staticQuotes{"TCS": d(6)}, nil, 0)

	// Valuation must never fail for a missing quote.
	value, err := svc.PortfolioValue(context.Background(), uid)
	if err != nil {
		t.Fatalf("portfolio value: %v", err)
	}
	// 10*6 + 3*40 (cost basis) = 180
	if !value.Equal(d(180)) {
		t.Errorf("expected 180, got %s", value)
	}

	mv := svc.PositionMarketValue(model.Position{Symbol: "DLST", Quantity: 3, AverageCost: d(40)})
	if !mv.Equal(d(120)) {
		t.Errorf("expected fallback value 120, got %s", mv)
	}
}

func TestAllocation(t *testing.T) {
	ms, uid := seedPortfolio(t, d(1000), []model.Position{
		{Symbol: "INFY", Quantity: 4, AverageCost: d(20)},
		{Symbol: "TCS", Quantity: 10, AverageCost: d(5)},
	})
	svc := valuation.NewService(ms, staticQuotes{"TCS": d(6), "INFY": d(25)}, nil, 0)

	slices, err := svc.Allocation(context.Background(), uid)
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if len(slices) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(slices))
	}
	// Store lists positions by symbol.
	if slices[0].Symbol != "INFY" || !slices[0].Value.Equal(d(100)) {
		t.Errorf("unexpected first slice: %+v", slices[0])
	}
	if slices[1].Symbol != "TCS" || !slices[1].Value.Equal(d(60)) {
		t.Errorf("unexpected second slice: %+v", slices[1])
	}
}

func TestPortfolioProjection(t *testing.T) {
	ms, uid := seedPortfolio(t, d(1000), []model.Position{
		{Symbol: "TCS", Quantity: 10, AverageCost: d(5)},
	})
	svc := valuation.NewService(ms, staticQuotes{"TCS": d(6)}, nil, 0)

	p, err := svc.Portfolio(context.Background(), uid)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !p.Account.CashBalance.Equal(d(950)) {
		t.Errorf("expected balance 950, got %s", p.Account.CashBalance)
	}
	if len(p.Positions) != 1 {
		t.Fatalf("expected 1 position view, got %d", len(p.Positions))
	}
	if !p.Positions[0].MarketValue.Equal(d(60)) {
		t.Errorf("expected market value 60, got %s", p.Positions[0].MarketValue)
	}
	if !p.TotalValue.Equal(d(60)) {
		t.Errorf("expected total 60, got %s", p.TotalValue)
	}
}

// --- Rolling series ---

func TestRollingSeries_FIFOEviction(t *testing.T) {
	rs := valuation.NewRollingSeries(20)

	for i := 0; i < 25; i++ {
		rs.Append(decimal.NewFromInt(int64(i)))
	}

	samples := rs.Samples()
	if len(samples) != 20 {
		t.Fatalf("expected 20 samples, got %d", len(samples))
	}
	// The oldest 5 are gone; the remaining 20 keep their order and indices.
	if samples[0].Index != 5 {
		t.Errorf("expected first index 5, got %d", samples[0].Index)
	}
	for i, s := range samples {
		wantIdx := int64(i + 5)
		if s.Index != wantIdx {
			t.Errorf("sample %d: expected index %d, got %d", i, wantIdx, s.Index)
		}
		if !s.Value.Equal(decimal.NewFromInt(wantIdx)) {
			t.Errorf("sample %d: expected value %d, got %s", i, wantIdx, s.Value)
		}
	}
}

func TestRollingSeries_BelowCapacity(t *testing.T) {
	rs := valuation.NewRollingSeries(20)
	rs.Append(d(1))
	rs.Append(d(2))

	samples := rs.Samples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Index != 0 || samples[1].Index != 1 {
		t.Errorf("unexpected indices: %+v", samples)
	}
}

func TestSample_AppendsPerUserSeries(t *testing.T) {
	quotes := staticQuotes{"TCS": d(6)}
	ms, uid := seedPortfolio(t, d(1000), []model.Position{
		{Symbol: "TCS", Quantity: 10, AverageCost: d(5)},
	})
	svc := valuation.NewService(ms, quotes, nil, 20)
	ctx := context.Background()

	if err := svc.Sample(ctx, uid); err != nil {
		t.Fatalf("sample: %v", err)
	}
	quotes["TCS"] = d(7)
	if err := svc.Sample(ctx, uid); err != nil {
		t.Fatalf("sample: %v", err)
	}

	samples := svc.Series(uid)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if !samples[0].Value.Equal(d(60)) || !samples[1].Value.Equal(d(70)) {
		t.Errorf("unexpected sampled values: %+v", samples)
	}

	// Other users have their own, empty series.
	if got := svc.Series("someone-else"); len(got) != 0 {
		t.Errorf("expected empty series for other user, got %d", len(got))
	}
}
