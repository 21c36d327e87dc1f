package quote_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stockfx/ledger-engine/internal/quote"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestSimulator_CurrentPrice(t *testing.T) {
	sim := quote.NewSimulator(quote.DefaultInstruments(), 1)

	price, ok := sim.CurrentPrice("TCS")
	if !ok {
		t.Fatal("expected a price for TCS")
	}
	if !price.Equal(d(3821.50)) {
		t.Errorf("expected opening price 3821.50, got %s", price)
	}

	if _, ok := sim.CurrentPrice("ZZZZ"); ok {
		t.Error("unknown symbol should have no price")
	}
}

func TestSimulator_TickBounds(t *testing.T) {
	sim := quote.NewSimulator(quote.DefaultInstruments(), 42)

	for i := 0; i < 100; i++ {
		before := sim.Quotes()
		sim.Tick()
		after := sim.Quotes()

		for j, q := range after {
			prev := before[j].Price
			if !q.Price.IsPositive() {
				t.Fatalf("tick %d: %s price not positive: %s", i, q.Symbol, q.Price)
			}
			// Each step is at most ±1% plus rounding to 2dp.
			maxMove := prev.Mul(d(0.0101)).Add(d(0.01))
			if q.Price.Sub(prev).Abs().GreaterThan(maxMove) {
				t.Fatalf("tick %d: %s moved %s → %s, beyond walk bound",
					i, q.Symbol, prev, q.Price)
			}
			if q.Price.Exponent() < -2 {
				t.Fatalf("tick %d: %s price not rounded to 2dp: %s", i, q.Symbol, q.Price)
			}
		}
	}
}

func TestSimulator_Deterministic(t *testing.T) {
	a := quote.NewSimulator(quote.DefaultInstruments(), 7)
	b := quote.NewSimulator(quote.DefaultInstruments(), 7)

	for i := 0; i < 10; i++ {
		a.Tick()
		b.Tick()
	}

	qa, qb := a.Quotes(), b.Quotes()
	for i := range qa {
		if !qa[i].Price.Equal(qb[i].Price) {
			t.Errorf("same seed diverged at %s: %s vs %s", qa[i].Symbol, qa[i].Price, qb[i].Price)
		}
	}
}

func TestSimulator_Name(t *testing.T) {
	sim := quote.NewSimulator(quote.DefaultInstruments(), 1)

	if name := sim.Name("INFY"); name != "Infosys Ltd" {
		t.Errorf("expected Infosys Ltd, got %q", name)
	}
	if name := sim.Name("ZZZZ"); name != "" {
		t.Errorf("expected empty name for unknown symbol, got %q", name)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"tcs", "TCS", false},
		{" INFY ", "INFY", false},
		{"BRK2", "BRK2", false},
		{"", "", true},
		{"2BAD", "", true},
		{"WAYTOOLONG", "", true},
		{"BAD-SYM", "", true},
	}

	for _, tt := range tests {
		got, err := quote.NormalizeSymbol(tt.in)
		if tt.wantErr {
			if !errors.Is(err, quote.ErrInvalidSymbol) {
				t.Errorf("%q: expected ErrInvalidSymbol, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
