package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockfx/ledger-engine/internal/model"
	"github.com/stockfx/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedUser(t *testing.T, ms *store.MemoryStore) string {
	t.Helper()
	user := &model.User{
		ID:        uuid.New().String(),
		Username:  "u-" + uuid.New().String()[:8],
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user.ID
}

func record(uid string, kind model.Kind, symbol string, qty int64, price decimal.Decimal, at time.Time) model.TransactionRecord {
	return model.TransactionRecord{
		ID:        uuid.New().String(),
		UserID:    uid,
		Symbol:    symbol,
		Kind:      kind,
		Quantity:  qty,
		UnitPrice: price,
		Timestamp: at,
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	user := &model.User{ID: "u1", Username: "alice", CreatedAt: time.Now().UTC()}
	if err := ms.CreateUser(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &model.User{ID: "u2", Username: "alice", CreatedAt: time.Now().UTC()}
	if err := ms.CreateUser(ctx, dup); !errors.Is(err, store.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}

	// Account opens with a zero balance.
	acct, err := ms.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.CashBalance.IsZero() {
		t.Errorf("new account balance should be zero, got %s", acct.CashBalance)
	}
}

func TestApplySettlement_BalanceConflict(t *testing.T) {
	ms := store.NewMemoryStore()
	uid := seedUser(t, ms)
	ctx := context.Background()

	st := &store.Settlement{
		UserID:      uid,
		PrevBalance: d(999), // stale expectation
		NewBalance:  d(1099),
		Record:      record(uid, model.KindDeposit, "", 1, d(100), time.Now().UTC()),
	}
	if err := ms.ApplySettlement(ctx, st); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Nothing applied.
	acct, _ := ms.GetAccount(ctx, uid)
	if !acct.CashBalance.IsZero() {
		t.Errorf("balance should be unchanged, got %s", acct.CashBalance)
	}
	records, _ := ms.ListTransactions(ctx, uid)
	if len(records) != 0 {
		t.Errorf("no record should be appended, got %d", len(records))
	}
}

func TestApplySettlement_PositionConflicts(t *testing.T) {
	ms := store.NewMemoryStore()
	uid := seedUser(t, ms)
	ctx := context.Background()

	// Establish balance 100 and a 10-share position.
	if err := ms.ApplySettlement(ctx, &store.Settlement{
		UserID:     uid,
		NewBalance: d(100),
		Record:     record(uid, model.KindDeposit, "", 1, d(100), time.Now().UTC()),
	}); err != nil {
		t.Fatalf("deposit settlement: %v", err)
	}
	if err := ms.ApplySettlement(ctx, &store.Settlement{
		UserID:      uid,
		PrevBalance: d(100),
		NewBalance:  d(50),
		Position:    &store.PositionChange{Symbol: "TCS", NewQuantity: 10, NewAverageCost: d(5)},
		Record:      record(uid, model.KindBuy, "TCS", 10, d(5), time.Now().UTC()),
	}); err != nil {
		t.Fatalf("buy settlement: %v", err)
	}

	tests := []struct {
		name string
		pc   store.PositionChange
	}{
		{"insert over existing row", store.PositionChange{Symbol: "TCS", PrevQuantity: 0, NewQuantity: 5, NewAverageCost: d(5)}},
		{"update with stale quantity", store.PositionChange{Symbol: "TCS", PrevQuantity: 7, NewQuantity: 17, NewAverageCost: d(5)}},
		{"delete with stale quantity", store.PositionChange{Symbol: "TCS", PrevQuantity: 7, NewQuantity: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := tt.pc
			err := ms.ApplySettlement(ctx, &store.Settlement{
				UserID:      uid,
				PrevBalance: d(50),
				NewBalance:  d(40),
				Position:    &pc,
				Record:      record(uid, model.KindBuy, "TCS", 1, d(10), time.Now().UTC()),
			})
			if !errors.Is(err, store.ErrConflict) {
				t.Fatalf("expected ErrConflict, got %v", err)
			}

			// The conflicted settlement must not touch the balance either.
			acct, _ := ms.GetAccount(ctx, uid)
			if !acct.CashBalance.Equal(d(50)) {
				t.Errorf("balance should stay 50, got %s", acct.CashBalance)
			}
			pos, _ := ms.GetPosition(ctx, uid, "TCS")
			if pos.Quantity != 10 {
				t.Errorf("quantity should stay 10, got %d", pos.Quantity)
			}
		})
	}
}

func TestApplySettlement_DeleteRemovesRow(t *testing.T) {
	ms := store.NewMemoryStore()
	uid := seedUser(t, ms)
	ctx := context.Background()

	ms.ApplySettlement(ctx, &store.Settlement{
		UserID:     uid,
		NewBalance: d(100),
		Record:     record(uid, model.KindDeposit, "", 1, d(100), time.Now().UTC()),
	})
	ms.ApplySettlement(ctx, &store.Settlement{
		UserID:      uid,
		PrevBalance: d(100),
		NewBalance:  d(50),
		Position:    &store.PositionChange{Symbol: "TCS", NewQuantity: 10, NewAverageCost: d(5)},
		Record:      record(uid, model.KindBuy, "TCS", 10, d(5), time.Now().UTC()),
	})

	if err := ms.ApplySettlement(ctx, &store.Settlement{
		UserID:      uid,
		PrevBalance: d(50),
		NewBalance:  d(120),
		Position:    &store.PositionChange{Symbol: "TCS", PrevQuantity: 10, NewQuantity: 0},
		Record:      record(uid, model.KindSell, "TCS", 10, d(7), time.Now().UTC()),
	}); err != nil {
		t.Fatalf("sell settlement: %v", err)
	}

	if _, err := ms.GetPosition(ctx, uid, "TCS"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("position row should be gone, got %v", err)
	}
	positions, _ := ms.ListPositions(ctx, uid)
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
}

func TestListTransactions_NewestFirst(t *testing.T) {
	ms := store.NewMemoryStore()
	uid := seedUser(t, ms)
	ctx := context.Background()

	base := time.Now().UTC()
	balance := decimal.Zero
	for i := 0; i < 3; i++ {
		next := balance.Add(d(10))
		if err := ms.ApplySettlement(ctx, &store.Settlement{
			UserID:      uid,
			PrevBalance: balance,
			NewBalance:  next,
			Record:      record(uid, model.KindDeposit, "", 1, d(10), base.Add(time.Duration(i)*time.Second)),
		}); err != nil {
			t.Fatalf("settlement %d: %v", i, err)
		}
		balance = next
	}

	records, err := ms.ListTransactions(ctx, uid)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.After(records[i-1].Timestamp) {
			t.Errorf("records out of order at %d: %v after %v",
				i, records[i].Timestamp, records[i-1].Timestamp)
		}
	}
}

func TestWatchlist_IdempotentMembership(t *testing.T) {
	ms := store.NewMemoryStore()
	uid := seedUser(t, ms)
	ctx := context.Background()

	// Adding the same symbol twice keeps one entry.
	ms.AddWatch(ctx, uid, "TCS")
	ms.AddWatch(ctx, uid, "TCS")
	ms.AddWatch(ctx, uid, "INFY")

	symbols, _ := ms.ListWatchlist(ctx, uid)
	if len(symbols) != 2 {
		t.Fatalf("expected 2 symbols, got %v", symbols)
	}
	if symbols[0] != "INFY" || symbols[1] != "TCS" {
		t.Errorf("expected sorted [INFY TCS], got %v", symbols)
	}

	// Removing is idempotent too.
	ms.RemoveWatch(ctx, uid, "TCS")
	ms.RemoveWatch(ctx, uid, "TCS")
	symbols, _ = ms.ListWatchlist(ctx, uid)
	if len(symbols) != 1 || symbols[0] != "INFY" {
		t.Errorf("expected [INFY], got %v", symbols)
	}
}
