// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Share quantities are whole units and use int64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Kind classifies a transaction record.
type Kind string

const (
	KindBuy     Kind = "BUY"
	KindSell    Kind = "SELL"
	KindDeposit Kind = "DEPOSIT"
)

// Account is a user's cash book. One per user, created at signup with a
// zero balance. Mutated only by deposits and order settlement.
type Account struct {
	UserID      string          `json:"user_id" db:"user_id"`
	CashBalance decimal.Decimal `json:"cash_balance" db:"cash_balance"`
}

// Position is a user's aggregate holding in one symbol. A position row
// exists only while Quantity > 0; selling a holding down to zero removes
// the row rather than leaving it behind.
type Position struct {
	UserID      string          `json:"user_id" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost" db:"average_cost"`
}

// TransactionRecord is an immutable entry in the append-only transaction
// log. Once written these are never modified or deleted; they are the
// audit trail for every settled order and deposit.
//
// For deposits Symbol is empty, Quantity is 1 and UnitPrice carries the
// deposited amount, so the amount is always recoverable from the record.
type TransactionRecord struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol,omitempty" db:"symbol"`
	Kind      Kind            `json:"kind" db:"kind"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	Timestamp time.Time       `json:"timestamp" db:"created_at"`
}

// Amount returns the cash value of the record: quantity times unit price.
func (t TransactionRecord) Amount() decimal.Decimal {
	return t.UnitPrice.Mul(decimal.NewFromInt(t.Quantity))
}

// Quote is an ephemeral market price for one symbol. Quotes are never
// persisted by the core; they are read at settlement and valuation time.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name,omitempty"`
	Price  decimal.Decimal `json:"price"`
}

// User is an authenticated identity. The password hash never leaves the
// store layer in API responses.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// PositionView is a read-only projection of a position decorated with its
// current market value, for the portfolio table and allocation breakdown.
type PositionView struct {
	Position
	Name        string          `json:"name,omitempty"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// Portfolio is the full read-only projection handed to the presentation
// layer: account snapshot, decorated positions, and total market value.
type Portfolio struct {
	Account    Account         `json:"account"`
	Positions  []PositionView  `json:"positions"`
	TotalValue decimal.Decimal `json:"total_value"`
}
