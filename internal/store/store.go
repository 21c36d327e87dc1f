// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stockfx/ledger-engine/internal/model"
)

var (
	// ErrNotFound is returned when an account, user, or position row
	// does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a settlement's expected prior state no
	// longer matches the stored rows. The caller may re-read and retry;
	// nothing has been applied.
	ErrConflict = errors.New("store: write conflict")

	// ErrUserExists is returned by CreateUser when the username is taken.
	ErrUserExists = errors.New("store: username already exists")
)

// Settlement describes the complete effect of one settled order or deposit:
// the new cash balance, the position change (nil for deposits), and the
// transaction record to append. ApplySettlement commits all of it as one
// unit or none of it.
//
// PrevBalance and PositionChange.PrevQuantity carry the state the caller
// computed against; the store rejects the settlement with ErrConflict if
// the rows have moved since, so a concurrent order can never be applied on
// top of a stale snapshot.
type Settlement struct {
	UserID      string
	PrevBalance decimal.Decimal
	NewBalance  decimal.Decimal
	Position    *PositionChange
	Record      model.TransactionRecord
}

// PositionChange is the position half of a settlement.
// PrevQuantity zero means the row must not exist yet; NewQuantity zero
// means the row is deleted.
type PositionChange struct {
	Symbol         string
	PrevQuantity   int64
	NewQuantity    int64
	NewAverageCost decimal.Decimal
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user and its zero-balance account.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUserByName retrieves a user by username.
	GetUserByName(ctx context.Context, username string) (*model.User, error)

	// ListUserIDs returns the IDs of all users.
	ListUserIDs(ctx context.Context) ([]string, error)

	// --- Account and positions ---

	// GetAccount retrieves a user's account snapshot.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// GetPosition retrieves one position row, or ErrNotFound.
	GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error)

	// ListPositions returns all position rows for a user, ordered by symbol.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Settlement ---

	// ApplySettlement atomically commits the balance update, position
	// change, and transaction record of one order or deposit. On
	// ErrConflict nothing has been applied.
	ApplySettlement(ctx context.Context, s *Settlement) error

	// --- Transaction log ---

	// ListTransactions returns a user's records, newest first.
	ListTransactions(ctx context.Context, userID string) ([]model.TransactionRecord, error)

	// --- Watchlist ---

	// AddWatch adds a symbol to a user's watchlist. Idempotent.
	AddWatch(ctx context.Context, userID, symbol string) error

	// RemoveWatch removes a symbol from a user's watchlist. Idempotent.
	RemoveWatch(ctx context.Context, userID, symbol string) error

	// ListWatchlist returns a user's watched symbols, ordered.
	ListWatchlist(ctx context.Context, userID string) ([]string, error)
}
