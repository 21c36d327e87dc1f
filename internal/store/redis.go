package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockfx/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over display projections (positions, transactions, watchlist).
// Settlements and watchlist writes go to the primary store and invalidate
// the affected keys. Rows that feed the settlement loop's compare-and-set
// basis are never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (primary first, then invalidate) ---

func (s *CachedStore) ApplySettlement(ctx context.Context, st *Settlement) error {
	if err := s.primary.ApplySettlement(ctx, st); err != nil {
		return err
	}
	// Settlement touches the cached position and transaction projections;
	// the account row is never cached.
	s.rdb.Del(ctx, positionsKey(st.UserID), transactionsKey(st.UserID))
	return nil
}

func (s *CachedStore) AddWatch(ctx context.Context, userID, symbol string) error {
	if err := s.primary.AddWatch(ctx, userID, symbol); err != nil {
		return err
	}
	s.rdb.Del(ctx, watchlistKey(userID))
	return nil
}

func (s *CachedStore) RemoveWatch(ctx context.Context, userID, symbol string) error {
	if err := s.primary.RemoveWatch(ctx, userID, symbol); err != nil {
		return err
	}
	s.rdb.Del(ctx, watchlistKey(userID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string) ([]model.TransactionRecord, error) {
	data, err := s.rdb.Get(ctx, transactionsKey(userID)).Bytes()
	if err == nil {
		var records []model.TransactionRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.primary.ListTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, transactionsKey(userID), data, s.ttl)
	}
	return records, nil
}

func (s *CachedStore) ListWatchlist(ctx context.Context, userID string) ([]string, error) {
	data, err := s.rdb.Get(ctx, watchlistKey(userID)).Bytes()
	if err == nil {
		var symbols []string
		if json.Unmarshal(data, &symbols) == nil {
			return symbols, nil
		}
	}

	symbols, err := s.primary.ListWatchlist(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(symbols); err == nil {
		s.rdb.Set(ctx, watchlistKey(userID), data, s.ttl)
	}
	return symbols, nil
}

// --- Passthrough (not cached) ---

// GetAccount and GetPosition feed the compare-and-set basis of the
// settlement loop, so they always hit the primary. A stale row here is
// worse than a wasted retry: a cached balance set after a concurrent
// settlement's invalidation would make every bounded retry resubmit the
// same stale PrevBalance until the TTL expires.
func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, userID)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, symbol)
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUserByName(ctx context.Context, username string) (*model.User, error) {
	return s.primary.GetUserByName(ctx, username)
}

func (s *CachedStore) ListUserIDs(ctx context.Context) ([]string, error) {
	return s.primary.ListUserIDs(ctx)
}

// --- Cache keys ---

func positionsKey(uid string) string    { return fmt.Sprintf("positions:%s", uid) }
func transactionsKey(uid string) string { return fmt.Sprintf("transactions:%s", uid) }
func watchlistKey(uid string) string    { return fmt.Sprintf("watchlist:%s", uid) }
