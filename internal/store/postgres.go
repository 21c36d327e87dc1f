package store

import (
	"context"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockfx/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// the shopspring decimal codec is registered on every pooled connection.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPool creates a pgx pool for dbURL with the decimal codec registered.
func NewPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	config.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrUserExists
		}
		return err
	}

	// Account opens with a zero balance in the same transaction.
	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts (user_id, cash_balance) VALUES ($1, 0)`,
		u.ID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetUserByName(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return &u, nil
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, cash_balance FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &a.CashBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	return &a, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	var p model.Position
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, symbol, quantity, average_cost
		 FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol).
		Scan(&p.UserID, &p.Symbol, &p.Quantity, &p.AverageCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, symbol, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, symbol, quantity, average_cost
		 FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Quantity, &p.AverageCost); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ApplySettlement commits balance, position, and transaction record in a
// single database transaction. Each UPDATE/DELETE carries the expected
// prior value in its predicate; zero rows affected means another writer
// got there first and the whole transaction rolls back with ErrConflict.
func (s *PostgresStore) ApplySettlement(ctx context.Context, st *Settlement) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET cash_balance = $3
		 WHERE user_id = $1 AND cash_balance = $2`,
		st.UserID, st.PrevBalance, st.NewBalance,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.settlementMiss(ctx, st.UserID)
	}

	if pc := st.Position; pc != nil {
		if err := applyPositionChange(ctx, tx, st.UserID, pc); err != nil {
			return err
		}
	}

	r := st.Record
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, symbol, kind, quantity, unit_price, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		r.ID, r.UserID, r.Symbol, string(r.Kind), r.Quantity, r.UnitPrice, r.Timestamp,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func applyPositionChange(ctx context.Context, tx pgx.Tx, userID string, pc *PositionChange) error {
	switch {
	case pc.PrevQuantity == 0:
		// First buy of this symbol; a concurrent insert surfaces as zero
		// rows via ON CONFLICT DO NOTHING.
		tag, err := tx.Exec(ctx,
			`INSERT INTO positions (user_id, symbol, quantity, average_cost)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, symbol) DO NOTHING`,
			userID, pc.Symbol, pc.NewQuantity, pc.NewAverageCost,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}

	case pc.NewQuantity == 0:
		tag, err := tx.Exec(ctx,
			`DELETE FROM positions
			 WHERE user_id = $1 AND symbol = $2 AND quantity = $3`,
			userID, pc.Symbol, pc.PrevQuantity,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}

	default:
		tag, err := tx.Exec(ctx,
			`UPDATE positions SET quantity = $4, average_cost = $5
			 WHERE user_id = $1 AND symbol = $2 AND quantity = $3`,
			userID, pc.Symbol, pc.PrevQuantity, pc.NewQuantity, pc.NewAverageCost,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
	}
	return nil
}

// settlementMiss distinguishes a missing account from a stale balance.
func (s *PostgresStore) settlementMiss(ctx context.Context, userID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, userID).
		Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, COALESCE(symbol, ''), kind, quantity, unit_price, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.TransactionRecord
	for rows.Next() {
		var r model.TransactionRecord
		var kind string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Symbol, &kind,
			&r.Quantity, &r.UnitPrice, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Kind = model.Kind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) AddWatch(ctx context.Context, userID, symbol string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist (user_id, symbol) VALUES ($1, $2)
		 ON CONFLICT (user_id, symbol) DO NOTHING`,
		userID, symbol,
	)
	return err
}

func (s *PostgresStore) RemoveWatch(ctx context.Context, userID, symbol string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist WHERE user_id = $1 AND symbol = $2`,
		userID, symbol,
	)
	return err
}

func (s *PostgresStore) ListWatchlist(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol FROM watchlist WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}
