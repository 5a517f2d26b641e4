package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkbet/darkbet/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Upsert inserts or updates a balance row.
func (s *BalanceStore) Upsert(ctx context.Context, b domain.Balance) error {
	const query = `
		INSERT INTO balances (owner, available, locked, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner) DO UPDATE SET
			available  = EXCLUDED.available,
			locked     = EXCLUDED.locked,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, b.Owner, b.Available, b.Locked)
	if err != nil {
		return fmt.Errorf("postgres: upsert balance %s: %w", b.Owner, err)
	}
	return nil
}

// Get retrieves one owner's balance.
func (s *BalanceStore) Get(ctx context.Context, owner string) (domain.Balance, error) {
	var b domain.Balance
	err := s.pool.QueryRow(ctx,
		`SELECT owner, available, locked FROM balances WHERE owner = $1`, owner,
	).Scan(&b.Owner, &b.Available, &b.Locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Balance{}, domain.ErrNotFound
		}
		return domain.Balance{}, fmt.Errorf("postgres: get balance %s: %w", owner, err)
	}
	return b, nil
}

// List returns every balance for startup replay.
func (s *BalanceStore) List(ctx context.Context) ([]domain.Balance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner, available, locked FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances: %w", err)
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.Owner, &b.Available, &b.Locked); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list balances rows: %w", err)
	}
	return balances, nil
}
