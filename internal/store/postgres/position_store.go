package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkbet/darkbet/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `owner, market_id, yes_shares, no_shares, total_cost, settled`

// Upsert inserts or updates a position keyed by (owner, market).
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			owner, market_id, yes_shares, no_shares, total_cost, settled, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (owner, market_id) DO UPDATE SET
			yes_shares = EXCLUDED.yes_shares,
			no_shares  = EXCLUDED.no_shares,
			total_cost = EXCLUDED.total_cost,
			settled    = EXCLUDED.settled,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.Owner, p.MarketID, p.YesShares, p.NoShares, p.TotalCost, p.Settled,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.Owner, p.MarketID, err)
	}
	return nil
}

// Get retrieves one position by (owner, market).
func (s *PositionStore) Get(ctx context.Context, owner, marketID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE owner = $1 AND market_id = $2`,
		owner, marketID)
	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", owner, marketID, err)
	}
	return p, nil
}

// List returns every position for startup replay.
func (s *PositionStore) List(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(&p.Owner, &p.MarketID, &p.YesShares, &p.NoShares, &p.TotalCost, &p.Settled)
	if err != nil {
		return domain.Position{}, err
	}
	return p, nil
}
