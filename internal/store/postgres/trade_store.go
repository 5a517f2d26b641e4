package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkbet/darkbet/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trades are
// append-only; the table feeds volume history and settlement archives.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert records one execution.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, market_id, yes_owner, no_owner,
			yes_price, no_price, amount, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.MarketID, t.YesOwner, t.NoOwner,
		t.YesPrice, t.NoPrice, t.Amount, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByMarket returns a market's executions in execution order.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Trade, error) {
	const query = `
		SELECT id, market_id, yes_owner, no_owner,
		       yes_price, no_price, amount, executed_at
		FROM trades WHERE market_id = $1 ORDER BY executed_at`

	rows, err := s.pool.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", marketID, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.YesOwner, &t.NoOwner,
			&t.YesPrice, &t.NoPrice, &t.Amount, &t.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return trades, nil
}
