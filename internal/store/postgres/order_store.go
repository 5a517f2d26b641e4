package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkbet/darkbet/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Only resting
// orders live here; fully filled and refunded orders are deleted.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderCols = `id, owner, market_id, side, price, amount, created_at`

// Create inserts a freshly rested order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (id, owner, market_id, side, price, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Owner, o.MarketID, string(o.Side), o.Price, o.Amount, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateAmount shrinks an order's remaining amount after a partial fill.
func (s *OrderStore) UpdateAmount(ctx context.Context, id string, amount int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET amount = $2 WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("postgres: update order %s amount: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a fully filled or refunded order.
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete order %s: %w", id, err)
	}
	return nil
}

// ListOpen returns every resting order, oldest first, for startup replay.
func (s *OrderStore) ListOpen(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open orders rows: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side string
	err := row.Scan(&o.ID, &o.Owner, &o.MarketID, &side, &o.Price, &o.Amount, &o.CreatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.Side(side)
	return o, nil
}
