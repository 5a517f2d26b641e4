package domain

import "context"

// MarketStore persists market metadata.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context) ([]Market, error)
}

// OrderStore persists resting orders. Orders are created on submission,
// shrunk on partial fills, and deleted when fully filled or refunded.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	UpdateAmount(ctx context.Context, id string, amount int64) error
	Delete(ctx context.Context, id string) error
	ListOpen(ctx context.Context) ([]Order, error)
}

// PositionStore persists per-(owner, market) share positions.
type PositionStore interface {
	Upsert(ctx context.Context, p Position) error
	Get(ctx context.Context, owner, marketID string) (Position, error)
	List(ctx context.Context) ([]Position, error)
}

// BalanceStore persists the internal collateral ledger.
type BalanceStore interface {
	Upsert(ctx context.Context, b Balance) error
	Get(ctx context.Context, owner string) (Balance, error)
	List(ctx context.Context) ([]Balance, error)
}

// TradeStore persists executions for volume history and settlement archives.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListByMarket(ctx context.Context, marketID string) ([]Trade, error)
}
