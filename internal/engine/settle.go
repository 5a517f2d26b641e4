package engine

import (
	"context"
	"log/slog"

	"github.com/darkbet/darkbet/internal/domain"
)

// ResolveMarket declares the outcome of a market and settles every position.
// Resolution is one-way: a second call fails with ErrAlreadyResolved and has
// no effect. Winning shares convert 1:1 into available balance; losing
// shares are extinguished. Resting never-matched orders are cancelled and
// their locked notional refunded to available, so no collateral is stranded
// in a terminal market.
func (e *Engine) ResolveMarket(ctx context.Context, caller, marketID string, outcome bool) (domain.Market, error) {
	if !e.authz.isResolver(caller) {
		return domain.Market{}, domain.ErrUnauthorized
	}

	ms, err := e.marketState(marketID)
	if err != nil {
		return domain.Market{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.market.Resolved {
		return domain.Market{}, domain.ErrAlreadyResolved
	}

	// Refund resting orders first so locked balances are clean before
	// payouts land.
	refunded := 0
	for _, book := range []*[]*domain.Order{&ms.yes, &ms.no} {
		for _, o := range *book {
			e.ledger.Unlock(o.Owner, o.Amount)
			e.persistOrderDelete(ctx, o.ID)
			e.persistBalance(ctx, e.ledger.Get(o.Owner))
			refunded++
		}
		*book = nil
	}

	// Pay out winning shares and mark every position terminal.
	settled := 0
	for _, pos := range ms.positions {
		if pos.Settled {
			continue
		}
		winning := pos.NoShares
		if outcome {
			winning = pos.YesShares
		}
		if winning > 0 {
			e.ledger.Credit(pos.Owner, winning)
			e.persistBalance(ctx, e.ledger.Get(pos.Owner))
		}
		pos.Settled = true
		e.persistPosition(ctx, *pos)
		settled++
	}

	ms.market.Resolved = true
	ms.market.Outcome = outcome
	e.persistMarket(ctx, ms.market)

	e.logger.Info("market resolved",
		slog.String("market_id", marketID),
		slog.Bool("outcome", outcome),
		slog.Int("positions_settled", settled),
		slog.Int("orders_refunded", refunded),
	)
	return ms.market, nil
}
