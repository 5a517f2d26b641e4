package engine

import (
	"sort"
	"sync"

	"github.com/darkbet/darkbet/internal/domain"
)

// payoutBps is the full $1 payout expressed in basis points. Two orders
// cross when their prices jointly cover it: priceYes + priceNo >= payoutBps.
const payoutBps = 10000

// marketState holds all mutable state of one market. Its mutex serializes
// every transition for the market (submission, matching, resolution), so
// concurrent submissions never interleave partial updates.
type marketState struct {
	mu        sync.Mutex
	market    domain.Market
	yes       []*domain.Order
	no        []*domain.Order
	positions map[string]*domain.Position // keyed by owner
}

func newMarketState(m domain.Market) *marketState {
	return &marketState{
		market:    m,
		positions: make(map[string]*domain.Position),
	}
}

// book returns the resting orders for one side. Caller must hold ms.mu.
func (ms *marketState) book(side domain.Side) *[]*domain.Order {
	if side == domain.SideYes {
		return &ms.yes
	}
	return &ms.no
}

// bestCrossing finds the resting opposite-side order that crosses an
// incoming order at price: lowest opposite price first (cheapest
// complement), ties broken by earliest CreatedAt. Returns -1 when nothing
// crosses. Caller must hold ms.mu.
func bestCrossing(opposite []*domain.Order, price int64) int {
	best := -1
	for i, o := range opposite {
		if price+o.Price < payoutBps {
			continue
		}
		if best == -1 ||
			o.Price < opposite[best].Price ||
			(o.Price == opposite[best].Price && o.CreatedAt.Before(opposite[best].CreatedAt)) {
			best = i
		}
	}
	return best
}

// removeOrder deletes the order at index i, preserving slice order so
// iteration stays deterministic. Caller must hold ms.mu.
func removeOrder(orders *[]*domain.Order, i int) {
	*orders = append((*orders)[:i], (*orders)[i+1:]...)
}

// position returns the owner's position entry, creating it if needed.
// Caller must hold ms.mu.
func (ms *marketState) position(owner string) *domain.Position {
	owner = normalizeAddr(owner)
	p, ok := ms.positions[owner]
	if !ok {
		p = &domain.Position{Owner: owner, MarketID: ms.market.ID}
		ms.positions[owner] = p
	}
	return p
}

// depthLocked aggregates resting amounts per price level for the public,
// anonymized order book view. Levels are sorted best price first (highest
// bid for the outcome). Caller must hold ms.mu.
func (ms *marketState) depthLocked() domain.Depth {
	return domain.Depth{
		MarketID: ms.market.ID,
		Yes:      aggregateLevels(ms.yes),
		No:       aggregateLevels(ms.no),
	}
}

func aggregateLevels(orders []*domain.Order) []domain.DepthLevel {
	byPrice := make(map[int64]int64)
	for _, o := range orders {
		byPrice[o.Price] += o.Amount
	}
	levels := make([]domain.DepthLevel, 0, len(byPrice))
	for price, amount := range byPrice {
		levels = append(levels, domain.DepthLevel{Price: price, Amount: amount})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return levels
}
