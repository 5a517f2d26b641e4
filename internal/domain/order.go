package domain

import "time"

// Side indicates which outcome an order is buying.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Valid reports whether s is one of the two defined sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Order is a resting limit order. Amount is the remaining locked notional,
// not a share count; it decreases on partial fills and the order is removed
// once it reaches zero. Owner is internal state and must never be exposed
// through public reads.
type Order struct {
	ID        string
	Owner     string // lowercase hex address
	MarketID  string
	Side      Side
	Price     int64 // basis points, [1, 9999]
	Amount    int64 // remaining locked notional, micro-USDC
	CreatedAt time.Time
}

// DepthLevel is one aggregated price level of the public order book view.
type DepthLevel struct {
	Price  int64 `json:"price"`
	Amount int64 `json:"amount"`
}

// Depth is the anonymized order book snapshot served to the public. It
// carries aggregate amounts per price and no owner identities.
type Depth struct {
	MarketID string       `json:"market_id"`
	Yes      []DepthLevel `json:"yes"`
	No       []DepthLevel `json:"no"`
}
