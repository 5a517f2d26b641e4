package domain

import "time"

// Trade records one execution between a YES order and a NO order. The two
// owners are persisted for settlement archives but are never served through
// public reads; the public view of a trade is (market, amount, time) only.
type Trade struct {
	ID         string
	MarketID   string
	YesOwner   string
	NoOwner    string
	YesPrice   int64 // basis points paid by the YES side
	NoPrice    int64 // basis points paid by the NO side
	Amount     int64 // matched notional burned from each side's locked balance
	ExecutedAt time.Time
}

// TradeTick is the anonymized trade notification published on the signal bus
// and broadcast to WebSocket clients.
type TradeTick struct {
	MarketID   string    `json:"market_id"`
	Amount     int64     `json:"amount"`
	ExecutedAt time.Time `json:"executed_at"`
}
