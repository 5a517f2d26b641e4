package domain

import "context"

// DepthCache caches the anonymized order book snapshot per market so public
// depth reads and WebSocket broadcasts do not touch engine state.
type DepthCache interface {
	SetDepth(ctx context.Context, d Depth) error
	GetDepth(ctx context.Context, marketID string) (Depth, error)
}

// Signal bus channel names.
const (
	ChannelDepth  = "depth"
	ChannelTrades = "trades"
)

// SignalBus is a publish/subscribe channel for engine events (trade ticks,
// depth updates) consumed by the WebSocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
