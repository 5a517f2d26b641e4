package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/darkbet/darkbet/internal/domain"
)

// depthTTL bounds staleness when the engine stops publishing for a market,
// for example after resolution.
const depthTTL = 10 * time.Minute

// DepthCache implements domain.DepthCache storing one JSON snapshot per
// market. The engine overwrites the snapshot after every book mutation, so
// readers never observe a partially updated book.
type DepthCache struct {
	rdb *redis.Client
}

// NewDepthCache creates a DepthCache backed by the given Client.
func NewDepthCache(c *Client) *DepthCache {
	return &DepthCache{rdb: c.Underlying()}
}

func depthKey(marketID string) string { return "depth:" + marketID }

// SetDepth stores the anonymized book snapshot for a market.
func (dc *DepthCache) SetDepth(ctx context.Context, d domain.Depth) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("redis: marshal depth %s: %w", d.MarketID, err)
	}
	if err := dc.rdb.Set(ctx, depthKey(d.MarketID), data, depthTTL).Err(); err != nil {
		return fmt.Errorf("redis: set depth %s: %w", d.MarketID, err)
	}
	return nil
}

// GetDepth retrieves the cached snapshot for a market. It returns
// domain.ErrNotFound when no snapshot exists or the TTL expired.
func (dc *DepthCache) GetDepth(ctx context.Context, marketID string) (domain.Depth, error) {
	data, err := dc.rdb.Get(ctx, depthKey(marketID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.Depth{}, domain.ErrNotFound
		}
		return domain.Depth{}, fmt.Errorf("redis: get depth %s: %w", marketID, err)
	}

	var d domain.Depth
	if err := json.Unmarshal(data, &d); err != nil {
		return domain.Depth{}, fmt.Errorf("redis: unmarshal depth %s: %w", marketID, err)
	}
	return d, nil
}

// Compile-time interface check.
var _ domain.DepthCache = (*DepthCache)(nil)
