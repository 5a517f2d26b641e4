// Package domain defines the core data model shared by the matching engine,
// the deposit relayer, and the persistence layers. All monetary amounts are
// int64 micro-USDC (1e6 = $1); prices are int64 basis points of the $1
// outcome payout, valid in [1, 9999].
package domain

import "time"

// Market is a binary-outcome (YES/NO) prediction market. It is created once,
// accumulates TotalVolume as trades execute, and transitions Resolved
// false->true exactly once; after resolution it is immutable.
type Market struct {
	ID          string // hex keccak256 content identifier
	Question    string
	ExpiresAt   time.Time
	Resolved    bool
	Outcome     bool  // meaningful only when Resolved
	TotalVolume int64 // cumulative matched notional, micro-USDC
	CreatedAt   time.Time
}
