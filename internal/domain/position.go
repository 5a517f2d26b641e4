package domain

// Position tracks one user's share holdings in one market. Shares are
// monotonically non-decreasing until settlement; after the market resolves,
// winning shares convert to available balance 1:1 and the position becomes
// terminal (Settled).
type Position struct {
	Owner     string
	MarketID  string
	YesShares int64 // micro-shares (1e6 = one $1-payout share)
	NoShares  int64
	TotalCost int64 // cumulative matched notional paid, micro-USDC
	Settled   bool
}
