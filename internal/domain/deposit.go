package domain

// DepositEvent is one Deposited log observed on the collateral chain. ID is
// "txHash:logIndex", which uniquely identifies the event across re-polls and
// reorg-free replays and is the deduplication key for exactly-once crediting.
type DepositEvent struct {
	ID          string
	User        string // lowercase hex address
	Amount      int64  // micro-USDC
	BlockNumber uint64
}
