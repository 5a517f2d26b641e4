package domain

// Balance is a user's internal collateral ledger entry. Available is
// spendable; Locked is reserved by resting orders. Both are always >= 0.
// Order placement moves amount from Available to Locked atomically with
// order creation; trade execution burns Locked; settlement and resting-order
// refunds credit Available.
type Balance struct {
	Owner     string // lowercase hex address
	Available int64  // micro-USDC
	Locked    int64  // micro-USDC
}
