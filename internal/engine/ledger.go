package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/darkbet/darkbet/internal/domain"
)

// Ledger is the engine's internal collateral ledger. A single mutex guards
// the whole map: every transition touches at most two accounts and the
// invariant available >= 0 && locked >= 0 must hold across them, so one lock
// keeps lost-update bugs out of cross-market activity by the same user.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]*domain.Balance
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]*domain.Balance)}
}

func normalizeAddr(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

// account returns the balance entry for owner, creating it if needed.
// Caller must hold l.mu.
func (l *Ledger) account(owner string) *domain.Balance {
	owner = normalizeAddr(owner)
	b, ok := l.balances[owner]
	if !ok {
		b = &domain.Balance{Owner: owner}
		l.balances[owner] = b
	}
	return b
}

// Credit adds amount to the owner's available balance.
func (l *Ledger) Credit(owner string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(owner).Available += amount
}

// Debit removes amount from the owner's available balance, failing without
// any change when funds are insufficient.
func (l *Ledger) Debit(owner string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(owner)
	if b.Available < amount {
		return domain.ErrInsufficientBalance
	}
	b.Available -= amount
	return nil
}

// Lock moves amount from available to locked, reserving it for a resting
// order. It fails without any change when funds are insufficient.
func (l *Ledger) Lock(owner string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(owner)
	if b.Available < amount {
		return domain.ErrInsufficientBalance
	}
	b.Available -= amount
	b.Locked += amount
	return nil
}

// Unlock returns amount from locked to available (order refund).
func (l *Ledger) Unlock(owner string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(owner)
	b.Locked -= amount
	b.Available += amount
}

// Burn consumes amount of locked balance (trade execution).
func (l *Ledger) Burn(owner string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(owner).Locked -= amount
}

// Get returns a copy of the owner's balance; zero values for unknown owners.
func (l *Ledger) Get(owner string) domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[normalizeAddr(owner)]; ok {
		return *b
	}
	return domain.Balance{Owner: normalizeAddr(owner)}
}

// Snapshot returns a copy of every non-zero balance, ordered by owner.
func (l *Ledger) Snapshot() []domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Balance, 0, len(l.balances))
	for _, b := range l.balances {
		if b.Available != 0 || b.Locked != 0 {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

// Restore replaces the ledger contents from persisted balances.
func (l *Ledger) Restore(balances []domain.Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[string]*domain.Balance, len(balances))
	for _, b := range balances {
		copied := b
		copied.Owner = normalizeAddr(b.Owner)
		l.balances[copied.Owner] = &copied
	}
}
