// Package engine implements the confidential matching engine: per-market
// order books with price-crossing matching, the internal collateral ledger,
// encrypted intent submission, and market resolution with settlement.
package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/darkbet/darkbet/internal/crypto"
	"github.com/darkbet/darkbet/internal/domain"
)

// Stores bundles the persistence interfaces the engine writes through. A nil
// Stores leaves the engine in memory-only mode (useful for tests and demos).
type Stores struct {
	Markets   domain.MarketStore
	Orders    domain.OrderStore
	Positions domain.PositionStore
	Balances  domain.BalanceStore
	Trades    domain.TradeStore
}

// Authz holds the caller allowlists for privileged operations. Addresses
// are compared case-insensitively.
type Authz struct {
	Resolvers []string // may resolve markets
	Admins    []string // may create markets and debit balances
	Relayer   string   // the only address that may credit balances
}

func (a Authz) isResolver(caller string) bool { return containsAddr(a.Resolvers, caller) }
func (a Authz) isAdmin(caller string) bool    { return containsAddr(a.Admins, caller) }
func (a Authz) isRelayer(caller string) bool {
	return a.Relayer != "" && normalizeAddr(a.Relayer) == normalizeAddr(caller)
}

func containsAddr(list []string, caller string) bool {
	caller = normalizeAddr(caller)
	for _, a := range list {
		if normalizeAddr(a) == caller {
			return true
		}
	}
	return false
}

// Engine owns all market, order, position, and balance state. Markets are
// serialized individually through their own mutex; the map of markets is
// guarded by mu.
type Engine struct {
	mu      sync.RWMutex
	markets map[string]*marketState

	ledger  *Ledger
	keyring *crypto.Keyring
	authz   Authz

	allowLegacy bool
	stores      *Stores
	depthCache  domain.DepthCache
	bus         domain.SignalBus
	logger      *slog.Logger
}

// New creates an Engine with the given intent keyring and authorization
// lists. Persistence and caches are attached with the WithX methods.
func New(keyring *crypto.Keyring, authz Authz, allowLegacy bool, logger *slog.Logger) *Engine {
	return &Engine{
		markets:     make(map[string]*marketState),
		ledger:      NewLedger(),
		keyring:     keyring,
		authz:       authz,
		allowLegacy: allowLegacy,
		logger:      logger.With(slog.String("component", "engine")),
	}
}

// WithStores attaches write-through persistence. Without stores the engine
// runs in memory-only mode.
func (e *Engine) WithStores(s *Stores) *Engine {
	e.stores = s
	return e
}

// WithDepthCache attaches the anonymized depth snapshot cache.
func (e *Engine) WithDepthCache(c domain.DepthCache) *Engine {
	e.depthCache = c
	return e
}

// WithSignalBus attaches the pub/sub bus for trade ticks and depth updates.
func (e *Engine) WithSignalBus(b domain.SignalBus) *Engine {
	e.bus = b
	return e
}

// PublicKey returns the X25519 public key clients seal intents against.
func (e *Engine) PublicKey() []byte { return e.keyring.PublicKey() }

// LegacyPublicKey returns the compatibility-cipher public key.
func (e *Engine) LegacyPublicKey() []byte { return e.keyring.LegacyPublicKey() }

// LoadState rebuilds in-memory state from the stores. It must be called
// before serving traffic when persistence is attached.
func (e *Engine) LoadState(ctx context.Context) error {
	if e.stores == nil {
		return nil
	}

	markets, err := e.stores.Markets.List(ctx)
	if err != nil {
		return fmt.Errorf("engine: load markets: %w", err)
	}
	balances, err := e.stores.Balances.List(ctx)
	if err != nil {
		return fmt.Errorf("engine: load balances: %w", err)
	}
	positions, err := e.stores.Positions.List(ctx)
	if err != nil {
		return fmt.Errorf("engine: load positions: %w", err)
	}
	orders, err := e.stores.Orders.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("engine: load orders: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.markets = make(map[string]*marketState, len(markets))
	for _, m := range markets {
		e.markets[m.ID] = newMarketState(m)
	}
	e.ledger.Restore(balances)
	for _, p := range positions {
		if ms, ok := e.markets[p.MarketID]; ok {
			copied := p
			ms.positions[normalizeAddr(p.Owner)] = &copied
		}
	}
	for _, o := range orders {
		ms, ok := e.markets[o.MarketID]
		if !ok {
			continue
		}
		copied := o
		copied.Owner = normalizeAddr(o.Owner)
		book := ms.book(o.Side)
		*book = append(*book, &copied)
	}

	e.logger.Info("state loaded",
		slog.Int("markets", len(markets)),
		slog.Int("balances", len(balances)),
		slog.Int("open_orders", len(orders)),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Markets
// ---------------------------------------------------------------------------

// CreateMarket registers a new market. The id is content-derived:
// keccak256(question || expiry || creation time).
func (e *Engine) CreateMarket(ctx context.Context, caller, question string, expiresAt time.Time) (domain.Market, error) {
	if !e.authz.isAdmin(caller) {
		return domain.Market{}, domain.ErrUnauthorized
	}
	if question == "" {
		return domain.Market{}, fmt.Errorf("engine: question must not be empty")
	}

	now := time.Now().UTC()
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(expiresAt.Unix()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(now.UnixNano()))
	id := ethcrypto.Keccak256Hash([]byte(question), buf[:]).Hex()

	m := domain.Market{
		ID:        id,
		Question:  question,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now,
	}

	e.mu.Lock()
	e.markets[id] = newMarketState(m)
	e.mu.Unlock()

	e.persistMarket(ctx, m)
	e.logger.Info("market created", slog.String("market_id", id), slog.String("question", question))
	return m, nil
}

// Market returns public market metadata.
func (e *Engine) Market(id string) (domain.Market, error) {
	ms, err := e.marketState(id)
	if err != nil {
		return domain.Market{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.market, nil
}

// MarketIDs returns the ids of every market, ordered by creation time.
func (e *Engine) MarketIDs() []string {
	e.mu.RLock()
	states := make([]*marketState, 0, len(e.markets))
	for _, ms := range e.markets {
		states = append(states, ms)
	}
	e.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].market.CreatedAt.Before(states[j].market.CreatedAt)
	})
	ids := make([]string, len(states))
	for i, ms := range states {
		ids[i] = ms.market.ID
	}
	return ids
}

func (e *Engine) marketState(id string) (*marketState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ms, ok := e.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return ms, nil
}

// ---------------------------------------------------------------------------
// Order submission and matching
// ---------------------------------------------------------------------------

// SubmitOrder validates and places an order for owner, locking its notional
// and matching it against the opposite side. It returns the order id; the
// order may already be fully filled when it returns.
func (e *Engine) SubmitOrder(ctx context.Context, owner, marketID string, side domain.Side, price, amount int64) (string, error) {
	if price < 1 || price > 9999 {
		return "", domain.ErrInvalidPrice
	}
	if amount <= 0 {
		return "", domain.ErrInvalidAmount
	}
	if !side.Valid() {
		return "", fmt.Errorf("engine: invalid side %q", side)
	}

	ms, err := e.marketState(marketID)
	if err != nil {
		return "", err
	}

	ms.mu.Lock()
	if ms.market.Resolved {
		ms.mu.Unlock()
		return "", domain.ErrAlreadyResolved
	}

	// Reserve funds before touching the book so a failed lock leaves no
	// partial state behind.
	owner = normalizeAddr(owner)
	if err := e.ledger.Lock(owner, amount); err != nil {
		ms.mu.Unlock()
		return "", err
	}

	incoming := &domain.Order{
		ID:        uuid.NewString(),
		Owner:     owner,
		MarketID:  marketID,
		Side:      side,
		Price:     price,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}

	trades := e.matchLocked(ctx, ms, incoming)

	if incoming.Amount > 0 {
		book := ms.book(side)
		*book = append(*book, incoming)
		e.persistOrderCreate(ctx, *incoming)
	}
	depth := ms.depthLocked()
	ms.mu.Unlock()

	e.publishDepth(ctx, depth)
	for _, t := range trades {
		e.publishTrade(ctx, t)
	}

	e.logger.Debug("order submitted",
		slog.String("market_id", marketID),
		slog.String("order_id", incoming.ID),
		slog.Int("trades", len(trades)),
	)
	return incoming.ID, nil
}

// matchLocked crosses the incoming order against the opposite book until it
// is exhausted or nothing crosses. Caller must hold ms.mu.
func (e *Engine) matchLocked(ctx context.Context, ms *marketState, incoming *domain.Order) []domain.Trade {
	opposite := ms.book(incoming.Side.Opposite())
	var trades []domain.Trade

	for incoming.Amount > 0 {
		i := bestCrossing(*opposite, incoming.Price)
		if i < 0 {
			break
		}
		resting := (*opposite)[i]

		matched := incoming.Amount
		if resting.Amount < matched {
			matched = resting.Amount
		}

		// Each side converts its own matched notional into shares at its
		// own limit price; there is no uniform clearing price.
		e.applyFill(ms, incoming, matched)
		e.applyFill(ms, resting, matched)
		ms.market.TotalVolume += matched

		incoming.Amount -= matched
		resting.Amount -= matched

		trade := domain.Trade{
			ID:         uuid.NewString(),
			MarketID:   ms.market.ID,
			Amount:     matched,
			ExecutedAt: time.Now().UTC(),
		}
		if incoming.Side == domain.SideYes {
			trade.YesOwner, trade.YesPrice = incoming.Owner, incoming.Price
			trade.NoOwner, trade.NoPrice = resting.Owner, resting.Price
		} else {
			trade.YesOwner, trade.YesPrice = resting.Owner, resting.Price
			trade.NoOwner, trade.NoPrice = incoming.Owner, incoming.Price
		}
		trades = append(trades, trade)

		if resting.Amount == 0 {
			removeOrder(opposite, i)
			e.persistOrderDelete(ctx, resting.ID)
		} else {
			e.persistOrderAmount(ctx, resting.ID, resting.Amount)
		}
		e.persistTrade(ctx, trade)
	}

	if len(trades) > 0 {
		e.persistMarket(ctx, ms.market)
		seen := map[string]bool{}
		for _, t := range trades {
			for _, owner := range []string{t.YesOwner, t.NoOwner} {
				if !seen[owner] {
					seen[owner] = true
					e.persistBalance(ctx, e.ledger.Get(owner))
					e.persistPosition(ctx, *ms.position(owner))
				}
			}
		}
	}
	return trades
}

// applyFill burns the matched notional from the order owner's locked
// balance and grants shares at the order's own limit price. Caller must
// hold ms.mu.
func (e *Engine) applyFill(ms *marketState, o *domain.Order, matched int64) {
	e.ledger.Burn(o.Owner, matched)
	pos := ms.position(o.Owner)
	shares := matched * payoutBps / o.Price
	if o.Side == domain.SideYes {
		pos.YesShares += shares
	} else {
		pos.NoShares += shares
	}
	pos.TotalCost += matched
}

// SubmitIntent decrypts an encrypted order intent and places the recovered
// order for owner. Sealed envelopes are tried first; the legacy keccak-XOR
// cipher is accepted only when enabled in configuration.
func (e *Engine) SubmitIntent(ctx context.Context, owner string, intent domain.EncryptedIntent) (string, error) {
	payload, err := e.keyring.Open(intent.Ciphertext, intent.Nonce)
	if err != nil && e.allowLegacy {
		payload, err = crypto.DecryptLegacy(e.keyring.LegacyPublicKey(), intent.Nonce, intent.Ciphertext)
	}
	if err != nil {
		return "", err
	}

	decoded, err := crypto.DecodeIntent(payload)
	if err != nil {
		return "", err
	}
	return e.SubmitOrder(ctx, owner, decoded.MarketID, decoded.Side, decoded.Price, decoded.Amount)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Depth returns the public, anonymized order book snapshot for a market.
func (e *Engine) Depth(marketID string) (domain.Depth, error) {
	ms, err := e.marketState(marketID)
	if err != nil {
		return domain.Depth{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.depthLocked(), nil
}

// Orders returns only the caller's resting orders for a market. Identity
// scoping is a hard invariant: other owners' orders are never returned.
func (e *Engine) Orders(owner, marketID string) ([]domain.Order, error) {
	ms, err := e.marketState(marketID)
	if err != nil {
		return nil, err
	}
	owner = normalizeAddr(owner)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []domain.Order
	for _, book := range [][]*domain.Order{ms.yes, ms.no} {
		for _, o := range book {
			if o.Owner == owner {
				out = append(out, *o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Position returns the caller's own position in a market; zero values when
// the caller holds nothing.
func (e *Engine) Position(owner, marketID string) (domain.Position, error) {
	ms, err := e.marketState(marketID)
	if err != nil {
		return domain.Position{}, err
	}
	owner = normalizeAddr(owner)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if p, ok := ms.positions[owner]; ok {
		return *p, nil
	}
	return domain.Position{Owner: owner, MarketID: marketID}, nil
}

// Balance returns the caller's own balance; zero values for unknown owners.
func (e *Engine) Balance(owner string) domain.Balance {
	return e.ledger.Get(owner)
}

// ---------------------------------------------------------------------------
// Balance administration
// ---------------------------------------------------------------------------

// CreditBalance adds deposited collateral to a user's available balance.
// Only the configured relayer (or an admin) may call it.
func (e *Engine) CreditBalance(ctx context.Context, caller, owner string, amount int64) error {
	if !e.authz.isRelayer(caller) && !e.authz.isAdmin(caller) {
		return domain.ErrUnauthorized
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	e.ledger.Credit(owner, amount)
	e.persistBalance(ctx, e.ledger.Get(owner))
	e.logger.Info("balance credited",
		slog.String("owner", normalizeAddr(owner)),
		slog.Int64("amount", amount),
	)
	return nil
}

// DebitBalance removes available balance (withdrawal bookkeeping). Admin
// only; fails without change when available funds are insufficient.
func (e *Engine) DebitBalance(ctx context.Context, caller, owner string, amount int64) error {
	if !e.authz.isAdmin(caller) {
		return domain.ErrUnauthorized
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := e.ledger.Debit(owner, amount); err != nil {
		return err
	}
	e.persistBalance(ctx, e.ledger.Get(owner))
	e.logger.Info("balance debited",
		slog.String("owner", normalizeAddr(owner)),
		slog.Int64("amount", amount),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Persistence and publication helpers. Persistence is write-through and
// best-effort: in-memory state is authoritative for the process lifetime and
// a store error must not unwind an already-applied transition.
// ---------------------------------------------------------------------------

func (e *Engine) persistMarket(ctx context.Context, m domain.Market) {
	if e.stores == nil {
		return
	}
	if err := e.stores.Markets.Upsert(ctx, m); err != nil {
		e.logger.Error("persist market failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
	}
}

func (e *Engine) persistOrderCreate(ctx context.Context, o domain.Order) {
	if e.stores == nil {
		return
	}
	if err := e.stores.Orders.Create(ctx, o); err != nil {
		e.logger.Error("persist order failed", slog.String("order_id", o.ID), slog.String("error", err.Error()))
	}
}

func (e *Engine) persistOrderAmount(ctx context.Context, id string, amount int64) {
	if e.stores == nil {
		return
	}
	if err := e.stores.Orders.UpdateAmount(ctx, id, amount); err != nil {
		e.logger.Error("persist order amount failed", slog.String("order_id", id), slog.String("error", err.Error()))
	}
}

func (e *Engine) persistOrderDelete(ctx context.Context, id string) {
	if e.stores == nil {
		return
	}
	if err := e.stores.Orders.Delete(ctx, id); err != nil {
		e.logger.Error("delete order failed", slog.String("order_id", id), slog.String("error", err.Error()))
	}
}

func (e *Engine) persistPosition(ctx context.Context, p domain.Position) {
	if e.stores == nil {
		return
	}
	if err := e.stores.Positions.Upsert(ctx, p); err != nil {
		e.logger.Error("persist position failed", slog.String("owner", p.Owner), slog.String("error", err.Error()))
	}
}

func (e *Engine) persistBalance(ctx context.Context, b domain.Balance) {
	if e.stores == nil {
		return
	}
	if err := e.stores.Balances.Upsert(ctx, b); err != nil {
		e.logger.Error("persist balance failed", slog.String("owner", b.Owner), slog.String("error", err.Error()))
	}
}

func (e *Engine) persistTrade(ctx context.Context, t domain.Trade) {
	if e.stores == nil {
		return
	}
	if err := e.stores.Trades.Insert(ctx, t); err != nil {
		e.logger.Error("persist trade failed", slog.String("trade_id", t.ID), slog.String("error", err.Error()))
	}
}

func (e *Engine) publishDepth(ctx context.Context, d domain.Depth) {
	if e.depthCache != nil {
		if err := e.depthCache.SetDepth(ctx, d); err != nil {
			e.logger.Warn("depth cache update failed", slog.String("market_id", d.MarketID), slog.String("error", err.Error()))
		}
	}
	if e.bus != nil {
		if payload, err := json.Marshal(d); err == nil {
			_ = e.bus.Publish(ctx, domain.ChannelDepth, payload)
		}
	}
}

func (e *Engine) publishTrade(ctx context.Context, t domain.Trade) {
	if e.bus == nil {
		return
	}
	tick := domain.TradeTick{MarketID: t.MarketID, Amount: t.Amount, ExecutedAt: t.ExecutedAt}
	if payload, err := json.Marshal(tick); err == nil {
		_ = e.bus.Publish(ctx, domain.ChannelTrades, payload)
	}
}
