package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/darkbet/darkbet/internal/crypto"
	"github.com/darkbet/darkbet/internal/domain"
)

const (
	adminAddr    = "0x1111111111111111111111111111111111111111"
	resolverAddr = "0x2222222222222222222222222222222222222222"
	relayerAddr  = "0x3333333333333333333333333333333333333333"
	alice        = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob          = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	carol        = "0xcccccccccccccccccccccccccccccccccccccccc"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	kr, err := crypto.NewKeyring(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(kr, Authz{
		Resolvers: []string{resolverAddr},
		Admins:    []string{adminAddr},
		Relayer:   relayerAddr,
	}, true, logger)
}

func newTestMarket(t *testing.T, e *Engine) string {
	t.Helper()
	m, err := e.CreateMarket(context.Background(), adminAddr, "Will it rain tomorrow?", time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	return m.ID
}

func fund(t *testing.T, e *Engine, owner string, amount int64) {
	t.Helper()
	if err := e.CreditBalance(context.Background(), relayerAddr, owner, amount); err != nil {
		t.Fatal(err)
	}
}

func TestCreateMarket_AdminOnly(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.CreateMarket(context.Background(), alice, "unauthorized", time.Now().Add(time.Hour))
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	m, err := e.CreateMarket(context.Background(), adminAddr, "authorized", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.ID) != 66 { // 0x + 32 bytes hex
		t.Errorf("unexpected market id %q", m.ID)
	}
}

func TestCreateMarket_RepeatedQuestionMintsDistinctMarket(t *testing.T) {
	e := newTestEngine(t)
	expiry := time.Now().Add(time.Hour)

	m1, err := e.CreateMarket(context.Background(), adminAddr, "same question", expiry)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := e.CreateMarket(context.Background(), adminAddr, "same question", expiry)
	if err != nil {
		t.Fatal(err)
	}
	if m1.ID == m2.ID {
		t.Fatalf("repeated question reused id %s", m1.ID)
	}

	// Both must remain addressable; the second must not clobber the first.
	ids := e.MarketIDs()
	if len(ids) != 2 {
		t.Fatalf("markets = %d, want 2", len(ids))
	}
	for _, id := range []string{m1.ID, m2.ID} {
		if _, err := e.Market(id); err != nil {
			t.Errorf("market %s not addressable: %v", id, err)
		}
	}
}

func TestSubmitOrder_Validation(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	fund(t, e, alice, 1_000_000)

	for _, price := range []int64{0, -1, 10000, 20000} {
		if _, err := e.SubmitOrder(context.Background(), alice, id, domain.SideYes, price, 100_000); !errors.Is(err, domain.ErrInvalidPrice) {
			t.Errorf("price %d: expected ErrInvalidPrice, got %v", price, err)
		}
	}
	if _, err := e.SubmitOrder(context.Background(), alice, id, domain.SideYes, 5000, 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := e.SubmitOrder(context.Background(), alice, "0xdeadbeef", domain.SideYes, 5000, 100_000); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestSubmitOrder_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	fund(t, e, alice, 50_000)

	_, err := e.SubmitOrder(context.Background(), alice, id, domain.SideYes, 5000, 100_000)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	b := e.Balance(alice)
	if b.Available != 50_000 || b.Locked != 0 {
		t.Errorf("balance changed on failed submit: %+v", b)
	}
	d, err := e.Depth(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Yes) != 0 || len(d.No) != 0 {
		t.Errorf("book changed on failed submit: %+v", d)
	}
}

func TestMatching_NoCrossWhenPricesDoNotCover(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	fund(t, e, alice, 1_000_000)
	fund(t, e, bob, 1_000_000)

	// 4000 + 4000 < 10000: both rest.
	if _, err := e.SubmitOrder(context.Background(), alice, id, domain.SideYes, 4000, 400_000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitOrder(context.Background(), bob, id, domain.SideNo, 4000, 400_000); err != nil {
		t.Fatal(err)
	}

	d, _ := e.Depth(id)
	if len(d.Yes) != 1 || len(d.No) != 1 {
		t.Fatalf("expected both orders resting, got %+v", d)
	}
	m, _ := e.Market(id)
	if m.TotalVolume != 0 {
		t.Errorf("expected no volume, got %d", m.TotalVolume)
	}
	if b := e.Balance(alice); b.Locked != 400_000 {
		t.Errorf("alice locked = %d, want 400000", b.Locked)
	}
}

func TestMatching_CrossAtThreshold(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	fund(t, e, alice, 10_000_000)
	fund(t, e, bob, 10_000_000)

	// 6000 + 4500 = 10500 >= 10000: crosses for min(600000, 450000).
	if _, err := e.SubmitOrder(context.Background(), alice, id, domain.SideYes, 6000, 600_000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitOrder(context.Background(), bob, id, domain.SideNo, 4500, 450_000); err != nil {
		t.Fatal(err)
	}

	// Shares convert at each side's own limit price.
	ap, _ := e.Position(alice, id)
	if ap.YesShares != 450_000*10000/6000 {
		t.Errorf("alice yes shares = %d, want %d", ap.YesShares, int64(450_000*10000/6000))
	}
	bp, _ := e.Position(bob, id)
	if bp.NoShares != 450_000*10000/4500 {
		t.Errorf("bob no shares = %d, want %d", bp.NoShares, int64(450_000*10000/4500))
	}

	// Alice's remainder rests; bob is fully filled.
	ab := e.Balance(alice)
	if ab.Available != 10_000_000-600_000 || ab.Locked != 150_000 {
		t.Errorf("alice balance = %+v", ab)
	}
	bb := e.Balance(bob)
	if bb.Available != 10_000_000-450_000 || bb.Locked != 0 {
		t.Errorf("bob balance = %+v", bb)
	}

	m, _ := e.Market(id)
	if m.TotalVolume != 450_000 {
		t.Errorf("volume = %d, want 450000", m.TotalVolume)
	}
}

func TestMatching_PriceThenTimePriority(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	for _, u := range []string{alice, bob, carol} {
		fund(t, e, u, 10_000_000)
	}

	// Two crossing NO orders at different prices: the cheaper complement
	// fills first.
	if _, err := e.SubmitOrder(context.Background(), alice, id, domain.SideNo, 4500, 100_000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitOrder(context.Background(), bob, id, domain.SideNo, 4000, 100_000); err != nil {
		t.Fatal(err)
	}

	// Matches bob's 4000 first (6000+4000 crosses), then alice's 4500.
	if _, err := e.SubmitOrder(context.Background(), carol, id, domain.SideYes, 6000, 150_000); err != nil {
		t.Fatal(err)
	}

	bp, _ := e.Position(bob, id)
	if bp.NoShares != 100_000*10000/4000 {
		t.Errorf("bob should be fully filled first, shares = %d", bp.NoShares)
	}
	ap, _ := e.Position(alice, id)
	if ap.NoShares != 50_000*10000/4500 {
		t.Errorf("alice should be partially filled second, shares = %d", ap.NoShares)
	}

	// Alice's residual 50000 stays resting.
	orders, err := e.Orders(alice, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].Amount != 50_000 {
		t.Fatalf("alice resting orders = %+v", orders)
	}
}

func TestOrders_IdentityScoped(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	fund(t, e, alice, 1_000_000)

	if _, err := e.SubmitOrder(context.Background(), alice, id, domain.SideYes, 3000, 300_000); err != nil {
		t.Fatal(err)
	}

	mine, _ := e.Orders(alice, id)
	if len(mine) != 1 {
		t.Fatalf("expected 1 order for alice, got %d", len(mine))
	}
	theirs, _ := e.Orders(bob, id)
	if len(theirs) != 0 {
		t.Fatalf("bob sees alice's orders: %+v", theirs)
	}

	// Depth is aggregate-only.
	d, _ := e.Depth(id)
	if len(d.Yes) != 1 || d.Yes[0].Price != 3000 || d.Yes[0].Amount != 300_000 {
		t.Errorf("depth = %+v", d)
	}
}

func TestPosition_UnknownOwnerIsZero(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)

	p, err := e.Position(alice, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.YesShares != 0 || p.NoShares != 0 || p.TotalCost != 0 {
		t.Errorf("expected zero position, got %+v", p)
	}
}

func TestResolveMarket_SettlesAndRefunds(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	fund(t, e, alice, 10_000_000)
	fund(t, e, bob, 10_000_000)

	if _, err := e.SubmitOrder(context.Background(), alice, id, domain.SideYes, 6000, 600_000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitOrder(context.Background(), bob, id, domain.SideNo, 4500, 450_000); err != nil {
		t.Fatal(err)
	}

	if _, err := e.ResolveMarket(context.Background(), alice, id, true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-resolver resolved the market: %v", err)
	}

	m, err := e.ResolveMarket(context.Background(), resolverAddr, id, true)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Resolved || !m.Outcome {
		t.Fatalf("market not resolved: %+v", m)
	}

	// Alice: 450000 matched at 6000 -> 750000 winning shares paid 1:1,
	// plus her 150000 resting remainder refunded.
	ab := e.Balance(alice)
	if ab.Available != 10_000_000-600_000+150_000+750_000 || ab.Locked != 0 {
		t.Errorf("alice balance = %+v", ab)
	}
	// Bob: NO shares are worthless on a YES outcome.
	bb := e.Balance(bob)
	if bb.Available != 10_000_000-450_000 || bb.Locked != 0 {
		t.Errorf("bob balance = %+v", bb)
	}

	ap, _ := e.Position(alice, id)
	if !ap.Settled {
		t.Error("alice position not settled")
	}

	// Resolution is one-way.
	if _, err := e.ResolveMarket(context.Background(), resolverAddr, id, false); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	// No trading in a terminal market.
	if _, err := e.SubmitOrder(context.Background(), alice, id, domain.SideYes, 5000, 100_000); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestCollateralConservation(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	fund(t, e, alice, 5_000_000)
	fund(t, e, bob, 5_000_000)

	if _, err := e.SubmitOrder(context.Background(), alice, id, domain.SideYes, 7000, 700_000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitOrder(context.Background(), bob, id, domain.SideNo, 3000, 300_000); err != nil {
		t.Fatal(err)
	}

	// Before resolution: funded total minus burned matched notional from
	// both sides equals the sum of all available+locked.
	m, _ := e.Market(id)
	var total int64
	for _, b := range e.ledger.Snapshot() {
		total += b.Available + b.Locked
	}
	if want := 10_000_000 - 2*m.TotalVolume; total != want {
		t.Errorf("ledger total = %d, want %d", total, want)
	}
}

func TestCreditDebit_Authorization(t *testing.T) {
	e := newTestEngine(t)

	if err := e.CreditBalance(context.Background(), alice, bob, 1000); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("unauthorized credit: %v", err)
	}
	if err := e.CreditBalance(context.Background(), relayerAddr, bob, 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("zero credit: %v", err)
	}
	if err := e.CreditBalance(context.Background(), relayerAddr, bob, 1000); err != nil {
		t.Fatal(err)
	}
	if err := e.CreditBalance(context.Background(), adminAddr, bob, 500); err != nil {
		t.Fatal(err)
	}
	if b := e.Balance(bob); b.Available != 1500 {
		t.Errorf("bob available = %d, want 1500", b.Available)
	}

	if err := e.DebitBalance(context.Background(), relayerAddr, bob, 100); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("relayer must not debit: %v", err)
	}
	if err := e.DebitBalance(context.Background(), adminAddr, bob, 10_000); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraft debit: %v", err)
	}
	if err := e.DebitBalance(context.Background(), adminAddr, bob, 1500); err != nil {
		t.Fatal(err)
	}
	if b := e.Balance(bob); b.Available != 0 {
		t.Errorf("bob available = %d, want 0", b.Available)
	}
}

func TestSubmitIntent_SealedRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	fund(t, e, alice, 1_000_000)

	payload, err := crypto.EncodeIntent(domain.OrderIntent{
		MarketID: id,
		Side:     domain.SideYes,
		Price:    6500,
		Amount:   250_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	ciphertext, nonce, err := crypto.Seal(e.PublicKey(), payload)
	if err != nil {
		t.Fatal(err)
	}

	orderID, err := e.SubmitIntent(context.Background(), alice, domain.EncryptedIntent{
		Ciphertext: ciphertext,
		Nonce:      nonce,
	})
	if err != nil {
		t.Fatal(err)
	}
	if orderID == "" {
		t.Fatal("empty order id")
	}

	orders, _ := e.Orders(alice, id)
	if len(orders) != 1 || orders[0].Price != 6500 || orders[0].Amount != 250_000 {
		t.Fatalf("decrypted order mismatch: %+v", orders)
	}
}

func TestSubmitIntent_LegacyFallback(t *testing.T) {
	e := newTestEngine(t)
	id := newTestMarket(t, e)
	fund(t, e, alice, 1_000_000)

	payload, err := crypto.EncodeIntent(domain.OrderIntent{
		MarketID: id,
		Side:     domain.SideNo,
		Price:    4000,
		Amount:   100_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, 32)
	nonce[31] = 7
	ciphertext, err := crypto.EncryptLegacy(e.LegacyPublicKey(), nonce, payload)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.SubmitIntent(context.Background(), alice, domain.EncryptedIntent{
		Ciphertext: ciphertext,
		Nonce:      nonce,
	}); err != nil {
		t.Fatal(err)
	}

	orders, _ := e.Orders(alice, id)
	if len(orders) != 1 || orders[0].Side != domain.SideNo {
		t.Fatalf("legacy intent not placed: %+v", orders)
	}
}

func TestSubmitIntent_GarbageRejected(t *testing.T) {
	e := newTestEngine(t)
	newTestMarket(t, e)

	_, err := e.SubmitIntent(context.Background(), alice, domain.EncryptedIntent{
		Ciphertext: []byte("not a sealed envelope"),
		Nonce:      []byte("bad"),
	})
	if !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}
