package relayer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/darkbet/darkbet/internal/domain"
)

const poolAddr = "0x4444444444444444444444444444444444444444"

// fakeChain serves canned deposit logs by block range.
type fakeChain struct {
	head uint64
	logs []types.Log
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	var out []types.Log
	for _, lg := range c.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func depositLog(user string, amount int64, block uint64, txSeed byte, index uint) types.Log {
	var data [32]byte
	big.NewInt(amount).FillBytes(data[:])
	return types.Log{
		Address:     common.HexToAddress(poolAddr),
		Topics:      []common.Hash{depositTopic, common.BytesToHash(common.HexToAddress(user).Bytes())},
		Data:        data[:],
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{txSeed}),
		Index:       index,
	}
}

// fakeCreditor counts credits per user and can be told to fail.
type fakeCreditor struct {
	credits   map[string]int64
	calls     int
	failCalls int // fail the first N calls
}

func newFakeCreditor() *fakeCreditor {
	return &fakeCreditor{credits: make(map[string]int64)}
}

func (c *fakeCreditor) Credit(ctx context.Context, user string, amount int64) error {
	c.calls++
	if c.calls <= c.failCalls {
		return fmt.Errorf("ledger unavailable")
	}
	c.credits[user] += amount
	return nil
}

func newTestRelayer(t *testing.T, chain *fakeChain, creditor Creditor) (*Relayer, *StateFile) {
	t.Helper()
	file := NewStateFile(filepath.Join(t.TempDir(), "state.json"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(NewDepositWatcher(chain, poolAddr), creditor, file, Config{
		PollInterval:  time.Second,
		MaxAttempts:   3,
		StartLookback: 100,
	}, logger)
	return r, file
}

const userA = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"

// recordingAlerter captures operator alerts raised by the relayer.
type recordingAlerter struct {
	events   []string
	messages []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, message string) error {
	a.events = append(a.events, event)
	a.messages = append(a.messages, message)
	return nil
}

func TestRelayer_CreditsDepositExactlyOnce(t *testing.T) {
	chain := &fakeChain{
		head: 50,
		logs: []types.Log{depositLog(userA, 1_000_000, 42, 1, 0)},
	}
	creditor := newFakeCreditor()
	r, file := newTestRelayer(t, chain, creditor)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	user := strings.ToLower(userA)
	if creditor.credits[user] != 1_000_000 {
		t.Fatalf("credit = %d, want 1000000", creditor.credits[user])
	}

	// Simulate a crash that lost cursor progress but kept the credited set:
	// the same logs are re-fetched, and must not credit again.
	st, err := file.Load()
	if err != nil {
		t.Fatal(err)
	}
	st.LastScannedBlock = 10
	if err := file.Save(st); err != nil {
		t.Fatal(err)
	}

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if creditor.credits[user] != 1_000_000 {
		t.Errorf("replayed deposit credited twice: %d", creditor.credits[user])
	}
}

func TestRelayer_FailedCreditIsRetriedNotDropped(t *testing.T) {
	chain := &fakeChain{
		head: 50,
		logs: []types.Log{depositLog(userA, 500_000, 45, 2, 0)},
	}
	creditor := newFakeCreditor()
	creditor.failCalls = 1
	r, file := newTestRelayer(t, chain, creditor)

	// First cycle: scan succeeds, credit fails. The cursor still advances
	// but the event stays pending.
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	st, err := file.Load()
	if err != nil {
		t.Fatal(err)
	}
	if st.LastScannedBlock != 50 {
		t.Errorf("cursor = %d, want 50", st.LastScannedBlock)
	}
	if len(st.Pending) != 1 || st.Pending[0].Attempts != 1 || st.Pending[0].LastError == "" {
		t.Fatalf("pending = %+v", st.Pending)
	}

	// Second cycle: no new blocks, but the pending credit lands.
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	user := strings.ToLower(userA)
	if creditor.credits[user] != 500_000 {
		t.Fatalf("credit = %d, want 500000", creditor.credits[user])
	}
	st, _ = file.Load()
	if len(st.Pending) != 0 {
		t.Errorf("pending not cleared: %+v", st.Pending)
	}
	if !st.IsCredited(st.CreditedEventIDs[len(st.CreditedEventIDs)-1]) {
		t.Error("credited set not updated")
	}
}

func TestRelayer_PendingSurvivesRestart(t *testing.T) {
	chain := &fakeChain{
		head: 50,
		logs: []types.Log{depositLog(userA, 250_000, 48, 3, 0)},
	}
	failing := newFakeCreditor()
	failing.failCalls = 1000
	r1, file := newTestRelayer(t, chain, failing)

	if err := r1.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// New process, same state file, healthy ledger.
	healthy := newFakeCreditor()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r2 := New(NewDepositWatcher(chain, poolAddr), healthy, file, Config{
		PollInterval:  time.Second,
		MaxAttempts:   3,
		StartLookback: 100,
	}, logger)

	if err := r2.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	user := strings.ToLower(userA)
	if healthy.credits[user] != 250_000 {
		t.Errorf("pending credit lost across restart: %d", healthy.credits[user])
	}
}

func TestRelayer_FreshCursorUsesLookback(t *testing.T) {
	chain := &fakeChain{
		head: 500,
		logs: []types.Log{
			depositLog(userA, 100, 350, 4, 0), // before the lookback window
			depositLog(userA, 200, 450, 5, 0), // inside the window
		},
	}
	creditor := newFakeCreditor()
	r, file := newTestRelayer(t, chain, creditor)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	user := strings.ToLower(userA)
	if creditor.credits[user] != 200 {
		t.Errorf("credit = %d, want only the in-window deposit (200)", creditor.credits[user])
	}
	st, _ := file.Load()
	if st.LastScannedBlock != 500 {
		t.Errorf("cursor = %d, want 500", st.LastScannedBlock)
	}
}

func TestRelayer_MultipleDepositsInOneCycle(t *testing.T) {
	chain := &fakeChain{
		head: 60,
		logs: []types.Log{
			depositLog(userA, 100, 51, 6, 0),
			depositLog(userA, 200, 51, 6, 1), // same tx, distinct log index
			depositLog(userA, 300, 55, 7, 0),
		},
	}
	creditor := newFakeCreditor()
	r, _ := newTestRelayer(t, chain, creditor)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	user := strings.ToLower(userA)
	if creditor.credits[user] != 600 {
		t.Errorf("credit = %d, want 600", creditor.credits[user])
	}
}

func TestRelayer_StuckCreditRaisesOneAlert(t *testing.T) {
	chain := &fakeChain{
		head: 50,
		logs: []types.Log{depositLog(userA, 750_000, 42, 8, 0)},
	}
	creditor := newFakeCreditor()
	creditor.failCalls = 100
	alerts := &recordingAlerter{}
	r, _ := newTestRelayer(t, chain, creditor)
	r.WithAlerts(alerts)

	// MaxAttempts is 3: two cycles below the budget raise nothing.
	for i := 0; i < 2; i++ {
		if err := r.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(alerts.events) != 0 {
		t.Fatalf("alert raised before retry budget exhausted: %v", alerts.events)
	}

	// Third failure exhausts the budget and alerts; a fourth stays silent.
	for i := 0; i < 2; i++ {
		if err := r.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(alerts.events) != 1 {
		t.Fatalf("alerts = %d, want exactly 1", len(alerts.events))
	}
	if alerts.events[0] != "relay_stuck" {
		t.Errorf("alert event = %q, want relay_stuck", alerts.events[0])
	}
	if !strings.Contains(alerts.messages[0], strings.ToLower(userA)) {
		t.Errorf("alert message does not name the user: %q", alerts.messages[0])
	}
}

func TestParseDeposit_RejectsOversizedAmount(t *testing.T) {
	lg := depositLog(userA, 1, 10, 8, 0)
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	huge.FillBytes(lg.Data)

	if _, err := parseDeposit(lg); err == nil {
		t.Fatal("expected error for amount beyond int64 range")
	}
}

func TestStateFile_LoadMissingIsEmpty(t *testing.T) {
	file := NewStateFile(filepath.Join(t.TempDir(), "absent.json"))
	st, err := file.Load()
	if err != nil {
		t.Fatal(err)
	}
	if st.LastScannedBlock != 0 || len(st.Pending) != 0 || len(st.CreditedEventIDs) != 0 {
		t.Errorf("expected empty state, got %+v", st)
	}
}

func TestStateFile_SaveLoadRoundTrip(t *testing.T) {
	file := NewStateFile(filepath.Join(t.TempDir(), "state.json"))
	in := &State{
		LastScannedBlock: 123,
		CreditedEventIDs: []string{"0xaa:0", "0xbb:1"},
		Pending: []PendingCredit{{
			Event:     domain.DepositEvent{ID: "0xcc:0", User: userA, Amount: 42, BlockNumber: 118},
			Attempts:  2,
			LastError: "ledger unavailable",
		}},
	}
	if err := file.Save(in); err != nil {
		t.Fatal(err)
	}

	out, err := file.Load()
	if err != nil {
		t.Fatal(err)
	}
	if out.LastScannedBlock != 123 || len(out.CreditedEventIDs) != 2 || len(out.Pending) != 1 {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if out.Pending[0].Attempts != 2 || out.Pending[0].Event.Amount != 42 {
		t.Errorf("pending mismatch: %+v", out.Pending[0])
	}
}

func TestState_MarkCreditedTrimsToCap(t *testing.T) {
	st := &State{}
	for i := 0; i < maxCreditedIDs+50; i++ {
		st.MarkCredited(fmt.Sprintf("0x%04x:0", i))
	}
	if len(st.CreditedEventIDs) != maxCreditedIDs {
		t.Errorf("credited set = %d entries, want %d", len(st.CreditedEventIDs), maxCreditedIDs)
	}
	if st.IsCredited("0x0000:0") {
		t.Error("oldest entry should have been trimmed")
	}
	if !st.IsCredited(fmt.Sprintf("0x%04x:0", maxCreditedIDs+49)) {
		t.Error("newest entry missing")
	}
}
