package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type recordingSender struct {
	name     string
	failWith error
	titles   []string
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.titles = append(r.titles, title)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotify_EmptyEventListDeliversEverything(t *testing.T) {
	s := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	if err := n.Notify(context.Background(), EventRelayStuck, "stuck", "detail"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), EventMarketResolved, "resolved", "detail"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 2 {
		t.Fatalf("delivered %d alerts, want 2", len(s.titles))
	}
}

func TestNotify_FiltersByEventType(t *testing.T) {
	s := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{s}, []string{EventRelayStuck}, testLogger())

	if err := n.Notify(context.Background(), EventMarketResolved, "resolved", "detail"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 0 {
		t.Fatalf("filtered event was delivered: %v", s.titles)
	}

	if err := n.Notify(context.Background(), EventRelayStuck, "stuck", "detail"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 1 || s.titles[0] != "stuck" {
		t.Fatalf("allowed event not delivered, got %v", s.titles)
	}
}

func TestNotify_OneFailingSenderDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSender{name: "telegram", failWith: errors.New("api down")}
	good := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventRelayStuck, "stuck", "detail")
	if err == nil {
		t.Fatal("expected error from failing sender")
	}
	if !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("error does not name the failed sender: %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatalf("healthy sender skipped, delivered %d", len(good.titles))
	}
}

func TestNotify_NoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	if err := n.Notify(context.Background(), EventRelayStuck, "stuck", "detail"); err != nil {
		t.Fatalf("Notify with no senders: %v", err)
	}
}
