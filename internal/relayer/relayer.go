package relayer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darkbet/darkbet/internal/domain"
	"github.com/darkbet/darkbet/internal/notify"
)

// Creditor applies a confirmed deposit to the engine's internal ledger.
type Creditor interface {
	Credit(ctx context.Context, user string, amount int64) error
}

// Alerter pushes operator alerts for credits that keep failing.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the relayer's polling and retry parameters.
type Config struct {
	PollInterval time.Duration
	// MaxAttempts is the attempt count after which a pending credit is
	// escalated with an error-level log and an operator alert. The credit
	// stays queued; escalation is for operator visibility, not abandonment.
	MaxAttempts int
	// StartLookback is how many blocks behind head a fresh cursor starts.
	StartLookback uint64
}

// Relayer runs the polling loop. Each cycle scans new blocks for deposits,
// queues them durably, and then drains the pending queue. The scan cursor
// advances once fetched events are safely queued, so a failed credit is
// retried on every subsequent cycle instead of being lost.
type Relayer struct {
	watcher  *DepositWatcher
	creditor Creditor
	file     *StateFile
	cfg      Config
	alerts   Alerter
	logger   *slog.Logger
}

// New creates a Relayer.
func New(watcher *DepositWatcher, creditor Creditor, file *StateFile, cfg Config, logger *slog.Logger) *Relayer {
	return &Relayer{
		watcher:  watcher,
		creditor: creditor,
		file:     file,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "relayer")),
	}
}

// WithAlerts attaches an operator alert channel. A credit that reaches
// MaxAttempts raises a single alert in addition to the error-level log.
func (r *Relayer) WithAlerts(a Alerter) *Relayer {
	r.alerts = a
	return r
}

// Run executes the polling loop until the context is cancelled. A cycle in
// flight finishes (or records its failures) before Run returns, so a
// restart never double-submits a credit that already landed.
func (r *Relayer) Run(ctx context.Context) error {
	st, err := r.file.Load()
	if err != nil {
		return err
	}
	r.logger.Info("relayer starting",
		slog.Uint64("last_scanned_block", st.LastScannedBlock),
		slog.Int("credited", len(st.CreditedEventIDs)),
		slog.Int("pending", len(st.Pending)),
	)

	// Run immediately on start, then on the ticker.
	if err := r.runCycle(ctx, st); err != nil {
		r.logger.Error("relayer cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relayer stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.runCycle(ctx, st); err != nil {
				r.logger.Error("relayer cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce executes a single scan+drain cycle against the persisted state.
// It is the unit the ticker drives and is exposed for operator tooling.
func (r *Relayer) RunOnce(ctx context.Context) error {
	st, err := r.file.Load()
	if err != nil {
		return err
	}
	return r.runCycle(ctx, st)
}

func (r *Relayer) runCycle(ctx context.Context, st *State) error {
	if err := r.scan(ctx, st); err != nil {
		// A scan failure leaves the cursor untouched; the same range is
		// re-fetched next cycle. Pending credits are still drained below.
		r.logger.Warn("scan failed, will retry", slog.String("error", err.Error()))
	}
	return r.drain(ctx, st)
}

// scan fetches deposits in (LastScannedBlock, head], queues the unseen ones,
// persists, and only then advances the cursor.
func (r *Relayer) scan(ctx context.Context, st *State) error {
	head, err := r.watcher.Head(ctx)
	if err != nil {
		return err
	}

	if st.LastScannedBlock == 0 {
		start := uint64(0)
		if head > r.cfg.StartLookback {
			start = head - r.cfg.StartLookback
		}
		st.LastScannedBlock = start
		if err := r.file.Save(st); err != nil {
			return err
		}
		r.logger.Info("fresh cursor initialized", slog.Uint64("start_block", start))
	}

	if head <= st.LastScannedBlock {
		return nil
	}

	events, err := r.watcher.DepositsInRange(ctx, st.LastScannedBlock+1, head)
	if err != nil {
		return err
	}

	queued := 0
	for _, ev := range events {
		if st.IsCredited(ev.ID) || st.IsPending(ev.ID) {
			continue
		}
		st.Pending = append(st.Pending, PendingCredit{Event: ev})
		queued++
	}

	st.LastScannedBlock = head
	if err := r.file.Save(st); err != nil {
		return err
	}

	if queued > 0 {
		r.logger.Info("deposits queued",
			slog.Int("count", queued),
			slog.Uint64("through_block", head),
		)
	}
	return nil
}

// drain attempts every pending credit. Successes move to the credited set;
// failures stay pending with an incremented attempt count. Each outcome is
// persisted before the next credit is attempted, so a crash between events
// never forgets a landed credit.
func (r *Relayer) drain(ctx context.Context, st *State) error {
	if len(st.Pending) == 0 {
		return nil
	}

	pending := st.Pending
	kept := make([]PendingCredit, 0, len(pending))
	for i := 0; i < len(pending); i++ {
		if ctx.Err() != nil {
			// Leave the unattempted tail queued for the next run.
			kept = append(kept, pending[i:]...)
			break
		}

		p := pending[i]
		err := r.creditor.Credit(ctx, p.Event.User, p.Event.Amount)
		if err == nil {
			st.MarkCredited(p.Event.ID)
			r.logger.Info("deposit credited",
				slog.String("event_id", p.Event.ID),
				slog.String("user", p.Event.User),
				slog.Int64("amount", p.Event.Amount),
			)
		} else {
			p.Attempts++
			p.LastError = err.Error()
			kept = append(kept, p)

			wrapped := fmt.Errorf("%w: %v", domain.ErrRelayFailure, err)
			if p.Attempts >= r.cfg.MaxAttempts {
				r.logger.Error("credit still failing, operator attention required",
					slog.String("event_id", p.Event.ID),
					slog.Int("attempts", p.Attempts),
					slog.String("error", wrapped.Error()),
				)
				// Alert once, when the retry budget is first exhausted.
				if r.alerts != nil && p.Attempts == r.cfg.MaxAttempts {
					msg := fmt.Sprintf("deposit %s for %s (%d) failed %d times: %v",
						p.Event.ID, p.Event.User, p.Event.Amount, p.Attempts, err)
					if nerr := r.alerts.Notify(ctx, notify.EventRelayStuck, "Deposit credit stuck", msg); nerr != nil {
						r.logger.Error("escalation alert failed", slog.String("error", nerr.Error()))
					}
				}
			} else {
				r.logger.Warn("credit failed, will retry",
					slog.String("event_id", p.Event.ID),
					slog.Int("attempts", p.Attempts),
					slog.String("error", wrapped.Error()),
				)
			}
		}

		// Persist progress: outcomes so far plus the unattempted tail.
		st.Pending = make([]PendingCredit, 0, len(kept)+len(pending)-i-1)
		st.Pending = append(append(st.Pending, kept...), pending[i+1:]...)
		if err := r.file.Save(st); err != nil {
			return err
		}
	}

	st.Pending = kept
	return r.file.Save(st)
}
