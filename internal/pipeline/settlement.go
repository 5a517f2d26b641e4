// Package pipeline contains offline data flows that hang off engine events.
package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/darkbet/darkbet/internal/domain"
)

// SettlementArchiver uploads a settlement report for each resolved market:
// every execution with both counterparties, suitable for audit and dispute
// handling. Reports go to cold storage, never through the public API.
type SettlementArchiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	logger *slog.Logger
}

// NewSettlementArchiver creates a SettlementArchiver.
func NewSettlementArchiver(writer domain.BlobWriter, trades domain.TradeStore, logger *slog.Logger) *SettlementArchiver {
	return &SettlementArchiver{
		writer: writer,
		trades: trades,
		logger: logger.With(slog.String("component", "settlement_archiver")),
	}
}

// Archive queries the resolved market's executions, renders them to CSV, and
// uploads the report to settlements/<marketID>.csv. It returns the object
// path. Archiving is an after-the-fact report; resolution itself never
// depends on it.
func (a *SettlementArchiver) Archive(ctx context.Context, m domain.Market) (string, error) {
	trades, err := a.trades.ListByMarket(ctx, m.ID)
	if err != nil {
		return "", fmt.Errorf("pipeline: settlement query %s: %w", m.ID, err)
	}

	buf, err := renderCSV(m, trades)
	if err != nil {
		return "", fmt.Errorf("pipeline: settlement render %s: %w", m.ID, err)
	}

	path := "settlements/" + m.ID + ".csv"
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "text/csv"); err != nil {
		return "", fmt.Errorf("pipeline: settlement upload %s: %w", m.ID, err)
	}

	a.logger.Info("settlement report archived",
		slog.String("market_id", m.ID),
		slog.String("path", path),
		slog.Int("trades", len(trades)),
	)
	return path, nil
}

func renderCSV(m domain.Market, trades []domain.Trade) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	outcome := "no"
	if m.Outcome {
		outcome = "yes"
	}
	header := []string{
		"trade_id", "market_id", "outcome",
		"yes_owner", "no_owner", "yes_price", "no_price",
		"amount", "executed_at",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, t := range trades {
		row := []string{
			t.ID, t.MarketID, outcome,
			t.YesOwner, t.NoOwner,
			strconv.FormatInt(t.YesPrice, 10),
			strconv.FormatInt(t.NoPrice, 10),
			strconv.FormatInt(t.Amount, 10),
			t.ExecutedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
