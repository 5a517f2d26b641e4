package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/darkbet/darkbet/internal/domain"
	"github.com/darkbet/darkbet/internal/notify"
)

// MarketService defines the engine methods the market handler requires.
type MarketService interface {
	CreateMarket(ctx context.Context, caller, question string, expiresAt time.Time) (domain.Market, error)
	Market(id string) (domain.Market, error)
	MarketIDs() []string
	Depth(marketID string) (domain.Depth, error)
	ResolveMarket(ctx context.Context, caller, marketID string, outcome bool) (domain.Market, error)
}

// Archiver uploads a settlement report after resolution. Optional.
type Archiver interface {
	Archive(ctx context.Context, m domain.Market) (string, error)
}

// Alerter pushes an operator alert when a market resolves. Optional.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketHandler serves market metadata, depth, creation, and resolution.
type MarketHandler struct {
	engine   MarketService
	depth    domain.DepthCache // optional read-through cache
	archiver Archiver          // optional
	alerts   Alerter           // optional
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler. depth, archiver, and alerts may
// be nil.
func NewMarketHandler(engine MarketService, depth domain.DepthCache, archiver Archiver, alerts Alerter, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		engine:   engine,
		depth:    depth,
		archiver: archiver,
		alerts:   alerts,
		logger:   logHandler(logger, "market"),
	}
}

// marketView is the public JSON shape of a market.
type marketView struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	ExpiresAt   time.Time `json:"expires_at"`
	Resolved    bool      `json:"resolved"`
	Outcome     *bool     `json:"outcome,omitempty"`
	TotalVolume int64     `json:"total_volume"`
	CreatedAt   time.Time `json:"created_at"`
}

func toMarketView(m domain.Market) marketView {
	v := marketView{
		ID:          m.ID,
		Question:    m.Question,
		ExpiresAt:   m.ExpiresAt,
		Resolved:    m.Resolved,
		TotalVolume: m.TotalVolume,
		CreatedAt:   m.CreatedAt,
	}
	if m.Resolved {
		outcome := m.Outcome
		v.Outcome = &outcome
	}
	return v
}

// ListMarkets returns every market in creation order.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	ids := h.engine.MarketIDs()
	markets := make([]marketView, 0, len(ids))
	for _, id := range ids {
		m, err := h.engine.Market(id)
		if err != nil {
			continue
		}
		markets = append(markets, toMarketView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// GetMarket returns one market by ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Market(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketView(m))
}

// GetDepth returns the anonymized book snapshot for a market. The cached
// snapshot is preferred; the engine is the fallback when the cache is cold.
// GET /api/markets/{id}/depth
func (h *MarketHandler) GetDepth(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if h.depth != nil {
		if d, err := h.depth.GetDepth(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}

	d, err := h.engine.Depth(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// createMarketRequest is the admin market-creation payload.
type createMarketRequest struct {
	Question  string    `json:"question"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateMarket creates a new market. Requires an admin caller.
// POST /api/admin/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.ExpiresAt.IsZero() || req.ExpiresAt.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "expires_at must be in the future")
		return
	}

	m, err := h.engine.CreateMarket(r.Context(), addr, req.Question, req.ExpiresAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "market created",
		slog.String("market_id", m.ID),
		slog.String("caller", addr),
	)
	writeJSON(w, http.StatusCreated, toMarketView(m))
}

// resolveRequest is the resolution payload.
type resolveRequest struct {
	Outcome bool `json:"outcome"`
}

// ResolveMarket resolves a market to its final outcome. The engine enforces
// that the caller is an authorized resolver.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	m, err := h.engine.ResolveMarket(r.Context(), addr, pathParam(r, "id"), req.Outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The settlement report is best effort; balances are already final.
	if h.archiver != nil {
		if _, err := h.archiver.Archive(r.Context(), m); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.ErrorContext(r.Context(), "settlement archive failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if h.alerts != nil {
		outcome := "NO"
		if m.Outcome {
			outcome = "YES"
		}
		msg := fmt.Sprintf("market %s resolved %s: %s", m.ID, outcome, m.Question)
		if err := h.alerts.Notify(r.Context(), notify.EventMarketResolved, "Market resolved", msg); err != nil {
			h.logger.ErrorContext(r.Context(), "resolution alert failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, toMarketView(m))
}
